// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink delivers wrapper lifecycle events to consumers.
//
// The pipeline emits an [Event] for everything observable about a
// session: binding, token updates, compactions, subprocess exit, and
// every augmented record on its way downstream. A [Sink] is any
// destination for that feed:
//
//   - [LogSink] renders events through a structured logger.
//   - [FileSink] appends events as JSONL, synced per write so the
//     file is complete even after a crash.
//   - [WebSocketSink] broadcasts events to connected clients, for
//     frontends that render the session live.
//   - [MultiSink] fans out to several sinks; one failing sink never
//     blocks the others.
//
// Sinks must tolerate concurrent Emit calls.
package sink
