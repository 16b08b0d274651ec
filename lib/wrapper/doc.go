// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package wrapper supervises a Claude CLI subprocess and turns its
// stream-json stdout into an accounted, augmented event feed.
//
// The pieces, in data-flow order:
//
//   - [LaunchSpec] describes how to spawn the CLI (binary, arguments,
//     working directory, environment). Spawn failures are classified
//     into the package's error taxonomy ([ErrBinaryNotFound],
//     [ErrPermissionDenied], [ErrResourceExhausted]).
//
//   - [Session] is the per-subprocess pipeline: chunk reassembly
//     (lib/stream.LineBuffer), record decoding (lib/stream.Decoder),
//     ledger interpretation (lib/session.Interpreter), and
//     augmentation, feeding a lib/sink destination. One goroutine
//     drives it; nothing in it needs locks.
//
//   - [Supervisor] owns the subprocess: it spawns, drains stdout and
//     stderr concurrently, runs periodic liveness checks against the
//     session's last-output time, and stops the process gracefully
//     (SIGTERM, bounded grace, SIGKILL).
//
//   - [Manager] runs several supervisors with independent sessions.
//
// The wrapper never interprets conversation content. It accounts,
// augments, and passes through; every line in is a line out.
package wrapper
