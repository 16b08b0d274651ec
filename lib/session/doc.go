// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the wrapper's per-session accounting state and
// the protocol interpreter that maintains it.
//
//   - Ledger: token counters by category, message and tool-call
//     counts, a bounded history of recent messages, compaction history,
//     and a bounded error log. One ledger per session identifier,
//     never shared across sessions.
//
//   - Interpreter: the Idle ⇄ Streaming state machine. It applies
//     decoded records to the ledger in arrival order and detects the
//     compaction signal (a result record with empty text and zero
//     usage). All mutation happens on the caller's goroutine -- the
//     strict per-session ordering is what makes the compaction reset
//     atomic without locking.
//
//   - Compaction handling: when the signal fires, the interpreter
//     synthesizes a summary from the bounded history, then zeroes the
//     streaming token counters and clears the history as one unit,
//     and rewrites the outgoing record's result text with the summary.
//     Lifetime counters (messages, tool calls, turns, cost) survive a
//     compaction; only the context-window accounting resets.
//
//   - Augment: attaches a read-only derived-state snapshot to every
//     decoded record, last in the pipeline. It never mutates the
//     ledger.
package session
