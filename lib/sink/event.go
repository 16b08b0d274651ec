// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"encoding/json"
	"time"

	"github.com/yurucode/yurucode/lib/session"
)

// EventType classifies lifecycle events.
type EventType string

const (
	// EventTypeSessionBound fires when an init record binds (or
	// rebinds) the session identifier.
	EventTypeSessionBound EventType = "session_bound"

	// EventTypeRecord carries one augmented record on its way to the
	// outgoing feed. Opaque lines are carried verbatim.
	EventTypeRecord EventType = "record"

	// EventTypeTokens fires when a record updated the token ledger.
	EventTypeTokens EventType = "tokens"

	// EventTypeCompaction fires when the inferred compaction signal
	// reset the ledger.
	EventTypeCompaction EventType = "compaction"

	// EventTypeProcessExited fires when the subprocess terminates,
	// cleanly or otherwise.
	EventTypeProcessExited EventType = "process_exited"

	// EventTypeError is a wrapper-level error: stderr noise, decode
	// degradation, buffer overflow, liveness timeout.
	EventTypeError EventType = "error"
)

// Event is one entry in the lifecycle feed. Each event carries a
// timestamp, a type, the owning session, and type-specific data.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	// Record is the encoded outgoing line for EventTypeRecord events.
	// Already augmented; opaque lines appear as JSON strings.
	Record json.RawMessage `json:"record,omitempty"`

	// Snapshot is the session's derived state at emission time. Set
	// on every event type except EventTypeRecord, where the snapshot
	// already rides inside the record.
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`

	// Compaction is set for EventTypeCompaction events.
	Compaction *session.CompactionReport `json:"compaction,omitempty"`

	// Exit is set for EventTypeProcessExited events.
	Exit *ExitEvent `json:"exit,omitempty"`

	// Error is set for EventTypeError events.
	Error *ErrorEvent `json:"error,omitempty"`
}

// ExitEvent records subprocess termination.
type ExitEvent struct {
	// ExitCode is the subprocess exit status. -1 when the process was
	// killed by a signal.
	ExitCode int `json:"exit_code"`

	// Forced is true when the wrapper killed the process (shutdown
	// grace expired or liveness timeout).
	Forced bool `json:"forced,omitempty"`

	// Duration is how long the process ran.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// ErrorEvent records a wrapper-level fault.
type ErrorEvent struct {
	// Kind names the fault class: "stderr", "protocol_degraded",
	// "buffer_overflow", "stream_timeout", "subprocess".
	Kind string `json:"kind"`

	// Message is the fault detail.
	Message string `json:"message"`
}
