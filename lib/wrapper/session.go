// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/yurucode/yurucode/lib/clock"
	"github.com/yurucode/yurucode/lib/metrics"
	"github.com/yurucode/yurucode/lib/session"
	"github.com/yurucode/yurucode/lib/sink"
	"github.com/yurucode/yurucode/lib/stream"
)

// SessionConfig configures one pipeline.
type SessionConfig struct {
	// SessionID seeds the ledger. Empty mints a synthetic identifier;
	// either way the CLI's init record rebinds it.
	SessionID string

	// Interpreter carries budget, thresholds, and retention limits.
	// Its Clock and Logger fields are overwritten with the ones below.
	Interpreter session.Config

	// FragmentLimit bounds a single reassembled line. Zero selects
	// stream.DefaultFragmentLimit.
	FragmentLimit int

	// Output receives every augmented outgoing line, newline
	// terminated. Nil discards the feed (sinks still see it).
	Output io.Writer

	// Sink receives lifecycle events. Nil drops them.
	Sink sink.Sink

	// Metrics receives counters. Nil disables metrics.
	Metrics *metrics.Metrics

	// Checkpoint, when set, persists the ledger after every
	// compaction, so the pre-compaction accounting survives a crash
	// between compaction and session end.
	Checkpoint func(ledger session.Ledger) error

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is the per-subprocess pipeline: reassemble, decode,
// interpret, augment, emit. All methods are safe for concurrent use;
// internally one mutex serializes them, so records are processed in
// arrival order.
type Session struct {
	mutex       sync.Mutex
	buffer      *stream.LineBuffer
	decoder     *stream.Decoder
	interpreter *session.Interpreter
	output      io.Writer
	events      sink.Sink
	metrics     *metrics.Metrics
	clock       clock.Clock
	logger      *slog.Logger

	checkpoint func(ledger session.Ledger) error

	lastOutput       time.Time
	degradedReported bool
}

// NewSession builds a pipeline. See SessionConfig for defaults.
func NewSession(config SessionConfig) *Session {
	if config.SessionID == "" {
		config.SessionID = NewSyntheticSessionID()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Interpreter.Clock = config.Clock
	config.Interpreter.Logger = config.Logger

	return &Session{
		buffer:      stream.NewLineBuffer(config.FragmentLimit),
		decoder:     stream.NewDecoder(),
		interpreter: session.NewInterpreter(config.SessionID, config.Interpreter),
		output:      config.Output,
		events:      config.Sink,
		metrics:     config.Metrics,
		checkpoint:  config.Checkpoint,
		clock:       config.Clock,
		logger:      config.Logger,
		lastOutput:  config.Clock.Now(),
	}
}

// ID returns the current session identifier.
func (pipeline *Session) ID() string {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	return pipeline.interpreter.Ledger().SessionID
}

// Stats returns the session's derived state.
func (pipeline *Session) Stats() session.Snapshot {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	return pipeline.interpreter.Snapshot()
}

// LedgerCopy returns a copy of the ledger, for persistence. The copy
// shares slice backing with the live ledger; treat it as read-only.
func (pipeline *Session) LedgerCopy() session.Ledger {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	return *pipeline.interpreter.Ledger()
}

// LastOutput returns when the subprocess last produced stdout bytes.
// The liveness check compares this against the idle timeout.
func (pipeline *Session) LastOutput() time.Time {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	return pipeline.lastOutput
}

// Streaming reports whether the session is inside an open turn.
func (pipeline *Session) Streaming() bool {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	return pipeline.interpreter.Ledger().Streaming
}

// ProcessChunk feeds one stdout read into the pipeline. Chunk
// boundaries carry no meaning; any split of the byte stream yields
// the same records.
func (pipeline *Session) ProcessChunk(chunk []byte) {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()

	pipeline.lastOutput = pipeline.clock.Now()

	lines, err := pipeline.buffer.Feed(chunk)
	if err != nil {
		if errors.Is(err, stream.ErrBufferOverflow) {
			pipeline.metrics.BufferOverflow()
		}
		pipeline.reportFault("buffer_overflow", err)
	}
	for _, line := range lines {
		pipeline.processLine(line)
	}
}

// Flush drains any final unterminated line after stdout closes.
func (pipeline *Session) Flush() {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	if line, ok := pipeline.buffer.Flush(); ok {
		pipeline.processLine(line)
	}
}

// NoteStderr records one line of subprocess stderr in the session's
// error log and warns through the feed.
func (pipeline *Session) NoteStderr(line string) {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	pipeline.interpreter.Ledger().RecordError(line)
	pipeline.reportFault("stderr", errors.New(line))
}

// NoteExit emits the process-exited event.
func (pipeline *Session) NoteExit(code int, forced bool, duration time.Duration) {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	pipeline.emit(sink.Event{
		Type: sink.EventTypeProcessExited,
		Exit: &sink.ExitEvent{ExitCode: code, Forced: forced, Duration: duration},
	})
	outcome := "clean"
	switch {
	case forced:
		outcome = "killed"
	case code != 0:
		outcome = "error"
	}
	pipeline.metrics.ProcessExited(outcome)
}

// NoteTimeout records a liveness kill in the error log and feed.
func (pipeline *Session) NoteTimeout(idle time.Duration) {
	pipeline.mutex.Lock()
	defer pipeline.mutex.Unlock()
	err := fmt.Errorf("no output for %s: %w", idle, ErrStreamTimeout)
	pipeline.interpreter.Ledger().RecordError(err.Error())
	pipeline.reportFault("stream_timeout", err)
}

func (pipeline *Session) processLine(line string) {
	record, err := pipeline.decoder.Decode(line)
	if err != nil {
		// Decode only errors at the degradation threshold; report it
		// once per session and keep flowing.
		if errors.Is(err, stream.ErrProtocolDegraded) && !pipeline.degradedReported {
			pipeline.degradedReported = true
			pipeline.reportFault("protocol_degraded", err)
		}
	}
	if record.Opaque {
		pipeline.metrics.DecodeFailure()
		pipeline.metrics.RecordProcessed("opaque")
	} else {
		pipeline.metrics.RecordProcessed(record.Type)
		pipeline.degradedReported = false
	}

	outcome := pipeline.interpreter.Apply(record)
	if outcome.TokensUpdated && record.Usage != nil {
		usage := record.Usage
		pipeline.metrics.AddTokens(usage.InputTokens, usage.OutputTokens,
			usage.CacheCreationTokens, usage.CacheReadTokens)
	}
	if outcome.Compaction != nil {
		pipeline.metrics.CompactionObserved("inferred", outcome.Compaction.SavedTokens)
	}
	if record.Type == "system" && record.Subtype == "compact_boundary" {
		pipeline.metrics.CompactionObserved("upstream", 0)
	}

	if err := pipeline.interpreter.Augment(record); err != nil {
		pipeline.logger.Warn("augmenting record", "error", err)
	}
	pipeline.forward(record)

	if outcome.BoundSessionID != "" {
		snapshot := pipeline.interpreter.Snapshot()
		pipeline.emit(sink.Event{Type: sink.EventTypeSessionBound, Snapshot: &snapshot})
	}
	if outcome.TokensUpdated {
		snapshot := pipeline.interpreter.Snapshot()
		pipeline.emit(sink.Event{Type: sink.EventTypeTokens, Snapshot: &snapshot})
	}
	if outcome.Compaction != nil {
		snapshot := pipeline.interpreter.Snapshot()
		pipeline.emit(sink.Event{
			Type:       sink.EventTypeCompaction,
			Snapshot:   &snapshot,
			Compaction: outcome.Compaction,
		})
		if pipeline.checkpoint != nil {
			if err := pipeline.checkpoint(*pipeline.interpreter.Ledger()); err != nil {
				pipeline.logger.Warn("checkpointing after compaction", "error", err)
			}
		}
	}
}

// forward writes the augmented record to the outgoing feed and the
// record event stream. Opaque lines pass through verbatim.
func (pipeline *Session) forward(record *stream.Record) {
	encoded, err := record.Encode()
	if err != nil {
		pipeline.logger.Warn("encoding outgoing record", "error", err)
		return
	}
	if pipeline.output != nil {
		if _, err := pipeline.output.Write(append(encoded, '\n')); err != nil {
			pipeline.logger.Warn("writing outgoing record", "error", err)
		}
	}

	payload := json.RawMessage(encoded)
	if record.Opaque {
		// Opaque lines are not valid JSON; carry them as a JSON
		// string in the event feed.
		if quoted, err := json.Marshal(record.Line); err == nil {
			payload = quoted
		}
	}
	pipeline.emit(sink.Event{Type: sink.EventTypeRecord, Record: payload})
}

func (pipeline *Session) reportFault(kind string, fault error) {
	pipeline.logger.Warn("session fault", "kind", kind, "error", fault,
		"session_id", pipeline.interpreter.Ledger().SessionID)
	pipeline.emit(sink.Event{
		Type:  sink.EventTypeError,
		Error: &sink.ErrorEvent{Kind: kind, Message: fault.Error()},
	})
}

// emit stamps and delivers one event. Sink failures are logged, never
// propagated; a broken sink must not stall the pipeline.
func (pipeline *Session) emit(event sink.Event) {
	if pipeline.events == nil {
		return
	}
	event.Timestamp = pipeline.clock.Now()
	event.SessionID = pipeline.interpreter.Ledger().SessionID
	if err := pipeline.events.Emit(event); err != nil {
		pipeline.logger.Warn("emitting event", "type", event.Type, "error", err)
	}
}
