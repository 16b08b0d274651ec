// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"errors"
	"log/slog"
)

// Sink is a destination for lifecycle events.
type Sink interface {
	// Emit delivers one event. Implementations must be safe for
	// concurrent use.
	Emit(event Event) error

	// Close releases the sink's resources. No Emit may follow Close.
	Close() error
}

// LogSink renders events through a structured logger. Record events
// are logged at debug level to keep the feed out of normal logs;
// everything else at info, errors at warn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger. A nil logger
// selects slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (sink *LogSink) Emit(event Event) error {
	attributes := []any{"session_id", event.SessionID}
	switch event.Type {
	case EventTypeRecord:
		sink.logger.Debug("record", attributes...)
	case EventTypeSessionBound:
		sink.logger.Info("session bound", attributes...)
	case EventTypeTokens:
		if event.Snapshot != nil {
			attributes = append(attributes,
				"total_tokens", event.Snapshot.Tokens.Total,
				"context_level", event.Snapshot.Context.Level,
			)
		}
		sink.logger.Info("tokens updated", attributes...)
	case EventTypeCompaction:
		if event.Compaction != nil {
			attributes = append(attributes, "saved_tokens", event.Compaction.SavedTokens)
		}
		sink.logger.Info("context compacted", attributes...)
	case EventTypeProcessExited:
		if event.Exit != nil {
			attributes = append(attributes,
				"exit_code", event.Exit.ExitCode,
				"forced", event.Exit.Forced,
			)
		}
		sink.logger.Info("process exited", attributes...)
	case EventTypeError:
		if event.Error != nil {
			attributes = append(attributes,
				"kind", event.Error.Kind,
				"error", event.Error.Message,
			)
		}
		sink.logger.Warn("wrapper error", attributes...)
	default:
		sink.logger.Info(string(event.Type), attributes...)
	}
	return nil
}

// Close implements Sink.
func (sink *LogSink) Close() error { return nil }

// MultiSink fans events out to several sinks. Emit tries every sink
// and joins the failures, so one broken destination never starves the
// rest of the feed.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	combined := make([]Sink, 0, len(sinks))
	for _, entry := range sinks {
		if entry != nil {
			combined = append(combined, entry)
		}
	}
	return &MultiSink{sinks: combined}
}

// Emit implements Sink.
func (sink *MultiSink) Emit(event Event) error {
	var failures []error
	for _, entry := range sink.sinks {
		if err := entry.Emit(event); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// Close implements Sink. Every sink is closed even when earlier ones
// fail.
func (sink *MultiSink) Close() error {
	var failures []error
	for _, entry := range sink.sinks {
		if err := entry.Close(); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
