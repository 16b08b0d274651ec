// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/yurucode/yurucode/lib/clock"
	"github.com/yurucode/yurucode/lib/stream"
)

// DefaultContextBudget is the assumed context window in tokens when
// the configuration does not set one.
const DefaultContextBudget = 200_000

// toolInputPreviewLimit bounds the tool-input preview stored in the
// tool-call log.
const toolInputPreviewLimit = 200

// Config holds interpreter settings.
type Config struct {
	// ContextBudgetTokens is the context window the usage percentage
	// is computed against. Zero selects DefaultContextBudget.
	ContextBudgetTokens int64

	// Thresholds sets the warning/recommend/force percentages for the
	// augmented context status. Zero value selects DefaultThresholds.
	Thresholds Thresholds

	// HistoryLimit, ToolLogLimit, and ErrorLimit bound the ledger's
	// retained collections. Zero selects the package defaults.
	HistoryLimit int
	ToolLogLimit int
	ErrorLimit   int

	// Clock is the time source. Nil selects the real clock.
	Clock clock.Clock

	// Logger receives interpreter-level diagnostics. Nil selects a
	// default stderr logger.
	Logger *slog.Logger
}

// Outcome reports what applying one record did to the ledger. The
// pipeline turns these into lifecycle events for the sink.
type Outcome struct {
	// BoundSessionID is non-empty when an init record bound (or
	// rebound) the session identifier.
	BoundSessionID string

	// TokensUpdated is true when the record carried a usage delta.
	TokensUpdated bool

	// Compaction is set when the record was the compaction signal and
	// the ledger was reset.
	Compaction *CompactionReport
}

// Interpreter applies decoded records to a ledger, in arrival order,
// on a single goroutine. It owns the ledger exclusively.
type Interpreter struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	ledger *Ledger
}

// NewInterpreter creates an interpreter with a fresh ledger for the
// given session identifier. The identifier may be empty -- the CLI
// assigns one on the first init record.
func NewInterpreter(sessionID string, config Config) *Interpreter {
	if config.ContextBudgetTokens <= 0 {
		config.ContextBudgetTokens = DefaultContextBudget
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = DefaultThresholds
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Interpreter{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		ledger: NewLedger(sessionID, config.HistoryLimit, config.ToolLogLimit, config.ErrorLimit, config.Clock.Now()),
	}
}

// Ledger returns the interpreter's ledger. Only the pipeline goroutine
// may touch it.
func (interpreter *Interpreter) Ledger() *Ledger {
	return interpreter.ledger
}

// Apply updates the ledger for one record and reports what changed.
// Opaque records never mutate the ledger. When the record is the
// compaction signal, the full compaction sequence -- capture, summary
// synthesis, atomic reset, record rewrite -- runs synchronously before
// Apply returns.
func (interpreter *Interpreter) Apply(record *stream.Record) Outcome {
	var outcome Outcome
	if record.Opaque {
		return outcome
	}
	now := interpreter.clock.Now()
	ledger := interpreter.ledger

	if record.IsInit() && record.Init != nil {
		outcome.BoundSessionID = interpreter.bindInit(record.Init)
	}

	switch record.Type {
	case "assistant":
		// An assistant record opens a turn.
		ledger.Streaming = true
		interpreter.appendMessage(record, now)

	case "user":
		interpreter.appendMessage(record, now)

	case "result":
		ledger.Streaming = false
		if result := record.Result; result != nil {
			ledger.TurnCount += result.NumTurns
			ledger.CostUSD += result.CostUSD
			ledger.DenialCount += int64(result.DenialCount)
		}

	case "system":
		if record.CompactBoundary != nil {
			ledger.UpstreamCompactions = append(ledger.UpstreamCompactions, UpstreamCompaction{
				Trigger:   record.CompactBoundary.Trigger,
				PreTokens: record.CompactBoundary.PreTokens,
				At:        now,
			})
			interpreter.logger.Info("upstream compaction boundary",
				"session_id", ledger.SessionID,
				"trigger", record.CompactBoundary.Trigger,
				"pre_tokens", record.CompactBoundary.PreTokens,
			)
		}
	}

	// Every usage-bearing record is a new additive increment,
	// whichever type carried it.
	if record.Usage != nil && !record.Usage.IsZero() {
		ledger.addUsage(record.Usage)
		outcome.TokensUpdated = true
	}

	if record.IsCompactionSignal() {
		report := interpreter.compact(record, now)
		outcome.Compaction = &report
	}

	return outcome
}

// Snapshot captures the current derived state. Safe to hand across
// goroutines -- it shares nothing with the ledger.
func (interpreter *Interpreter) Snapshot() Snapshot {
	return TakeSnapshot(interpreter.ledger, interpreter.config.ContextBudgetTokens, interpreter.config.Thresholds)
}

// Augment attaches the current derived-state snapshot to the record.
// No-op for opaque records.
func (interpreter *Interpreter) Augment(record *stream.Record) error {
	if record.Opaque {
		return nil
	}
	return Augment(record, interpreter.Snapshot())
}

// bindInit records init metadata and binds the session identifier.
// Returns the bound identifier when it changed.
func (interpreter *Interpreter) bindInit(initInfo *stream.Init) string {
	ledger := interpreter.ledger
	if initInfo.Model != "" {
		ledger.Model = initInfo.Model
	}
	if initInfo.WorkingDir != "" {
		ledger.WorkingDir = initInfo.WorkingDir
	}
	if initInfo.PermissionMode != "" {
		ledger.PermissionMode = initInfo.PermissionMode
	}
	if len(initInfo.Tools) > 0 {
		ledger.Tools = initInfo.Tools
	}
	if initInfo.SessionID == "" || initInfo.SessionID == ledger.SessionID {
		return ""
	}
	interpreter.logger.Info("session bound",
		"session_id", initInfo.SessionID,
		"previous", ledger.SessionID,
	)
	ledger.SessionID = initInfo.SessionID
	return initInfo.SessionID
}

// appendMessage records a user or assistant message: history entry,
// message count, and any tool invocations its content blocks carried.
func (interpreter *Interpreter) appendMessage(record *stream.Record, now time.Time) {
	ledger := interpreter.ledger
	ledger.MessageCount++

	message := record.Message
	if message == nil {
		return
	}
	ledger.appendHistory(HistoryEntry{
		Role:      message.Role,
		Text:      message.Text,
		ToolCalls: message.ToolCalls,
		At:        now,
	})
	for _, call := range message.ToolCalls {
		ledger.appendToolUse(ToolUse{
			Name:  call.Name,
			Input: previewToolInput(call.Input),
			At:    now,
		})
	}
}

// previewToolInput renders a bounded single-line preview of a tool
// input for the tool-call log.
func previewToolInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	preview := string(input)
	if len(preview) > toolInputPreviewLimit {
		preview = preview[:toolInputPreviewLimit]
	}
	return preview
}
