// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/yurucode/yurucode/lib/stream"
)

// Default bounds for the ledger's retained collections. History feeds
// the compaction summary; keeping it small bounds both memory and the
// summary's look-back window.
const (
	DefaultHistoryLimit = 50
	DefaultToolLogLimit = 200
	DefaultErrorLimit   = 100
)

// HistoryEntry is one retained message: role, extracted text, and any
// tool calls it carried.
type HistoryEntry struct {
	Role      string            `json:"role"`
	Text      string            `json:"text,omitempty"`
	ToolCalls []stream.ToolCall `json:"tool_calls,omitempty"`
	At        time.Time         `json:"at"`
}

// ToolUse is one entry in the ledger's tool-call log.
type ToolUse struct {
	Name  string    `json:"name"`
	Input string    `json:"input,omitempty"`
	At    time.Time `json:"at"`
}

// UpstreamCompaction records a compact_boundary marker emitted by the
// CLI itself, as opposed to the inferred zero-usage signal that resets
// the ledger.
type UpstreamCompaction struct {
	Trigger   string    `json:"trigger"`
	PreTokens int64     `json:"pre_tokens"`
	At        time.Time `json:"at"`
}

// Ledger is the wrapper's authoritative per-session accounting record.
// It is exclusively owned by one session's pipeline and mutated only
// by the interpreter, on a single goroutine; reads from other
// goroutines must go through a Snapshot taken on the pipeline
// goroutine.
//
// Invariant: TotalTokens() == InputTokens + OutputTokens at all times.
// Cache-creation tokens are folded into InputTokens (and also tracked
// separately for reporting); cache-read tokens are never part of the
// total. All counters reset together, atomically, on compaction.
type Ledger struct {
	SessionID string

	// Init metadata, captured from the init record.
	Model          string
	WorkingDir     string
	PermissionMode string
	Tools          []string

	// Token counters. Monotonic between compactions.
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64

	MessageCount  int64
	ToolCallCount int64
	TurnCount     int64
	CostUSD       float64
	DenialCount   int64
	UsageRecords  int64

	Streaming bool

	History             []HistoryEntry
	ToolLog             []ToolUse
	Errors              []string
	UpstreamCompactions []UpstreamCompaction

	CompactionCount  int64
	LastCompaction   time.Time
	SavedTokensTotal int64

	CreatedAt time.Time

	historyLimit int
	toolLogLimit int
	errorLimit   int
}

// NewLedger creates a ledger for the given session identifier.
// Non-positive limits select the defaults.
func NewLedger(sessionID string, historyLimit, toolLogLimit, errorLimit int, createdAt time.Time) *Ledger {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if toolLogLimit <= 0 {
		toolLogLimit = DefaultToolLogLimit
	}
	if errorLimit <= 0 {
		errorLimit = DefaultErrorLimit
	}
	return &Ledger{
		SessionID:    sessionID,
		CreatedAt:    createdAt,
		historyLimit: historyLimit,
		toolLogLimit: toolLogLimit,
		errorLimit:   errorLimit,
	}
}

// TotalTokens is the session total: input (including cache creation)
// plus output. Cache reads are excluded.
func (ledger *Ledger) TotalTokens() int64 {
	return ledger.InputTokens + ledger.OutputTokens
}

// addUsage applies one usage delta. Each usage-bearing record is a new
// additive increment; there is no deduplication key on the wire, so a
// redelivered record would double-count (documented protocol gap).
func (ledger *Ledger) addUsage(usage *stream.Usage) {
	ledger.InputTokens += usage.InputTokens + usage.CacheCreationTokens
	ledger.OutputTokens += usage.OutputTokens
	ledger.CacheCreationTokens += usage.CacheCreationTokens
	ledger.CacheReadTokens += usage.CacheReadTokens
	ledger.UsageRecords++
}

// appendHistory retains a message, evicting the oldest past the bound.
func (ledger *Ledger) appendHistory(entry HistoryEntry) {
	ledger.History = append(ledger.History, entry)
	if len(ledger.History) > ledger.historyLimit {
		ledger.History = ledger.History[len(ledger.History)-ledger.historyLimit:]
	}
}

// appendToolUse logs a tool invocation, bounded.
func (ledger *Ledger) appendToolUse(use ToolUse) {
	ledger.ToolCallCount++
	ledger.ToolLog = append(ledger.ToolLog, use)
	if len(ledger.ToolLog) > ledger.toolLogLimit {
		ledger.ToolLog = ledger.ToolLog[len(ledger.ToolLog)-ledger.toolLogLimit:]
	}
}

// RecordError appends one line to the bounded error log. The pipeline
// calls this for stderr output and for wrapper-level diagnostics.
func (ledger *Ledger) RecordError(message string) {
	ledger.Errors = append(ledger.Errors, message)
	if len(ledger.Errors) > ledger.errorLimit {
		ledger.Errors = ledger.Errors[len(ledger.Errors)-ledger.errorLimit:]
	}
}

// resetForCompaction zeroes every token counter and clears the message
// history. Callers must pair this with the compaction-count increment
// in the same synchronous step -- no reader may observe one without the
// other.
func (ledger *Ledger) resetForCompaction() {
	ledger.InputTokens = 0
	ledger.OutputTokens = 0
	ledger.CacheCreationTokens = 0
	ledger.CacheReadTokens = 0
	ledger.History = nil
}
