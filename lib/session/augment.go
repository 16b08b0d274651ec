// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/yurucode/yurucode/lib/stream"
)

// Thresholds are the context-usage percentages at which the augmented
// status escalates. The defaults follow the CLI's own behavior of
// keeping a large free buffer: warn at 55%, recommend compaction at
// 60%, expect a forced compaction at 65%.
type Thresholds struct {
	WarnPercent      float64
	RecommendPercent float64
	ForcePercent     float64
}

// DefaultThresholds is the standard escalation ladder.
var DefaultThresholds = Thresholds{
	WarnPercent:      55,
	RecommendPercent: 60,
	ForcePercent:     65,
}

// Context-status levels, in escalation order.
const (
	ContextOK          = "ok"
	ContextWarning     = "warning"
	ContextRecommended = "compaction_recommended"
	ContextForced      = "compaction_imminent"
)

// TokenCounts is the token section of a snapshot.
type TokenCounts struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheCreation int64 `json:"cache_creation,omitempty"`
	CacheRead     int64 `json:"cache_read,omitempty"`
	Total         int64 `json:"total"`
}

// ContextStatus reports usage against the configured budget.
type ContextStatus struct {
	BudgetTokens          int64   `json:"budget_tokens"`
	UsedPercent           float64 `json:"used_percent"`
	Level                 string  `json:"level"`
	CompactionRecommended bool    `json:"compaction_recommended"`
}

// CompactionStatus summarizes the session's compaction history.
type CompactionStatus struct {
	Count            int64      `json:"count"`
	LastAt           *time.Time `json:"last_at,omitempty"`
	SavedTokensTotal int64      `json:"saved_tokens_total,omitempty"`
	Upstream         int        `json:"upstream,omitempty"`
}

// Snapshot is the read-only derived-state view attached to every
// outgoing record and carried on lifecycle events. It shares no
// memory with the ledger.
type Snapshot struct {
	SessionID  string           `json:"session_id,omitempty"`
	Model      string           `json:"model,omitempty"`
	Streaming  bool             `json:"streaming"`
	Tokens     TokenCounts      `json:"tokens"`
	Context    ContextStatus    `json:"context"`
	Compaction CompactionStatus `json:"compaction"`
	Messages   int64            `json:"messages"`
	ToolCalls  int64            `json:"tool_calls"`
	Turns      int64            `json:"turns,omitempty"`
	CostUSD    float64          `json:"cost_usd,omitempty"`
	Errors     int              `json:"errors,omitempty"`
}

// TakeSnapshot derives a snapshot from the ledger. Pure read -- the
// ledger is never mutated.
func TakeSnapshot(ledger *Ledger, budgetTokens int64, thresholds Thresholds) Snapshot {
	if budgetTokens <= 0 {
		budgetTokens = DefaultContextBudget
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}

	usedPercent := float64(ledger.TotalTokens()) / float64(budgetTokens) * 100

	level := ContextOK
	switch {
	case usedPercent >= thresholds.ForcePercent:
		level = ContextForced
	case usedPercent >= thresholds.RecommendPercent:
		level = ContextRecommended
	case usedPercent >= thresholds.WarnPercent:
		level = ContextWarning
	}

	snapshot := Snapshot{
		SessionID: ledger.SessionID,
		Model:     ledger.Model,
		Streaming: ledger.Streaming,
		Tokens: TokenCounts{
			Input:         ledger.InputTokens,
			Output:        ledger.OutputTokens,
			CacheCreation: ledger.CacheCreationTokens,
			CacheRead:     ledger.CacheReadTokens,
			Total:         ledger.TotalTokens(),
		},
		Context: ContextStatus{
			BudgetTokens:          budgetTokens,
			UsedPercent:           usedPercent,
			Level:                 level,
			CompactionRecommended: usedPercent >= thresholds.RecommendPercent,
		},
		Compaction: CompactionStatus{
			Count:            ledger.CompactionCount,
			SavedTokensTotal: ledger.SavedTokensTotal,
			Upstream:         len(ledger.UpstreamCompactions),
		},
		Messages:  ledger.MessageCount,
		ToolCalls: ledger.ToolCallCount,
		Turns:     ledger.TurnCount,
		CostUSD:   ledger.CostUSD,
		Errors:    len(ledger.Errors),
	}
	if !ledger.LastCompaction.IsZero() {
		lastAt := ledger.LastCompaction
		snapshot.Compaction.LastAt = &lastAt
	}
	return snapshot
}

// Augment attaches the snapshot to a decoded record under the
// "wrapper" key. It runs last in the pipeline, on every non-opaque
// record.
func Augment(record *stream.Record, snapshot Snapshot) error {
	return record.Attach("wrapper", snapshot)
}
