// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/yurucode/yurucode/lib/clock"
)

func TestCompactionResetsLedgerAtomically(t *testing.T) {
	fake := clock.NewFake()
	interpreter := NewInterpreter("sess-1", Config{Clock: fake})

	setup := []string{
		`{"type":"user","message":{"content":"please refactor the parser module"}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"on it"},{"type":"tool_use","id":"t1","name":"Edit","input":{"file_path":"parser.go"}}],"usage":{"input_tokens":40000,"output_tokens":10000}}}`,
		`{"type":"assistant","message":{"content":"done","usage":{"input_tokens":30000,"output_tokens":20000}}}`,
	}
	for _, line := range setup {
		interpreter.Apply(decodeLine(t, line))
	}
	if got := interpreter.Ledger().TotalTokens(); got != 100000 {
		t.Fatalf("pre-compaction total = %d, want 100000", got)
	}

	signal := decodeLine(t, `{"type":"result","result":"","usage":{"input_tokens":0,"output_tokens":0}}`)
	outcome := interpreter.Apply(signal)

	if outcome.Compaction == nil {
		t.Fatal("expected a compaction report")
	}
	if outcome.Compaction.SavedTokens != 100000 {
		t.Errorf("saved tokens = %d, want 100000", outcome.Compaction.SavedTokens)
	}
	if outcome.Compaction.Summary == "" {
		t.Error("expected a non-empty synthesized summary")
	}

	ledger := interpreter.Ledger()
	if ledger.TotalTokens() != 0 || ledger.InputTokens != 0 || ledger.OutputTokens != 0 {
		t.Errorf("token counters not zeroed: input=%d output=%d", ledger.InputTokens, ledger.OutputTokens)
	}
	if len(ledger.History) != 0 {
		t.Errorf("history not cleared: %d entries", len(ledger.History))
	}
	if ledger.CompactionCount != 1 {
		t.Errorf("compaction count = %d, want 1", ledger.CompactionCount)
	}
	if ledger.SavedTokensTotal != 100000 {
		t.Errorf("saved tokens total = %d, want 100000", ledger.SavedTokensTotal)
	}
	if !ledger.LastCompaction.Equal(fake.Now()) {
		t.Errorf("last compaction = %v, want %v", ledger.LastCompaction, fake.Now())
	}
}

func TestCompactionRewritesSignalRecord(t *testing.T) {
	interpreter := newTestInterpreter(t)
	interpreter.Apply(decodeLine(t, `{"type":"user","message":{"content":"investigate the reconnect logic"}}`))
	interpreter.Apply(decodeLine(t, `{"type":"assistant","message":{"content":"looking","usage":{"input_tokens":500,"output_tokens":100}}}`))

	signal := decodeLine(t, `{"type":"result","subtype":"success","result":"","session_id":"sess-1"}`)
	interpreter.Apply(signal)
	if err := interpreter.Augment(signal); err != nil {
		t.Fatalf("augment: %v", err)
	}

	encoded, err := signal.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded struct {
		Type       string `json:"type"`
		Subtype    string `json:"subtype"`
		SessionID  string `json:"session_id"`
		Result     string `json:"result"`
		Compaction struct {
			SavedTokens int64  `json:"saved_tokens"`
			Summary     string `json:"summary"`
		} `json:"compaction"`
		Wrapper struct {
			Compaction struct {
				Count int64 `json:"count"`
			} `json:"compaction"`
			Tokens struct {
				Total int64 `json:"total"`
			} `json:"tokens"`
		} `json:"wrapper"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal rewritten record: %v", err)
	}

	if decoded.Result == "" || !strings.Contains(decoded.Result, "compacted") {
		t.Errorf("rewritten result = %q, want synthesized summary", decoded.Result)
	}
	if decoded.Compaction.SavedTokens != 600 {
		t.Errorf("compaction.saved_tokens = %d, want 600", decoded.Compaction.SavedTokens)
	}
	if decoded.Compaction.Summary != decoded.Result {
		t.Error("compaction.summary should match the rewritten result text")
	}
	if decoded.Wrapper.Compaction.Count != 1 {
		t.Errorf("wrapper.compaction.count = %d, want 1", decoded.Wrapper.Compaction.Count)
	}
	if decoded.Wrapper.Tokens.Total != 0 {
		t.Errorf("wrapper.tokens.total = %d, want 0 after reset", decoded.Wrapper.Tokens.Total)
	}
	// Untouched fields survive the rewrite.
	if decoded.Subtype != "success" || decoded.SessionID != "sess-1" {
		t.Errorf("original fields lost: subtype=%q session_id=%q", decoded.Subtype, decoded.SessionID)
	}
}

func TestCompactionSignalNotTriggeredByNormalResults(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"result with text", `{"type":"result","result":"all done","usage":{"input_tokens":0,"output_tokens":0}}`},
		{"result with usage", `{"type":"result","result":"","usage":{"input_tokens":12,"output_tokens":3}}`},
		{"error result", `{"type":"result","result":"","is_error":true}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			interpreter := newTestInterpreter(t)
			interpreter.Apply(decodeLine(t, `{"type":"assistant","message":{"content":"a","usage":{"input_tokens":10,"output_tokens":5}}}`))

			outcome := interpreter.Apply(decodeLine(t, test.line))
			if outcome.Compaction != nil {
				t.Errorf("%q misclassified as compaction signal", test.line)
			}
			if interpreter.Ledger().CompactionCount != 0 {
				t.Error("compaction count incremented for a normal result")
			}
		})
	}
}

func TestSynthesizedSummaryNamesToolsAndTopics(t *testing.T) {
	interpreter := newTestInterpreter(t)
	lines := []string{
		`{"type":"user","message":{"content":"debug the websocket reconnect backoff"}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"conn.go"}}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t2","name":"Edit","input":{"file_path":"conn.go"}}]}}`,
		`{"type":"user","message":{"content":"now test the reconnect path"}}`,
	}
	for _, line := range lines {
		interpreter.Apply(decodeLine(t, line))
	}

	summary := synthesizeSummary(interpreter.Ledger())
	for _, want := range []string{"reconnect", "Read", "Edit", "2 call(s)"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}
}

func TestSynthesizedSummaryDeterministic(t *testing.T) {
	build := func() string {
		interpreter := newTestInterpreter(t)
		interpreter.Apply(decodeLine(t, `{"type":"user","message":{"content":"alpha beta gamma delta"}}`))
		interpreter.Apply(decodeLine(t, `{"type":"user","message":{"content":"delta gamma beta alpha"}}`))
		return synthesizeSummary(interpreter.Ledger())
	}
	first, second := build(), build()
	if first != second {
		t.Errorf("summary not deterministic:\n%q\n%q", first, second)
	}
}

func TestRepeatedCompactionsAccumulateSavedTokens(t *testing.T) {
	interpreter := newTestInterpreter(t)

	for round := 1; round <= 3; round++ {
		interpreter.Apply(decodeLine(t, `{"type":"assistant","message":{"content":"work","usage":{"input_tokens":1000,"output_tokens":500}}}`))
		outcome := interpreter.Apply(decodeLine(t, `{"type":"result","result":""}`))
		if outcome.Compaction == nil {
			t.Fatalf("round %d: expected compaction", round)
		}
		if outcome.Compaction.SavedTokens != 1500 {
			t.Errorf("round %d: saved = %d, want 1500", round, outcome.Compaction.SavedTokens)
		}
	}

	ledger := interpreter.Ledger()
	if ledger.CompactionCount != 3 {
		t.Errorf("compaction count = %d, want 3", ledger.CompactionCount)
	}
	if ledger.SavedTokensTotal != 4500 {
		t.Errorf("saved tokens total = %d, want 4500", ledger.SavedTokensTotal)
	}
}
