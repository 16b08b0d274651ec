// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/yurucode/yurucode/lib/clock"
	"github.com/yurucode/yurucode/lib/session"
	"github.com/yurucode/yurucode/lib/sink"
)

// captureSink records every emitted event for assertions.
type captureSink struct {
	mutex  sync.Mutex
	events []sink.Event
}

func (capture *captureSink) Emit(event sink.Event) error {
	capture.mutex.Lock()
	defer capture.mutex.Unlock()
	capture.events = append(capture.events, event)
	return nil
}

func (capture *captureSink) Close() error { return nil }

func (capture *captureSink) ofType(eventType sink.EventType) []sink.Event {
	capture.mutex.Lock()
	defer capture.mutex.Unlock()
	var matched []sink.Event
	for _, event := range capture.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newTestPipeline(t *testing.T) (*Session, *captureSink, *bytes.Buffer) {
	t.Helper()
	capture := &captureSink{}
	var output bytes.Buffer
	pipeline := NewSession(SessionConfig{
		Output: &output,
		Sink:   capture,
		Clock:  clock.NewFake(),
	})
	return pipeline, capture, &output
}

func TestPipelineAugmentsEveryDecodedRecord(t *testing.T) {
	pipeline, _, output := newTestPipeline(t)

	pipeline.ProcessChunk([]byte(`{"type":"assistant","message":{"content":"hi","usage":{"input_tokens":100,"output_tokens":50}}}` + "\n"))

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("output lines = %d, want 1", len(lines))
	}
	var decoded struct {
		Type    string `json:"type"`
		Wrapper struct {
			Tokens struct {
				Total int64 `json:"total"`
			} `json:"tokens"`
		} `json:"wrapper"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("outgoing line not JSON: %v", err)
	}
	if decoded.Type != "assistant" {
		t.Errorf("type = %q", decoded.Type)
	}
	if decoded.Wrapper.Tokens.Total != 150 {
		t.Errorf("wrapper.tokens.total = %d, want 150", decoded.Wrapper.Tokens.Total)
	}
}

func TestPipelineIsChunkingInvariant(t *testing.T) {
	input := `{"type":"init","data":{"session_id":"abc123"}}` + "\n" +
		`{"type":"assistant","message":{"content":"a","usage":{"input_tokens":7,"output_tokens":3}}}` + "\n"

	runChunked := func(size int) string {
		pipeline, _, output := newTestPipeline(t)
		data := []byte(input)
		for start := 0; start < len(data); start += size {
			end := start + size
			if end > len(data) {
				end = len(data)
			}
			pipeline.ProcessChunk(data[start:end])
		}
		pipeline.Flush()
		return output.String()
	}

	whole := runChunked(len(input))
	byteAtATime := runChunked(1)
	if whole != byteAtATime {
		t.Errorf("chunking changed output:\nwhole: %s\nbytes: %s", whole, byteAtATime)
	}
}

func TestPipelineBindsFragmentedInit(t *testing.T) {
	pipeline, capture, _ := newTestPipeline(t)

	for _, chunk := range []string{`{"type":"in`, `it","data":{"session_i`, `d":"abc123"}}` + "\n"} {
		pipeline.ProcessChunk([]byte(chunk))
	}

	if got := pipeline.ID(); got != "abc123" {
		t.Errorf("session id = %q, want abc123", got)
	}
	bound := capture.ofType(sink.EventTypeSessionBound)
	if len(bound) != 1 || bound[0].SessionID != "abc123" {
		t.Errorf("bound events = %+v, want one for abc123", bound)
	}
}

func TestPipelinePassesOpaqueLinesVerbatim(t *testing.T) {
	pipeline, _, output := newTestPipeline(t)

	const noise = "npm WARN deprecated something"
	pipeline.ProcessChunk([]byte(noise + "\n"))
	pipeline.ProcessChunk([]byte(`{"type":"assistant","message":{"content":"ok"}}` + "\n"))

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output lines = %d, want 2", len(lines))
	}
	if lines[0] != noise {
		t.Errorf("opaque line = %q, want verbatim %q", lines[0], noise)
	}
	if !strings.Contains(lines[1], `"wrapper"`) {
		t.Errorf("decoded line missing augmentation: %s", lines[1])
	}
}

func TestPipelineEmitsCompactionEvent(t *testing.T) {
	pipeline, capture, _ := newTestPipeline(t)

	pipeline.ProcessChunk([]byte(`{"type":"assistant","message":{"content":"work","usage":{"input_tokens":800,"output_tokens":200}}}` + "\n"))
	pipeline.ProcessChunk([]byte(`{"type":"result","result":""}` + "\n"))

	compactions := capture.ofType(sink.EventTypeCompaction)
	if len(compactions) != 1 {
		t.Fatalf("compaction events = %d, want 1", len(compactions))
	}
	if compactions[0].Compaction.SavedTokens != 1000 {
		t.Errorf("saved tokens = %d, want 1000", compactions[0].Compaction.SavedTokens)
	}
	if compactions[0].Snapshot == nil || compactions[0].Snapshot.Tokens.Total != 0 {
		t.Errorf("snapshot after compaction = %+v, want zero totals", compactions[0].Snapshot)
	}
	if compactions[0].Snapshot.Compaction.Count != 1 {
		t.Errorf("compaction count = %d, want 1", compactions[0].Snapshot.Compaction.Count)
	}
}

func TestPipelineReportsOverflowAndRecovers(t *testing.T) {
	capture := &captureSink{}
	var output bytes.Buffer
	pipeline := NewSession(SessionConfig{
		FragmentLimit: 64,
		Output:        &output,
		Sink:          capture,
		Clock:         clock.NewFake(),
	})

	oversized := strings.Repeat("x", 200) + "\n"
	pipeline.ProcessChunk([]byte(oversized))
	pipeline.ProcessChunk([]byte(`{"type":"assistant","message":{"content":"ok"}}` + "\n"))

	faults := capture.ofType(sink.EventTypeError)
	if len(faults) != 1 || faults[0].Error.Kind != "buffer_overflow" {
		t.Fatalf("error events = %+v, want one buffer_overflow", faults)
	}
	if !strings.Contains(output.String(), `"type":"assistant"`) {
		t.Error("pipeline did not recover after overflow")
	}
}

func TestPipelineRecordsStderr(t *testing.T) {
	pipeline, capture, _ := newTestPipeline(t)

	pipeline.NoteStderr("warning: something leaked")

	stats := pipeline.Stats()
	if stats.Errors != 1 {
		t.Errorf("error count = %d, want 1", stats.Errors)
	}
	faults := capture.ofType(sink.EventTypeError)
	if len(faults) != 1 || faults[0].Error.Kind != "stderr" {
		t.Errorf("error events = %+v, want one stderr", faults)
	}
}

func TestPipelineCheckpointsOnCompaction(t *testing.T) {
	var saved []session.Ledger
	pipeline := NewSession(SessionConfig{
		SessionID: "sess-ckpt",
		Clock:     clock.NewFake(),
		Checkpoint: func(ledger session.Ledger) error {
			saved = append(saved, ledger)
			return nil
		},
	})

	pipeline.ProcessChunk([]byte(`{"type":"assistant","message":{"content":"work","usage":{"input_tokens":800,"output_tokens":200}}}` + "\n"))
	if len(saved) != 0 {
		t.Fatalf("checkpoints before compaction = %d, want 0", len(saved))
	}

	pipeline.ProcessChunk([]byte(`{"type":"result","result":""}` + "\n"))
	if len(saved) != 1 {
		t.Fatalf("checkpoints after compaction = %d, want 1", len(saved))
	}
	ledger := saved[0]
	if ledger.SessionID != "sess-ckpt" {
		t.Errorf("checkpointed session id = %q, want sess-ckpt", ledger.SessionID)
	}
	if ledger.CompactionCount != 1 {
		t.Errorf("checkpointed compaction count = %d, want 1", ledger.CompactionCount)
	}
	if ledger.SavedTokensTotal != 1000 {
		t.Errorf("checkpointed saved tokens = %d, want 1000", ledger.SavedTokensTotal)
	}
	if ledger.InputTokens != 0 || ledger.OutputTokens != 0 {
		t.Errorf("checkpointed tokens = %d/%d, want reset to zero",
			ledger.InputTokens, ledger.OutputTokens)
	}
}

func TestPipelineMintsSyntheticIDWhenUnset(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t)
	if err := ValidateSyntheticSessionID(pipeline.ID()); err != nil {
		t.Errorf("default session id invalid: %v", err)
	}
}
