// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"strings"
	"testing"
)

func feedAll(t *testing.T, buffer *LineBuffer, input []byte, chunkSize int) []string {
	t.Helper()
	var lines []string
	for start := 0; start < len(input); start += chunkSize {
		end := start + chunkSize
		if end > len(input) {
			end = len(input)
		}
		chunk, err := buffer.Feed(input[start:end])
		if err != nil && !errors.Is(err, ErrBufferOverflow) {
			t.Fatalf("Feed: unexpected error: %v", err)
		}
		lines = append(lines, chunk...)
	}
	if final, ok := buffer.Flush(); ok {
		lines = append(lines, final)
	}
	return lines
}

func TestFeedSplitsLines(t *testing.T) {
	buffer := NewLineBuffer(0)
	lines, err := buffer.Feed([]byte("one\ntwo\nthree"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("Feed returned %q, want [one two]", lines)
	}
	final, ok := buffer.Flush()
	if !ok || final != "three" {
		t.Fatalf("Flush returned %q/%v, want three/true", final, ok)
	}
}

func TestFeedIsChunkingInvariant(t *testing.T) {
	input := []byte(`{"type":"result","result":"ok"}` + "\n" +
		"plain diagnostic text\r\n" +
		`{"type":"user","message":{"content":"hi"}}` + "\n" +
		"trailing fragment without newline")

	whole := feedAll(t, NewLineBuffer(0), input, len(input))
	byteAtATime := feedAll(t, NewLineBuffer(0), input, 1)

	if len(whole) != len(byteAtATime) {
		t.Fatalf("whole-buffer produced %d lines, 1-byte feeding produced %d",
			len(whole), len(byteAtATime))
	}
	for i := range whole {
		if whole[i] != byteAtATime[i] {
			t.Errorf("line %d differs: %q vs %q", i, whole[i], byteAtATime[i])
		}
	}
}

func TestFeedFragmentAcrossChunks(t *testing.T) {
	buffer := NewLineBuffer(0)
	chunks := []string{
		`{"type":"in`,
		`it","data":{"session_i`,
		`d":"abc123"}}` + "\n",
	}

	var lines []string
	for _, chunk := range chunks {
		got, err := buffer.Feed([]byte(chunk))
		if err != nil {
			t.Fatalf("Feed(%q): %v", chunk, err)
		}
		lines = append(lines, got...)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	want := `{"type":"init","data":{"session_id":"abc123"}}`
	if lines[0] != want {
		t.Fatalf("reassembled %q, want %q", lines[0], want)
	}
}

func TestFeedOverflowDiscardsAndRecovers(t *testing.T) {
	const limit = 64
	buffer := NewLineBuffer(limit)

	oversized := strings.Repeat("x", limit+10)
	_, err := buffer.Feed([]byte(oversized))
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("Feed of oversized line returned %v, want ErrBufferOverflow", err)
	}

	// Remainder of the oversized line plus its newline, then a valid line.
	lines, err := buffer.Feed([]byte("yyy\nvalid\n"))
	if err != nil {
		t.Fatalf("Feed after overflow: %v", err)
	}
	if len(lines) != 1 || lines[0] != "valid" {
		t.Fatalf("post-overflow lines %q, want [valid]", lines)
	}
}

func TestFeedOverflowInSingleChunk(t *testing.T) {
	const limit = 32
	buffer := NewLineBuffer(limit)

	input := strings.Repeat("x", limit+1) + "\nafter\n"
	lines, err := buffer.Feed([]byte(input))
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("Feed returned %v, want ErrBufferOverflow", err)
	}
	if len(lines) != 1 || lines[0] != "after" {
		t.Fatalf("lines %q, want [after]", lines)
	}
}

func TestFlushWhileDiscardingReturnsNothing(t *testing.T) {
	buffer := NewLineBuffer(8)
	if _, err := buffer.Feed([]byte(strings.Repeat("x", 20))); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if line, ok := buffer.Flush(); ok {
		t.Fatalf("Flush returned %q after overflow, want nothing", line)
	}
	// The buffer resumes cleanly after Flush.
	lines, err := buffer.Feed([]byte("ok\n"))
	if err != nil || len(lines) != 1 || lines[0] != "ok" {
		t.Fatalf("Feed after Flush: lines=%q err=%v", lines, err)
	}
}
