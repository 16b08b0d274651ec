// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends events as JSONL (one JSON object per line) to a
// session log file. Safe for concurrent use.
type FileSink struct {
	file    *os.File
	encoder *json.Encoder
	mutex   sync.Mutex
	closed  bool
}

// NewFileSink creates (or truncates) the session log at path.
func NewFileSink(path string) (*FileSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating session log %q: %w", path, err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	return &FileSink{file: file, encoder: encoder}, nil
}

// Emit implements Sink. Each event becomes one compact JSON line.
func (sink *FileSink) Emit(event Event) error {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	if sink.closed {
		return fmt.Errorf("session log already closed")
	}

	if err := sink.encoder.Encode(event); err != nil {
		return fmt.Errorf("encoding session log event: %w", err)
	}
	// Sync after each write so events survive a crash. The feed is
	// low-throughput (tens of events per second at most), so the cost
	// is acceptable.
	if err := sink.file.Sync(); err != nil {
		return fmt.Errorf("syncing session log: %w", err)
	}
	return nil
}

// Close implements Sink. Idempotent.
func (sink *FileSink) Close() error {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	if sink.closed {
		return nil
	}
	sink.closed = true
	if err := sink.file.Close(); err != nil {
		return fmt.Errorf("closing session log: %w", err)
	}
	return nil
}
