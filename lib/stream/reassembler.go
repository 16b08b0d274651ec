// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultFragmentLimit is the default bound on the retained
// unterminated fragment. Claude CLI lines can be long (tool results
// with large file contents) but a line past this size is treated as
// runaway output rather than a record.
const DefaultFragmentLimit = 1 << 20

// ErrBufferOverflow reports that a single line exceeded the fragment
// limit. The oversized line is discarded through its terminating
// newline; reassembly continues with the next line. Testable with
// errors.Is.
var ErrBufferOverflow = errors.New("line exceeds reassembly buffer limit")

// LineBuffer reassembles complete lines from a chunked byte stream.
// The sequence of lines produced is identical regardless of how the
// stream is chunked. Not safe for concurrent use -- each subprocess
// stream owns its own buffer.
type LineBuffer struct {
	limit    int
	fragment []byte

	// discarding is set while skipping the remainder of an oversized
	// line, up to and including its terminating newline.
	discarding bool
}

// NewLineBuffer returns a LineBuffer bounding the retained fragment at
// limit bytes. A non-positive limit selects DefaultFragmentLimit.
func NewLineBuffer(limit int) *LineBuffer {
	if limit <= 0 {
		limit = DefaultFragmentLimit
	}
	return &LineBuffer{limit: limit}
}

// Feed appends a chunk and returns every line completed by it, without
// trailing newlines. A trailing carriage return is stripped so CRLF
// output (Windows, WSL) decodes the same as LF output.
//
// When a line exceeds the fragment limit, Feed discards it, returns an
// error wrapping ErrBufferOverflow, and keeps going: lines completed
// before the oversized one are still returned, and subsequent chunks
// resume normally after the oversized line's newline. The error is a
// diagnostic, not a stop signal.
func (buffer *LineBuffer) Feed(chunk []byte) ([]string, error) {
	var lines []string
	var overflow error

	for len(chunk) > 0 {
		newline := bytes.IndexByte(chunk, '\n')
		if newline < 0 {
			if buffer.discarding {
				return lines, overflow
			}
			if size := len(buffer.fragment) + len(chunk); size > buffer.limit {
				buffer.fragment = buffer.fragment[:0]
				buffer.discarding = true
				return lines, fmt.Errorf("retained fragment would reach %d bytes: %w",
					size, ErrBufferOverflow)
			}
			buffer.fragment = append(buffer.fragment, chunk...)
			return lines, overflow
		}

		segment := chunk[:newline]
		chunk = chunk[newline+1:]

		if buffer.discarding {
			// End of the oversized line; resume with the next one.
			buffer.discarding = false
			continue
		}

		if size := len(buffer.fragment) + len(segment); size > buffer.limit {
			buffer.fragment = buffer.fragment[:0]
			overflow = fmt.Errorf("line of %d bytes: %w", size, ErrBufferOverflow)
			continue
		}

		line := append(buffer.fragment, segment...)
		line = trimCarriageReturn(line)
		lines = append(lines, string(line))
		buffer.fragment = buffer.fragment[:0]
	}

	return lines, overflow
}

// Flush returns the retained fragment as a final line, if any. The CLI
// does not always terminate its last record with a newline, so callers
// must Flush at end of stream. The buffer is reset either way.
func (buffer *LineBuffer) Flush() (string, bool) {
	defer func() {
		buffer.fragment = buffer.fragment[:0]
		buffer.discarding = false
	}()
	if buffer.discarding || len(buffer.fragment) == 0 {
		return "", false
	}
	return string(trimCarriageReturn(buffer.fragment)), true
}

func trimCarriageReturn(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
