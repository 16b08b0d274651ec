// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream turns the raw byte output of a Claude CLI subprocess
// into decoded protocol records.
//
// [LineBuffer] reassembles complete text lines from arbitrarily chunked
// reads. The CLI writes one JSON object per line (NDJSON), but pipe
// reads can split a record anywhere; the buffer retains the
// unterminated trailing fragment across calls and bounds it so a
// runaway line cannot grow memory without limit.
//
// [Decoder] parses one line into a [Record]. Lines that are not valid
// JSON are not errors -- the CLI interleaves plain diagnostic text with
// the protocol -- so they pass through as opaque records carrying the
// original text. The decoder counts consecutive parse failures so the
// caller can surface a degraded-protocol diagnostic without halting.
package stream
