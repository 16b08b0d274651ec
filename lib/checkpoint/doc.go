// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint persists session ledger state across wrapper
// restarts.
//
// A checkpoint file is a small framed container: a magic prefix, a
// BLAKE3 digest, and a zstd-compressed CBOR payload. [Save] writes
// atomically (temporary file in the same directory, fsync, rename) so
// a crash mid-write never leaves a torn checkpoint behind. [Load]
// verifies the digest before decoding and rejects corrupt or
// truncated files with a wrapped [ErrCorrupt].
//
// Checkpoints are advisory. Losing one costs derived statistics, not
// conversation state -- the CLI owns the conversation.
package checkpoint
