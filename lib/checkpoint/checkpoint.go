// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/yurucode/yurucode/lib/codec"
	"github.com/yurucode/yurucode/lib/session"
)

// ErrCorrupt reports a checkpoint file that failed framing or digest
// verification. Testable with errors.Is.
var ErrCorrupt = errors.New("corrupt checkpoint")

// magic identifies a checkpoint file. The trailing byte is the format
// version.
var magic = []byte{'Y', 'C', 'K', 'P', 1}

const digestSize = 32

// State is the persisted form of one session.
type State struct {
	SessionID string         `cbor:"session_id"`
	SavedAt   time.Time      `cbor:"saved_at"`
	Ledger    session.Ledger `cbor:"ledger"`
}

// Save writes the state to path atomically: encode, compress, frame
// with a digest, write to a temporary file in the same directory,
// fsync, rename into place. The parent directory must exist. The file
// is created with mode 0600.
func Save(path string, state State) error {
	payload, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	writer, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	compressed := writer.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	writer.Close()

	digest := blake3.Sum256(compressed)

	framed := make([]byte, 0, len(magic)+digestSize+len(compressed))
	framed = append(framed, magic...)
	framed = append(framed, digest[:]...)
	framed = append(framed, compressed...)

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary checkpoint file: %w", err)
	}

	// On any failure after this point, clean up the temporary file
	// and report the first error.
	if _, err := file.Write(framed); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary checkpoint file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary checkpoint file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}

	// Sync the parent directory so the rename itself is durable.
	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Load reads and verifies a checkpoint. A missing file is reported via
// os.ErrNotExist; framing and digest failures wrap ErrCorrupt.
func Load(path string) (State, error) {
	var state State

	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("reading checkpoint: %w", err)
	}

	if len(data) < len(magic)+digestSize {
		return state, fmt.Errorf("%s: file too short: %w", path, ErrCorrupt)
	}
	if !bytes.Equal(data[:len(magic)], magic) {
		return state, fmt.Errorf("%s: bad magic: %w", path, ErrCorrupt)
	}

	var expected [digestSize]byte
	copy(expected[:], data[len(magic):len(magic)+digestSize])
	compressed := data[len(magic)+digestSize:]
	if blake3.Sum256(compressed) != expected {
		return state, fmt.Errorf("%s: digest mismatch: %w", path, ErrCorrupt)
	}

	reader, err := zstd.NewReader(nil)
	if err != nil {
		return state, fmt.Errorf("creating decompressor: %w", err)
	}
	defer reader.Close()
	payload, err := reader.DecodeAll(compressed, nil)
	if err != nil {
		return state, fmt.Errorf("%s: decompressing: %v: %w", path, err, ErrCorrupt)
	}

	if err := codec.Unmarshal(payload, &state); err != nil {
		return state, fmt.Errorf("%s: decoding: %v: %w", path, err, ErrCorrupt)
	}
	return state, nil
}
