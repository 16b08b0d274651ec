// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// syntheticPrefix marks session identifiers minted by the wrapper
// before the CLI announces its own.
const syntheticPrefix = "syn_"

// sessionIDLength is the total length of a synthetic identifier:
// the prefix plus 22 hex characters.
const sessionIDLength = 26

// NewSyntheticSessionID mints a wrapper-local session identifier.
// The CLI's own identifier replaces it at the first init record; the
// synthetic one exists so every event has a session to hang off even
// before init arrives.
func NewSyntheticSessionID() string {
	raw := uuid.New()
	return syntheticPrefix + hex.EncodeToString(raw[:11])
}

// ValidateSyntheticSessionID rejects malformed synthetic identifiers.
func ValidateSyntheticSessionID(id string) error {
	if len(id) != sessionIDLength {
		return fmt.Errorf("session id %q: length %d, want %d", id, len(id), sessionIDLength)
	}
	if id[:len(syntheticPrefix)] != syntheticPrefix {
		return fmt.Errorf("session id %q: missing %q prefix", id, syntheticPrefix)
	}
	if _, err := hex.DecodeString(id[len(syntheticPrefix):]); err != nil {
		return fmt.Errorf("session id %q: suffix is not hex: %w", id, err)
	}
	return nil
}
