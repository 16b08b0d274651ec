// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

// Sentinel errors for the wrapper's fault taxonomy. All are testable
// with errors.Is through whatever wrapping the call path added.
var (
	// ErrBinaryNotFound reports that the CLI executable does not
	// exist or is not on PATH.
	ErrBinaryNotFound = errors.New("claude binary not found")

	// ErrPermissionDenied reports that the CLI executable exists but
	// cannot be executed.
	ErrPermissionDenied = errors.New("claude binary not executable")

	// ErrResourceExhausted reports that the operating system refused
	// the spawn: process table, file descriptors, or memory.
	ErrResourceExhausted = errors.New("resource exhausted spawning claude")

	// ErrStreamTimeout reports that a streaming session produced no
	// output within the idle timeout and was killed.
	ErrStreamTimeout = errors.New("stream idle timeout")

	// ErrSubprocessError reports that the subprocess exited with a
	// failure status.
	ErrSubprocessError = errors.New("subprocess failed")
)

// classifySpawnError maps an exec start failure onto the taxonomy.
// Unrecognized causes pass through wrapped but unclassified.
func classifySpawnError(binary string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%q: %v: %w", binary, err, ErrBinaryNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%q: %v: %w", binary, err, ErrPermissionDenied)
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOMEM):
		return fmt.Errorf("%q: %v: %w", binary, err, ErrResourceExhausted)
	}
	return fmt.Errorf("spawning %q: %w", binary, err)
}
