// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// streamArguments are always passed to the CLI so it speaks the
// protocol the pipeline expects.
var streamArguments = []string{
	"--output-format", "stream-json",
	"--print",
	"--verbose",
}

// LaunchSpec describes how to spawn the CLI subprocess.
type LaunchSpec struct {
	// ExecutablePath is the CLI binary. Resolved against PATH when
	// not absolute.
	ExecutablePath string

	// Arguments are appended after the wrapper's stream-json flags.
	// The initial prompt, if any, goes here as a positional argument.
	Arguments []string

	// WorkingDirectory is the subprocess working directory. Empty
	// inherits the wrapper's.
	WorkingDirectory string

	// Environment entries are appended to the inherited environment,
	// in KEY=value form.
	Environment []string
}

// process wraps the spawned command with its pipes.
type process struct {
	command *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
}

// spawn starts the subprocess with stdin, stdout, and stderr piped.
// Failures are classified into the package error taxonomy.
func spawn(ctx context.Context, spec LaunchSpec) (*process, error) {
	binary := spec.ExecutablePath
	if binary == "" {
		binary = "claude"
	}

	arguments := append([]string{}, streamArguments...)
	arguments = append(arguments, spec.Arguments...)

	command := exec.CommandContext(ctx, binary, arguments...)
	command.Dir = spec.WorkingDirectory
	command.Env = append(os.Environ(), spec.Environment...)

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, classifySpawnError(binary, err)
	}

	return &process{
		command: command,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// signal delivers a signal to the running process.
func (process *process) signal(signal os.Signal) error {
	if process.command.Process == nil {
		return fmt.Errorf("process not started")
	}
	return process.command.Process.Signal(signal)
}

// exitCode extracts the exit status after Wait returned. -1 means
// killed by signal or failed before exiting.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return -1
}
