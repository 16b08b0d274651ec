// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yurucode/yurucode/lib/clock"
)

// Defaults for supervisor timing.
const (
	DefaultShutdownGrace    = 5 * time.Second
	DefaultLivenessInterval = 5 * time.Second
	DefaultIdleTimeout      = 2 * time.Minute
)

// stdoutChunkSize is the read size for the stdout drain. Small enough
// to exercise reassembly, large enough to stay cheap.
const stdoutChunkSize = 32 * 1024

// SupervisorConfig configures one subprocess lifecycle.
type SupervisorConfig struct {
	// Spec describes the subprocess to spawn.
	Spec LaunchSpec

	// Session is the pipeline receiving the subprocess output.
	Session *Session

	// ShutdownGrace is the SIGTERM-to-SIGKILL window for Stop. Zero
	// selects DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// LivenessInterval is how often the idle check runs. Zero
	// selects DefaultLivenessInterval.
	LivenessInterval time.Duration

	// IdleTimeout kills a streaming session that produced no output
	// for this long. Zero selects DefaultIdleTimeout.
	IdleTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervisor owns one subprocess: spawn, drain, liveness, stop.
type Supervisor struct {
	config  SupervisorConfig
	clock   clock.Clock
	logger  *slog.Logger
	session *Session

	process *process
	started time.Time
	forced  atomic.Bool

	// done closes when the process has exited and both drains have
	// finished.
	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// NewSupervisor validates the config and prepares a supervisor. The
// subprocess is not spawned until Start.
func NewSupervisor(config SupervisorConfig) (*Supervisor, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("supervisor requires a session")
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}
	if config.LivenessInterval <= 0 {
		config.LivenessInterval = DefaultLivenessInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Supervisor{
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		session: config.Session,
		done:    make(chan struct{}),
	}, nil
}

// Start spawns the subprocess and launches the drain and liveness
// goroutines. Spawn failures are classified into the package error
// taxonomy.
func (supervisor *Supervisor) Start(ctx context.Context) error {
	select {
	case <-supervisor.done:
		return fmt.Errorf("supervisor already stopped")
	default:
	}
	spawned, err := spawn(ctx, supervisor.config.Spec)
	if err != nil {
		return err
	}
	supervisor.process = spawned
	supervisor.started = supervisor.clock.Now()
	supervisor.logger.Info("subprocess started",
		"pid", spawned.command.Process.Pid,
		"session_id", supervisor.session.ID(),
	)

	go supervisor.run()
	go supervisor.livenessLoop()
	return nil
}

// run drains stdout and stderr concurrently, waits for process exit,
// and records the outcome. Closes done when everything has settled.
func (supervisor *Supervisor) run() {
	defer close(supervisor.done)

	var group errgroup.Group
	group.Go(func() error { return supervisor.drainStdout(supervisor.process.stdout) })
	group.Go(func() error { return supervisor.drainStderr(supervisor.process.stderr) })
	drainErr := group.Wait()

	waitErr := supervisor.process.command.Wait()
	if drainErr != nil && waitErr == nil {
		waitErr = drainErr
	}
	supervisor.waitErr = waitErr

	code := exitCode(waitErr)
	duration := supervisor.clock.Now().Sub(supervisor.started)
	supervisor.session.NoteExit(code, supervisor.forced.Load(), duration)
	supervisor.logger.Info("subprocess exited",
		"exit_code", code,
		"forced", supervisor.forced.Load(),
		"duration", duration,
		"session_id", supervisor.session.ID(),
	)
}

// drainStdout reads raw chunks into the pipeline. Chunk boundaries
// are whatever the pipe delivers; reassembly is the pipeline's job.
func (supervisor *Supervisor) drainStdout(stdout io.Reader) error {
	chunk := make([]byte, stdoutChunkSize)
	for {
		count, err := stdout.Read(chunk)
		if count > 0 {
			supervisor.session.ProcessChunk(chunk[:count])
		}
		if err != nil {
			supervisor.session.Flush()
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading stdout: %w", err)
		}
	}
}

// drainStderr forwards stderr lines into the session's error log.
func (supervisor *Supervisor) drainStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		supervisor.session.NoteStderr(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stderr: %w", err)
	}
	return nil
}

// livenessLoop kills the subprocess when a streaming session goes
// silent past the idle timeout. A session that is not mid-turn may
// idle forever; only an open turn implies output should be flowing.
func (supervisor *Supervisor) livenessLoop() {
	ticker := supervisor.clock.NewTicker(supervisor.config.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-supervisor.done:
			return
		case <-ticker.C:
			if !supervisor.session.Streaming() {
				continue
			}
			// Tick delivery can lag behind the clock when ticks
			// coalesce in the channel; measure idle time against
			// the clock, not the tick's timestamp.
			idle := supervisor.clock.Now().Sub(supervisor.session.LastOutput())
			if idle < supervisor.config.IdleTimeout {
				continue
			}
			supervisor.logger.Warn("liveness timeout, killing subprocess",
				"idle", idle,
				"session_id", supervisor.session.ID(),
			)
			supervisor.session.NoteTimeout(idle)
			supervisor.forced.Store(true)
			supervisor.process.signal(syscall.SIGKILL)
			return
		}
	}
}

// Stdin returns the subprocess stdin pipe, for injecting follow-up
// input. Nil before Start.
func (supervisor *Supervisor) Stdin() io.WriteCloser {
	if supervisor.process == nil {
		return nil
	}
	return supervisor.process.stdin
}

// Alive reports whether the subprocess is still running.
func (supervisor *Supervisor) Alive() bool {
	select {
	case <-supervisor.done:
		return false
	default:
		return supervisor.process != nil
	}
}

// Wait blocks until the subprocess has exited and both drains have
// finished. Returns nil for a clean exit, an error wrapping
// ErrSubprocessError otherwise.
func (supervisor *Supervisor) Wait() error {
	<-supervisor.done
	if supervisor.waitErr == nil {
		return nil
	}
	return fmt.Errorf("%v: %w", supervisor.waitErr, ErrSubprocessError)
}

// Stop terminates the subprocess gracefully: SIGTERM, a bounded
// grace period, then SIGKILL. Idempotent; returns once the process
// has exited.
func (supervisor *Supervisor) Stop() {
	supervisor.stopOnce.Do(func() {
		if supervisor.process == nil {
			close(supervisor.done)
			return
		}
		select {
		case <-supervisor.done:
			return
		default:
		}

		supervisor.logger.Info("stopping subprocess",
			"grace", supervisor.config.ShutdownGrace,
			"session_id", supervisor.session.ID(),
		)
		if err := supervisor.process.signal(syscall.SIGTERM); err != nil {
			supervisor.logger.Warn("sending SIGTERM", "error", err)
		}

		select {
		case <-supervisor.done:
			return
		case <-supervisor.clock.After(supervisor.config.ShutdownGrace):
			supervisor.logger.Warn("grace period expired, killing subprocess",
				"session_id", supervisor.session.ID(),
			)
			supervisor.forced.Store(true)
			supervisor.process.signal(syscall.SIGKILL)
		}
	})
	<-supervisor.done
}
