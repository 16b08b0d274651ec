// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the wrapper.
type Config struct {
	// Claude configures the supervised CLI process.
	Claude ClaudeConfig `yaml:"claude"`

	// Session configures ledger accounting and liveness.
	Session SessionConfig `yaml:"session"`

	// Output configures event destinations.
	Output OutputConfig `yaml:"output"`

	// Log configures wrapper logging.
	Log LogConfig `yaml:"log"`
}

// ClaudeConfig configures the supervised CLI process.
type ClaudeConfig struct {
	// Binary is the CLI executable. Resolved against PATH when not
	// absolute.
	Binary string `yaml:"binary"`

	// Args are extra arguments appended after the wrapper's own
	// stream-json flags.
	Args []string `yaml:"args"`

	// WorkingDir is the subprocess working directory. Empty inherits
	// the wrapper's.
	WorkingDir string `yaml:"working_dir"`

	// ShutdownGrace is how long a graceful stop waits between
	// SIGTERM and SIGKILL.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// SessionConfig configures ledger accounting and liveness.
type SessionConfig struct {
	// ContextBudgetTokens is the context window the usage percentage
	// is computed against.
	ContextBudgetTokens int64 `yaml:"context_budget_tokens"`

	// WarnPercent, RecommendPercent, and ForcePercent are the
	// context-usage escalation thresholds.
	WarnPercent      float64 `yaml:"warn_percent"`
	RecommendPercent float64 `yaml:"recommend_percent"`
	ForcePercent     float64 `yaml:"force_percent"`

	// HistoryLimit bounds the retained message history.
	HistoryLimit int `yaml:"history_limit"`

	// LivenessInterval is how often the supervisor checks a
	// streaming session for stalls.
	LivenessInterval time.Duration `yaml:"liveness_interval"`

	// IdleTimeout is how long a streaming session may go without
	// output before the supervisor kills the subprocess.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// OutputConfig configures event destinations.
type OutputConfig struct {
	// SessionLog is a JSONL file receiving the full event feed.
	// Empty disables it.
	SessionLog string `yaml:"session_log"`

	// CheckpointDir is where session checkpoints are written. Empty
	// disables checkpointing.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// Listen is the address serving the websocket feed and metrics.
	// Empty disables the listener.
	Listen string `yaml:"listen"`
}

// LogConfig configures wrapper logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Claude: ClaudeConfig{
			Binary:        "claude",
			ShutdownGrace: 5 * time.Second,
		},
		Session: SessionConfig{
			ContextBudgetTokens: 200_000,
			WarnPercent:         55,
			RecommendPercent:    60,
			ForcePercent:        65,
			LivenessInterval:    5 * time.Second,
			IdleTimeout:         2 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration from the YURUCODE_CONFIG environment
// variable. Unset falls back to Default.
func Load() (*Config, error) {
	path := os.Getenv("YURUCODE_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults.
func LoadFile(path string) (*Config, error) {
	configuration := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return configuration, nil
}

// Validate rejects configurations the wrapper cannot run with.
func (configuration *Config) Validate() error {
	if configuration.Claude.Binary == "" {
		return fmt.Errorf("claude.binary must not be empty")
	}
	if configuration.Claude.ShutdownGrace < 0 {
		return fmt.Errorf("claude.shutdown_grace must not be negative")
	}
	session := configuration.Session
	if session.ContextBudgetTokens <= 0 {
		return fmt.Errorf("session.context_budget_tokens must be positive")
	}
	if session.WarnPercent <= 0 || session.WarnPercent > 100 {
		return fmt.Errorf("session.warn_percent must be in (0, 100]")
	}
	if session.RecommendPercent < session.WarnPercent {
		return fmt.Errorf("session.recommend_percent must not be below warn_percent")
	}
	if session.ForcePercent < session.RecommendPercent {
		return fmt.Errorf("session.force_percent must not be below recommend_percent")
	}
	if session.LivenessInterval <= 0 {
		return fmt.Errorf("session.liveness_interval must be positive")
	}
	if session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	switch configuration.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", configuration.Log.Level)
	}
	return nil
}
