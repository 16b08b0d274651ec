// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yurucode.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
claude:
  binary: /opt/claude/bin/claude
  args: ["--model", "opus"]
session:
  context_budget_tokens: 150000
  idle_timeout: 30s
output:
  session_log: /tmp/session.jsonl
log:
  level: debug
`)

	configuration, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if configuration.Claude.Binary != "/opt/claude/bin/claude" {
		t.Errorf("binary = %q", configuration.Claude.Binary)
	}
	if len(configuration.Claude.Args) != 2 || configuration.Claude.Args[1] != "opus" {
		t.Errorf("args = %v", configuration.Claude.Args)
	}
	if configuration.Session.ContextBudgetTokens != 150000 {
		t.Errorf("budget = %d", configuration.Session.ContextBudgetTokens)
	}
	if configuration.Session.IdleTimeout != 30*time.Second {
		t.Errorf("idle timeout = %v", configuration.Session.IdleTimeout)
	}
	// Untouched fields keep their defaults.
	if configuration.Claude.ShutdownGrace != 5*time.Second {
		t.Errorf("shutdown grace = %v, want default 5s", configuration.Claude.ShutdownGrace)
	}
	if configuration.Session.WarnPercent != 55 {
		t.Errorf("warn percent = %v, want default 55", configuration.Session.WarnPercent)
	}
	if configuration.Log.Level != "debug" {
		t.Errorf("log level = %q", configuration.Log.Level)
	}
}

func TestLoadWithoutEnvironmentUsesDefaults(t *testing.T) {
	t.Setenv("YURUCODE_CONFIG", "")

	configuration, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if configuration.Claude.Binary != "claude" {
		t.Errorf("binary = %q, want claude", configuration.Claude.Binary)
	}
	if err := configuration.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	path := writeConfig(t, "claude:\n  binary: custom-claude\n")
	t.Setenv("YURUCODE_CONFIG", path)

	configuration, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if configuration.Claude.Binary != "custom-claude" {
		t.Errorf("binary = %q, want custom-claude", configuration.Claude.Binary)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(configuration *Config)
		wantErr string
	}{
		{"empty binary", func(c *Config) { c.Claude.Binary = "" }, "claude.binary"},
		{"negative grace", func(c *Config) { c.Claude.ShutdownGrace = -time.Second }, "shutdown_grace"},
		{"zero budget", func(c *Config) { c.Session.ContextBudgetTokens = 0 }, "context_budget_tokens"},
		{"warn over 100", func(c *Config) { c.Session.WarnPercent = 120 }, "warn_percent"},
		{"recommend below warn", func(c *Config) { c.Session.RecommendPercent = 10 }, "recommend_percent"},
		{"force below recommend", func(c *Config) { c.Session.ForcePercent = 10 }, "force_percent"},
		{"zero liveness", func(c *Config) { c.Session.LivenessInterval = 0 }, "liveness_interval"},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }, "idle_timeout"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			configuration := Default()
			test.mutate(configuration)
			err := configuration.Validate()
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, test.wantErr)
			}
		})
	}
}
