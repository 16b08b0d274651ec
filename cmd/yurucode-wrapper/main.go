// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// yurucode-wrapper supervises a Claude CLI process and republishes its
// stream-json output as an accounted, augmented feed.
//
// The wrapper spawns the CLI with stream-json flags, reassembles and
// decodes its stdout, keeps a per-session token ledger, detects
// context compactions (rewriting the empty compaction result with a
// synthesized summary), and attaches derived session state to every
// record before forwarding it to stdout. Lifecycle events additionally
// flow to an optional JSONL session log and a websocket broadcast for
// live frontends; Prometheus metrics ride the same listener.
//
// Configuration comes from a YAML file (YURUCODE_CONFIG or --config)
// with flag overrides for the common knobs. The first positional
// argument is the prompt; anything after "--" is passed to the CLI
// verbatim.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/yurucode/yurucode/lib/checkpoint"
	"github.com/yurucode/yurucode/lib/config"
	"github.com/yurucode/yurucode/lib/metrics"
	"github.com/yurucode/yurucode/lib/process"
	"github.com/yurucode/yurucode/lib/session"
	"github.com/yurucode/yurucode/lib/sink"
	"github.com/yurucode/yurucode/lib/wrapper"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		claudeBinary  string
		workingDir    string
		listen        string
		sessionLog    string
		checkpointDir string
		logLevel      string
	)

	flagSet := pflag.NewFlagSet("yurucode-wrapper", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to yurucode.yaml (default: YURUCODE_CONFIG)")
	flagSet.StringVar(&claudeBinary, "claude-binary", "", "CLI executable (overrides config)")
	flagSet.StringVar(&workingDir, "cwd", "", "subprocess working directory (overrides config)")
	flagSet.StringVar(&listen, "listen", "", "address for websocket feed and metrics (overrides config)")
	flagSet.StringVar(&sessionLog, "session-log", "", "JSONL session log path (overrides config)")
	flagSet.StringVar(&checkpointDir, "checkpoint-dir", "", "checkpoint directory (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn, or error (overrides config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	configuration, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}
	applyOverride(&configuration.Claude.Binary, claudeBinary)
	applyOverride(&configuration.Claude.WorkingDir, workingDir)
	applyOverride(&configuration.Output.Listen, listen)
	applyOverride(&configuration.Output.SessionLog, sessionLog)
	applyOverride(&configuration.Output.CheckpointDir, checkpointDir)
	applyOverride(&configuration.Log.Level, logLevel)
	if err := configuration.Validate(); err != nil {
		return err
	}

	logger := newLogger(configuration.Log.Level)
	slog.SetDefault(logger)

	// The prompt and any verbatim CLI arguments come after the flags.
	arguments := flagSet.Args()

	return runWrapper(configuration, logger, arguments)
}

func runWrapper(configuration *config.Config, logger *slog.Logger, arguments []string) error {
	collectors, broadcast, shutdownListener, err := startListener(configuration.Output.Listen, logger)
	if err != nil {
		return err
	}
	defer shutdownListener()

	feed, err := buildSink(configuration.Output.SessionLog, broadcast, logger)
	if err != nil {
		return err
	}
	defer feed.Close()

	pipelineConfig := wrapper.SessionConfig{
		Interpreter: session.Config{
			ContextBudgetTokens: configuration.Session.ContextBudgetTokens,
			Thresholds: session.Thresholds{
				WarnPercent:      configuration.Session.WarnPercent,
				RecommendPercent: configuration.Session.RecommendPercent,
				ForcePercent:     configuration.Session.ForcePercent,
			},
			HistoryLimit: configuration.Session.HistoryLimit,
		},
		Output:  os.Stdout,
		Sink:    feed,
		Metrics: collectors,
		Logger:  logger,
	}
	if directory := configuration.Output.CheckpointDir; directory != "" {
		// Persist the ledger at every compaction too, not just at
		// session end, so the accounting survives a crash mid-run.
		pipelineConfig.Checkpoint = func(ledger session.Ledger) error {
			return saveCheckpoint(directory, ledger.SessionID, ledger)
		}
	}
	pipeline := wrapper.NewSession(pipelineConfig)

	supervisor, err := wrapper.NewSupervisor(wrapper.SupervisorConfig{
		Spec: wrapper.LaunchSpec{
			ExecutablePath:   configuration.Claude.Binary,
			Arguments:        append(append([]string{}, configuration.Claude.Args...), arguments...),
			WorkingDirectory: configuration.Claude.WorkingDir,
		},
		Session:          pipeline,
		ShutdownGrace:    configuration.Claude.ShutdownGrace,
		LivenessInterval: configuration.Session.LivenessInterval,
		IdleTimeout:      configuration.Session.IdleTimeout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if err := supervisor.Start(context.Background()); err != nil {
		return err
	}
	collectors.SessionStarted()
	defer collectors.SessionEnded()

	// Forward interrupt and terminate into a graceful stop.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		received, open := <-signals
		if !open {
			return
		}
		logger.Info("signal received, stopping", "signal", received)
		supervisor.Stop()
	}()

	waitErr := supervisor.Wait()
	stats := pipeline.Stats()

	if directory := configuration.Output.CheckpointDir; directory != "" {
		if err := saveCheckpoint(directory, stats.SessionID, pipeline.LedgerCopy()); err != nil {
			logger.Warn("saving checkpoint", "error", err)
		}
	}

	fmt.Fprintln(os.Stderr, formatSummary(stats))
	return waitErr
}

func loadConfiguration(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func applyOverride(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}

// startListener serves the websocket feed on /ws and Prometheus
// metrics on /metrics. An empty address disables both; metrics then
// stay nil (recorders no-op).
func startListener(address string, logger *slog.Logger) (*metrics.Metrics, *sink.WebSocketSink, func(), error) {
	if address == "" {
		return nil, nil, func() {}, nil
	}

	collectors := metrics.New()
	broadcast := sink.NewWebSocketSink(logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", broadcast)
	mux.Handle("/metrics", collectors.Handler())
	server := &http.Server{Addr: address, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listener failed", "address", address, "error", err)
		}
	}()
	logger.Info("listener started", "address", address)

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		broadcast.Close()
	}
	return collectors, broadcast, shutdown, nil
}

// buildSink combines the configured destinations. The log sink is
// always present so the feed is observable without any configuration.
func buildSink(sessionLogPath string, broadcast *sink.WebSocketSink, logger *slog.Logger) (sink.Sink, error) {
	sinks := []sink.Sink{sink.NewLogSink(logger)}
	if sessionLogPath != "" {
		fileSink, err := sink.NewFileSink(sessionLogPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
		logger.Info("session log opened", "path", sessionLogPath)
	}
	if broadcast != nil {
		sinks = append(sinks, broadcast)
	}
	return sink.NewMultiSink(sinks...), nil
}

func saveCheckpoint(directory, sessionID string, ledger session.Ledger) error {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	path := filepath.Join(directory, sessionID+".ckpt")
	return checkpoint.Save(path, checkpoint.State{
		SessionID: sessionID,
		SavedAt:   time.Now(),
		Ledger:    ledger,
	})
}

// formatSummary renders the end-of-run report printed to stderr.
func formatSummary(stats session.Snapshot) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "session %s: %d message(s), %d tool call(s), %d token(s)",
		stats.SessionID, stats.Messages, stats.ToolCalls, stats.Tokens.Total)
	if stats.Compaction.Count > 0 {
		fmt.Fprintf(&builder, ", %d compaction(s) saving %d token(s)",
			stats.Compaction.Count, stats.Compaction.SavedTokensTotal)
	}
	if stats.CostUSD > 0 {
		fmt.Fprintf(&builder, ", $%.4f", stats.CostUSD)
	}
	if stats.Errors > 0 {
		fmt.Fprintf(&builder, ", %d error(s)", stats.Errors)
	}
	return builder.String()
}
