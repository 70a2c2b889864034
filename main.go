// infrachat - chat backend and client for infrastructure metrics.
//
// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/opsline/infrachat/internal/cli"
	"github.com/opsline/infrachat/internal/config"
	"github.com/opsline/infrachat/internal/conversation"
	"github.com/opsline/infrachat/internal/llm"
	"github.com/opsline/infrachat/internal/server"
	"github.com/opsline/infrachat/internal/storage"
	"github.com/opsline/infrachat/internal/tools"
)

// Version information (set at build time).
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := cli.NewArgParser(os.Args[1:])

	cfg, err := config.Load(args.Flag("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	switch args.Subcommand() {
	case "serve", "":
		if err := runServe(cfg, args, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "chat":
		if err := cli.HandleChat(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("infrachat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args.Subcommand())
		printUsage()
		os.Exit(2)
	}
}

// newLogger builds the slog logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler)
}

// runServe starts the backend and blocks until shutdown.
func runServe(cfg *config.Config, args *cli.ArgParser, logger *slog.Logger) error {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	assistant := llm.NewClient(cfg.Assistant.Endpoint).
		WithAPIKey(cfg.Assistant.APIKey).
		WithModel(cfg.Assistant.Model).
		WithTimeout(cfg.Assistant.Timeout()).
		WithMaxRetries(cfg.Assistant.MaxRetries).
		WithLogger(logger)
	if cfg.Assistant.SystemPrompt != "" {
		assistant.WithSystemPrompt(cfg.Assistant.SystemPrompt)
	}

	toolManager := tools.NewManager(
		tools.NewHTTPSource("grafana", cfg.Tools.Grafana.URL, cfg.Tools.Grafana.APIKey),
		tools.NewHTTPSource("cloudwatch", cfg.Tools.CloudWatch.URL, cfg.Tools.CloudWatch.APIKey),
	).WithLogger(logger)
	assistant.WithToolProvider(toolManager)

	svc := conversation.NewService(store, assistant).
		WithLogger(logger).
		WithHistoryWindow(cfg.Conversation.HistoryWindow).
		WithToolHealth(toolManager)

	port := args.IntFlag("port", cfg.Server.Port)
	srv := server.NewServer(port, svc).
		WithLogger(logger).
		WithRateLimit(cfg.Server.RequestsPerSecond, cfg.Server.Burst)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reload config on file changes; only the assistant settings that
	// can change without a restart are applied.
	if path := args.Flag("config"); path != "" {
		watcher := config.NewWatcher(path, cfg, logger)
		watcher.OnReload(func(next *config.Config) {
			assistant.WithModel(next.Assistant.Model)
			if next.Assistant.SystemPrompt != "" {
				assistant.WithSystemPrompt(next.Assistant.SystemPrompt)
			}
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return srv.Shutdown(context.Background())
}

func printUsage() {
	fmt.Print(`infrachat - infrastructure metrics chat

Usage:
  infrachat serve [--config file] [--port n]   start the backend
  infrachat chat  [--config file]              interactive chat client
  infrachat version                            print version
  infrachat help                               show this help
`)
}
