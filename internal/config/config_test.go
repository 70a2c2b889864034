// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "infrachat.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Path != "infrachat.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Conversation.HistoryWindow != 20 {
		t.Errorf("history window = %d, want 20", cfg.Conversation.HistoryWindow)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[assistant]
endpoint = "http://inference.internal/v1"
model = "metrics-7b"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Assistant.Model != "metrics-7b" {
		t.Errorf("model = %q", cfg.Assistant.Model)
	}
	// Untouched sections keep their defaults.
	if cfg.Client.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("client base url = %q", cfg.Client.BaseURL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
`)
	t.Setenv("INFRACHAT_PORT", "7070")
	t.Setenv("INFRACHAT_ASSISTANT_ENDPOINT", "http://other.internal/v1")
	t.Setenv("INFRACHAT_GRAFANA_URL", "http://grafana-tools.internal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Assistant.Endpoint != "http://other.internal/v1" {
		t.Errorf("endpoint = %q", cfg.Assistant.Endpoint)
	}
	if cfg.Tools.Grafana.URL != "http://grafana-tools.internal" {
		t.Errorf("grafana tools url = %q", cfg.Tools.Grafana.URL)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `[server`)

	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want decode error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero rate", func(c *Config) { c.Server.RequestsPerSecond = 0 }},
		{"negative retries", func(c *Config) { c.Client.MaxRetries = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.Assistant.Timeout(); got != 60*time.Second {
		t.Errorf("assistant timeout = %v", got)
	}
	if got := cfg.Client.BaseDelay(); got != 500*time.Millisecond {
		t.Errorf("base delay = %v", got)
	}
	if got := cfg.Client.Timeout(); got != 30*time.Second {
		t.Errorf("client timeout = %v", got)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
`)
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	w := NewWatcher(path, initial, logger)

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher time to register before rewriting.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[server]\nport = 6060\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 6060 {
			t.Errorf("reloaded port = %d, want 6060", cfg.Server.Port)
		}
		if w.Current().Server.Port != 6060 {
			t.Errorf("Current() port = %d, want 6060", w.Current().Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
`)
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	w := NewWatcher(path, initial, slog.New(slog.DiscardHandler))
	if err := os.WriteFile(path, []byte(`[server`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	w.reload()
	if w.Current().Server.Port != 9090 {
		t.Errorf("Current() port = %d, want previous config kept", w.Current().Server.Port)
	}
}
