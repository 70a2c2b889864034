// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the chat backend.
//
// Configuration sources, in order of precedence:
//   - INFRACHAT_* environment variables
//   - a .env file in the working directory
//   - the TOML file passed on the command line (or ./infrachat.toml)
//   - built-in defaults
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Database     DatabaseConfig     `toml:"database"`
	Assistant    AssistantConfig    `toml:"assistant"`
	Client       ClientConfig       `toml:"client"`
	Conversation ConversationConfig `toml:"conversation"`
	Tools        ToolsConfig        `toml:"tools"`
	Logging      LoggingConfig      `toml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int     `toml:"port"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// AssistantConfig configures the inference service client.
type AssistantConfig struct {
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	SystemPrompt   string `toml:"system_prompt"`
}

// ClientConfig configures the CLI's connection to the backend.
type ClientConfig struct {
	BaseURL     string `toml:"base_url"`
	MaxRetries  int    `toml:"max_retries"`
	BaseDelayMs int    `toml:"base_delay_ms"`
	TimeoutSecs int    `toml:"timeout_seconds"`
}

// ConversationConfig configures chat turn behavior.
type ConversationConfig struct {
	HistoryWindow int `toml:"history_window"`
}

// ToolsConfig configures the assistant's tool gateways. A gateway with
// no URL is left unconfigured and reported as degraded in health.
type ToolsConfig struct {
	Grafana    ToolSourceConfig `toml:"grafana"`
	CloudWatch ToolSourceConfig `toml:"cloudwatch"`
}

// ToolSourceConfig configures one tool gateway.
type ToolSourceConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Timeout returns the assistant request timeout as a duration.
func (a AssistantConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// BaseDelay returns the retry base delay as a duration.
func (c ClientConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// Timeout returns the per-attempt timeout as a duration.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Database: DatabaseConfig{
			Path: "infrachat.db",
		},
		Assistant: AssistantConfig{
			Model:          "default",
			TimeoutSeconds: 60,
			MaxRetries:     3,
		},
		Client: ClientConfig{
			BaseURL:     "http://127.0.0.1:8080",
			MaxRetries:  3,
			BaseDelayMs: 500,
			TimeoutSecs: 30,
		},
		Conversation: ConversationConfig{
			HistoryWindow: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "infrachat.toml"

// Load reads configuration from path, falling back to defaults when the
// file does not exist. A .env file in the working directory is read
// before environment overrides are applied.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; it is optional.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays INFRACHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("INFRACHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("INFRACHAT_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("INFRACHAT_ASSISTANT_ENDPOINT"); v != "" {
		c.Assistant.Endpoint = v
	}
	if v := os.Getenv("INFRACHAT_ASSISTANT_API_KEY"); v != "" {
		c.Assistant.APIKey = v
	}
	if v := os.Getenv("INFRACHAT_ASSISTANT_MODEL"); v != "" {
		c.Assistant.Model = v
	}
	if v := os.Getenv("INFRACHAT_BASE_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("INFRACHAT_GRAFANA_URL"); v != "" {
		c.Tools.Grafana.URL = v
	}
	if v := os.Getenv("INFRACHAT_GRAFANA_API_KEY"); v != "" {
		c.Tools.Grafana.APIKey = v
	}
	if v := os.Getenv("INFRACHAT_CLOUDWATCH_URL"); v != "" {
		c.Tools.CloudWatch.URL = v
	}
	if v := os.Getenv("INFRACHAT_CLOUDWATCH_API_KEY"); v != "" {
		c.Tools.CloudWatch.APIKey = v
	}
	if v := os.Getenv("INFRACHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("INFRACHAT_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = def.Server.RequestsPerSecond
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = def.Server.Burst
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = def.Assistant.Model
	}
	if c.Assistant.TimeoutSeconds == 0 {
		c.Assistant.TimeoutSeconds = def.Assistant.TimeoutSeconds
	}
	if c.Assistant.MaxRetries == 0 {
		c.Assistant.MaxRetries = def.Assistant.MaxRetries
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = def.Client.BaseURL
	}
	if c.Client.MaxRetries == 0 {
		c.Client.MaxRetries = def.Client.MaxRetries
	}
	if c.Client.BaseDelayMs == 0 {
		c.Client.BaseDelayMs = def.Client.BaseDelayMs
	}
	if c.Client.TimeoutSecs == 0 {
		c.Client.TimeoutSecs = def.Client.TimeoutSecs
	}
	if c.Conversation.HistoryWindow == 0 {
		c.Conversation.HistoryWindow = def.Conversation.HistoryWindow
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", c.Server.Port),
		})
	}
	if c.Server.RequestsPerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.requests_per_second",
			Message: "must be positive",
		})
	}
	if c.Assistant.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "assistant.max_retries",
			Message: "must not be negative",
		})
	}
	if c.Client.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "client.max_retries",
			Message: "must not be negative",
		})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
