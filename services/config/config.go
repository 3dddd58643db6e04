// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads tokengate configuration from a YAML file and the
// process environment.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
// The environment uses the variable names the bot has always used
// (DISCORD_BOT_TOKEN, DISCORD_GUILD_ID, DISCORD_BOT_API_KEY, WEB_APP_URL)
// plus TOKENGATE_* for everything newer.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate when required values are missing
// or malformed. The process must not start with an invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Catalog backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Defaults.
const (
	DefaultPort             = 8001
	DefaultWebAppURL        = "http://localhost:3000"
	DefaultCatalogPath      = "~/.tokengate/catalog"
	DefaultMonitorInterval  = 30 * time.Second
	DefaultMonitorRate      = 5.0
	DefaultMonitorBurst     = 10
	DefaultTestRoleDuration = 30 * time.Second
	DefaultServiceName      = "tokengate"
)

// Config is the complete tokengate configuration.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	API       APIConfig       `yaml:"api"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`

	// WebAppURL is the public base URL of the wallet verification web app.
	WebAppURL string `yaml:"web_app_url"`
}

// DiscordConfig configures the chat platform connection.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`

	// RegisterCommands bulk-overwrites the guild's slash commands on ready.
	RegisterCommands *bool `yaml:"register_commands"`
}

// APIConfig configures the ingress HTTP API.
type APIConfig struct {
	Port int    `yaml:"port"`
	Key  string `yaml:"key"`

	// TestRoleDuration is the default lifetime of /assign-test-role grants.
	TestRoleDuration time.Duration `yaml:"test_role_duration"`
}

// CatalogConfig selects and configures the role catalog store.
type CatalogConfig struct {
	// Backend is "badger" (default) or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the badger directory or the sqlite file.
	Path string `yaml:"path"`

	// InMemory runs badger without touching disk. Ignored for sqlite.
	InMemory bool `yaml:"in_memory"`
}

// MonitorConfig configures the periodic balance monitor.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between cycles.
	Interval time.Duration `yaml:"interval"`

	// SnapshotPath is the YAML balance snapshot written by the verifier.
	SnapshotPath string `yaml:"snapshot_path"`

	// RatePerSecond and Burst pace reconciliation calls within a cycle.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// OTelEndpoint enables OTLP gRPC trace export when set.
	OTelEndpoint string `yaml:"otel_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// envOverrides lists every environment variable consulted. Empty values
// leave the file value in place.
type envOverrides struct {
	DiscordToken    string        `envconfig:"DISCORD_BOT_TOKEN"`
	DiscordGuildID  string        `envconfig:"DISCORD_GUILD_ID"`
	APIKey          string        `envconfig:"DISCORD_BOT_API_KEY"`
	WebAppURL       string        `envconfig:"WEB_APP_URL"`
	Port            int           `envconfig:"TOKENGATE_PORT"`
	CatalogBackend  string        `envconfig:"TOKENGATE_CATALOG_BACKEND"`
	CatalogPath     string        `envconfig:"TOKENGATE_CATALOG_PATH"`
	MonitorInterval time.Duration `envconfig:"TOKENGATE_MONITOR_INTERVAL"`
	MonitorSnapshot string        `envconfig:"TOKENGATE_MONITOR_SNAPSHOT"`
	OTelEndpoint    string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel        string        `envconfig:"TOKENGATE_LOG_LEVEL"`
}

// Load reads configuration from path (optional) and the environment.
//
// # Description
//
// An empty path skips the file. A path that does not exist is an error,
// so a typo on the command line is not silently ignored. Defaults are
// applied last. Load does not validate; call Validate before starting
// long-lived components.
//
// # Inputs
//
//   - path: YAML file path, or "".
//
// # Outputs
//
//   - *Config: Merged configuration.
//   - error: File read, YAML parse, or environment parse failure.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	setString(&c.Discord.Token, env.DiscordToken)
	setString(&c.Discord.GuildID, env.DiscordGuildID)
	setString(&c.API.Key, env.APIKey)
	setString(&c.WebAppURL, env.WebAppURL)
	setString(&c.Catalog.Backend, env.CatalogBackend)
	setString(&c.Catalog.Path, env.CatalogPath)
	setString(&c.Monitor.SnapshotPath, env.MonitorSnapshot)
	setString(&c.Telemetry.OTelEndpoint, env.OTelEndpoint)
	setString(&c.Logging.Level, env.LogLevel)

	if env.Port != 0 {
		c.API.Port = env.Port
	}
	if env.MonitorInterval != 0 {
		c.Monitor.Interval = env.MonitorInterval
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = DefaultPort
	}
	if c.API.TestRoleDuration == 0 {
		c.API.TestRoleDuration = DefaultTestRoleDuration
	}
	if c.WebAppURL == "" {
		c.WebAppURL = DefaultWebAppURL
	}
	if c.Discord.RegisterCommands == nil {
		register := true
		c.Discord.RegisterCommands = &register
	}
	if c.Catalog.Backend == "" {
		c.Catalog.Backend = BackendBadger
	}
	if c.Catalog.Path == "" && !c.Catalog.InMemory {
		c.Catalog.Path = DefaultCatalogPath
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = DefaultMonitorInterval
	}
	if c.Monitor.RatePerSecond == 0 {
		c.Monitor.RatePerSecond = DefaultMonitorRate
	}
	if c.Monitor.Burst == 0 {
		c.Monitor.Burst = DefaultMonitorBurst
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate reports every missing or malformed value in one error wrapping
// ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string

	if c.Discord.Token == "" {
		problems = append(problems, "DISCORD_BOT_TOKEN is not set")
	}
	if c.Discord.GuildID == "" {
		problems = append(problems, "DISCORD_GUILD_ID is not set")
	} else if !isSnowflake(c.Discord.GuildID) {
		problems = append(problems, "DISCORD_GUILD_ID must be numeric")
	}
	if c.API.Key == "" {
		problems = append(problems, "DISCORD_BOT_API_KEY is not set")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		problems = append(problems, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}
	switch c.Catalog.Backend {
	case BackendBadger, BackendSQLite:
	default:
		problems = append(problems, fmt.Sprintf("catalog.backend %q is not one of badger, sqlite", c.Catalog.Backend))
	}
	if c.Catalog.Backend == BackendSQLite && c.Catalog.Path == "" {
		problems = append(problems, "catalog.path is required for sqlite")
	}
	if c.Monitor.Enabled && c.Monitor.SnapshotPath == "" {
		problems = append(problems, "monitor.snapshot_path is required when the monitor is enabled")
	}
	if c.Monitor.Interval < 0 {
		problems = append(problems, "monitor.interval must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Masked returns a copy of c with secrets replaced, suitable for printing.
func (c Config) Masked() Config {
	c.Discord.Token = mask(c.Discord.Token)
	c.API.Key = mask(c.API.Key)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", 6) + s[len(s)-2:]
}

func isSnowflake(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
