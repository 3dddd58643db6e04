// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envNames = []string{
	"DISCORD_BOT_TOKEN", "DISCORD_GUILD_ID", "DISCORD_BOT_API_KEY", "WEB_APP_URL",
	"TOKENGATE_PORT", "TOKENGATE_CATALOG_BACKEND", "TOKENGATE_CATALOG_PATH",
	"TOKENGATE_MONITOR_INTERVAL", "TOKENGATE_MONITOR_SNAPSHOT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "TOKENGATE_LOG_LEVEL",
}

// clearEnv unsets every consulted variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const sampleYAML = `
discord:
  token: file-token
  guild_id: "123456789"
api:
  port: 9000
  key: file-key
catalog:
  backend: sqlite
  path: /tmp/catalog.db
monitor:
  enabled: true
  interval: 1m
  snapshot_path: /tmp/balances.yaml
web_app_url: https://verify.example.org
`

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, sampleYAML))

	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Discord.Token)
	assert.Equal(t, "123456789", cfg.Discord.GuildID)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, BackendSQLite, cfg.Catalog.Backend)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, "https://verify.example.org", cfg.WebAppURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "env-token")
	t.Setenv("DISCORD_BOT_API_KEY", "env-key")
	t.Setenv("TOKENGATE_PORT", "8123")
	t.Setenv("TOKENGATE_MONITOR_INTERVAL", "45s")
	t.Setenv("TOKENGATE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleYAML))

	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "env-key", cfg.API.Key)
	assert.Equal(t, "123456789", cfg.Discord.GuildID, "unset variables keep file values")
	assert.Equal(t, 8123, cfg.API.Port)
	assert.Equal(t, 45*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.API.Port)
	assert.Equal(t, DefaultWebAppURL, cfg.WebAppURL)
	assert.Equal(t, BackendBadger, cfg.Catalog.Backend)
	assert.Equal(t, DefaultCatalogPath, cfg.Catalog.Path)
	assert.Equal(t, DefaultMonitorInterval, cfg.Monitor.Interval)
	assert.Equal(t, DefaultTestRoleDuration, cfg.API.TestRoleDuration)
	require.NotNil(t, cfg.Discord.RegisterCommands)
	assert.True(t, *cfg.Discord.RegisterCommands)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestValidate_MissingSecrets(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "DISCORD_BOT_TOKEN")
	assert.Contains(t, err.Error(), "DISCORD_GUILD_ID")
	assert.Contains(t, err.Error(), "DISCORD_BOT_API_KEY")
}

func TestValidate_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"non-numeric guild", func(c *Config) { c.Discord.GuildID = "abc" }, "must be numeric"},
		{"unknown backend", func(c *Config) { c.Catalog.Backend = "mongo" }, "catalog.backend"},
		{"monitor without snapshot", func(c *Config) { c.Monitor.Enabled = true }, "snapshot_path"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Discord: DiscordConfig{Token: "t", GuildID: "1"},
				API:     APIConfig{Key: "k"},
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Masked(t *testing.T) {
	cfg := Config{
		Discord: DiscordConfig{Token: "MTIzNDU2Nzg5.secret"},
		API:     APIConfig{Key: "abc"},
	}

	masked := cfg.Masked()

	assert.Equal(t, "MT******et", masked.Discord.Token)
	assert.Equal(t, "****", masked.API.Key)
	assert.Equal(t, "abc", cfg.API.Key, "original untouched")
}
