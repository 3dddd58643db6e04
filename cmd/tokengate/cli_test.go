// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tokengate/services/config"
)

// =============================================================================
// Test Harness
// =============================================================================

// clearEnv neutralizes string overrides from the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DISCORD_BOT_TOKEN", "DISCORD_GUILD_ID", "DISCORD_BOT_API_KEY", "WEB_APP_URL",
		"TOKENGATE_CATALOG_BACKEND", "TOKENGATE_CATALOG_PATH", "TOKENGATE_MONITOR_SNAPSHOT",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "TOKENGATE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

// writeConfig writes a sqlite-backed config into a temp dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("catalog:\n  backend: sqlite\n  path: %s\n%s", filepath.Join(dir, "catalog.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// runCLI executes the root command with fresh flag state.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	addName, addThreshold, addCreatedBy = "", 0, "cli"
	if f := catalogAddCmd.Flags().Lookup("threshold"); f != nil {
		f.Changed = false
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// Catalog Commands
// =============================================================================

func TestCatalog_AddListRemove(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	out, err := runCLI(t, "catalog", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No roles configured.")

	out, err = runCLI(t, "catalog", "add", "300", "--name", "Whale", "--threshold", "25", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `Added amount role "Whale" (300)`)

	_, err = runCLI(t, "catalog", "add", "100", "--name", "Holder", "--config", cfg)
	require.NoError(t, err)

	out, err = runCLI(t, "catalog", "add", "200", "--name", "Dolphin", "--threshold", "0", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "amount role", "an explicit zero threshold is still an amount role")

	out, err = runCLI(t, "catalog", "list", "--config", cfg)
	require.NoError(t, err)
	holder := strings.Index(out, "Holder")
	dolphin := strings.Index(out, "Dolphin")
	whale := strings.Index(out, "Whale")
	assert.True(t, holder < dolphin && dolphin < whale, "holder first, then by threshold:\n%s", out)

	out, err = runCLI(t, "catalog", "remove", "200", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed role 200")

	out, err = runCLI(t, "catalog", "list", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "Dolphin")
}

func TestCatalog_AddDuplicate(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	_, err := runCLI(t, "catalog", "add", "100", "--name", "Holder", "--config", cfg)
	require.NoError(t, err)

	_, err = runCLI(t, "catalog", "add", "100", "--name", "Again", "--config", cfg)
	assert.ErrorContains(t, err, "already in the catalog")
}

func TestCatalog_RemoveAbsent(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	_, err := runCLI(t, "catalog", "remove", "404", "--config", cfg)

	assert.ErrorContains(t, err, "not in the catalog")
}

func TestCatalog_AddRequiresName(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	_, err := runCLI(t, "catalog", "add", "100", "--config", cfg)

	assert.Error(t, err)
}

func TestCatalog_NegativeThresholdRejected(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	_, err := runCLI(t, "catalog", "add", "100", "--name", "Bad", "--threshold", "-5", "--config", cfg)

	assert.ErrorContains(t, err, "negative")
}

// =============================================================================
// Config Commands
// =============================================================================

func TestConfigCheck_Valid(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, `
discord:
  token: bot-token-value-123
  guild_id: "123456789012345678"
api:
  key: shared-secret-987
`)

	out, err := runCLI(t, "config", "check", "--config", cfg)

	require.NoError(t, err)
	assert.Contains(t, out, "Configuration OK")
	assert.NotContains(t, out, "bot-token-value-123")
	assert.NotContains(t, out, "shared-secret-987")
	assert.Contains(t, out, "123456789012345678")
}

func TestConfigCheck_MissingSecrets(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	out, err := runCLI(t, "config", "check", "--config", cfg)

	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "DISCORD_BOT_TOKEN is not set")
	assert.Contains(t, out, "catalog:", "effective values print before validation fails")
}

func TestConfigCheck_EnvOverride(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, `
discord:
  token: from-file-token
  guild_id: "1"
api:
  key: from-file-key
`)
	t.Setenv("DISCORD_GUILD_ID", "222222222222222222")

	out, err := runCLI(t, "config", "check", "--config", cfg)

	require.NoError(t, err)
	assert.Contains(t, out, "222222222222222222")
}

func TestServe_RejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "")

	_, err := runCLI(t, "serve", "--config", cfg)

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
