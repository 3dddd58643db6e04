// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/gateway/middleware"
	"github.com/AleutianAI/tokengate/services/gateway/observability"
	"github.com/AleutianAI/tokengate/services/platform"
	"github.com/AleutianAI/tokengate/services/platform/platformtest"
	"github.com/AleutianAI/tokengate/services/reconciler"
)

const testKey = "k3y-for-tests"

type harness struct {
	svc    Service
	guild  *platformtest.Guild
	client *platformtest.Client
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat := catalog.NewService(catalog.NewMemoryStore(
		catalog.RoleDefinition{Name: "Holder", PlatformRoleID: "111", Kind: catalog.KindHolder},
	))
	guild := platformtest.NewGuild("900").
		WithRole(platform.Role{ID: "111", Name: "Holder", Position: 10}).
		WithMember("42", "alice")
	client := platformtest.NewClient(guild)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	rec := reconciler.New(client, cat, reconciler.Config{GuildID: "900", Logger: logger, Metrics: metrics})
	grants := reconciler.NewTemporaryGrants(client, reconciler.TemporaryConfig{GuildID: "900", Logger: logger, Metrics: metrics})
	t.Cleanup(func() { _ = grants.Shutdown(context.Background()) })

	opts := extensions.DefaultOptions().WithAuth(extensions.NewAPIKeyProvider(testKey))
	if cfg.GinMode == "" {
		cfg.GinMode = gin.TestMode
	}
	svc, err := New(cfg, Deps{
		Reconciler: rec,
		Grants:     grants,
		Readiness:  client,
		Registry:   reg,
		Requests:   metrics,
		Logger:     logger,
	}, &opts)
	require.NoError(t, err)
	return &harness{svc: svc, guild: guild, client: client}
}

func (h *harness) do(method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(middleware.APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	h.svc.Router().ServeHTTP(w, req)
	return w
}

const assignBody = `{"discord_id":"42","role_ids":["111"],"wallet_address":"osmo1abc"}`

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil)
	assert.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "tokengate", cfg.ServiceName)
	assert.Equal(t, gin.ReleaseMode, cfg.GinMode)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.OTelEndpoint, "tracing stays off unless configured")
}

func TestRouter_RejectsWithoutKey(t *testing.T) {
	h := newHarness(t, Config{})

	for _, path := range []string{"/assign-roles", "/assign-permanent-roles", "/assign-test-role"} {
		w := h.do(http.MethodPost, path, "", assignBody)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = h.do(http.MethodPost, path, "wrong", assignBody)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	assert.Empty(t, h.guild.Calls(), "rejected requests never touch the platform")
}

func TestRouter_AssignRoles(t *testing.T) {
	h := newHarness(t, Config{})

	w := h.do(http.MethodPost, "/assign-roles", testKey, assignBody)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"assigned_roles":["Holder"]`)
	assert.Equal(t, []string{"111"}, h.guild.MemberRoles("42"))
}

func TestRouter_PermanentAlias(t *testing.T) {
	h := newHarness(t, Config{})

	w := h.do(http.MethodPost, "/assign-permanent-roles", testKey, assignBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"111"}, h.guild.MemberRoles("42"))
}

func TestRouter_NotReady(t *testing.T) {
	h := newHarness(t, Config{})
	h.client.SetReady(false)

	w := h.do(http.MethodPost, "/assign-roles", testKey, assignBody)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"Discord bot is not ready"}`, w.Body.String())
}

func TestRouter_HealthIsOpen(t *testing.T) {
	h := newHarness(t, Config{})

	w := h.do(http.MethodGet, "/health", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","bot_ready":true,"bot_user":"TokenGate#0001"}`, w.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	h := newHarness(t, Config{})
	h.do(http.MethodPost, "/assign-roles", testKey, assignBody)

	w := h.do(http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `tokengate_reconciler_reconciliations_total{status="success"} 1`)
	assert.Contains(t, body, `tokengate_reconciler_role_operations_total{action="add",result="success"} 1`)
	assert.Contains(t, body, `tokengate_api_requests_total{code="200",route="/assign-roles"} 1`)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	h := newHarness(t, Config{Port: port, ShutdownTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewSpanExporter_Stdout(t *testing.T) {
	ctx := context.Background()

	exp, closeConn, err := newSpanExporter(ctx, StdoutEndpoint)

	require.NoError(t, err)
	closeConn()
	assert.NoError(t, exp.Shutdown(ctx))
}
