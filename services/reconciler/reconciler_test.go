// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/platform"
	"github.com/AleutianAI/tokengate/services/platform/platformtest"
)

const (
	guildID  = "g1"
	memberID = "m1"
	wallet   = "osmo1qqqq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 { return &v }

func holder(name, id string) catalog.RoleDefinition {
	return catalog.RoleDefinition{Name: name, PlatformRoleID: id, Kind: catalog.KindHolder}
}

func amount(name, id string, threshold int64) catalog.RoleDefinition {
	return catalog.RoleDefinition{Name: name, PlatformRoleID: id, Kind: catalog.KindAmount, AmountThreshold: int64Ptr(threshold)}
}

// recordingMetrics counts calls for assertions.
type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
	ops      map[string]int
	active   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: map[string]int{}}
}

func (m *recordingMetrics) ObserveReconcile(status string, _ time.Duration) {
	m.mu.Lock()
	m.statuses = append(m.statuses, status)
	m.mu.Unlock()
}

func (m *recordingMetrics) RoleOperation(action, result string) {
	m.mu.Lock()
	m.ops[action+"/"+result]++
	m.mu.Unlock()
}

func (m *recordingMetrics) TemporaryGrantsActive(delta int) {
	m.mu.Lock()
	m.active += delta
	m.mu.Unlock()
}

func (m *recordingMetrics) activeGrants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

type fixture struct {
	guild   *platformtest.Guild
	client  *platformtest.Client
	store   *catalog.MemoryStore
	audit   *extensions.MemoryAuditLogger
	metrics *recordingMetrics
	rec     *Reconciler
}

// newFixture builds a guild with roles X (pos 10), Y (pos 20),
// Outsider (pos 30, not catalogued) and Admin (pos 150, above the bot).
func newFixture(t *testing.T, memberRoles []string, defs ...catalog.RoleDefinition) *fixture {
	t.Helper()
	guild := platformtest.NewGuild(guildID).
		WithRole(platform.Role{ID: "x", Name: "RoleX", Position: 10}).
		WithRole(platform.Role{ID: "y", Name: "RoleY", Position: 20}).
		WithRole(platform.Role{ID: "outsider", Name: "Outsider", Position: 30}).
		WithRole(platform.Role{ID: "admin", Name: "Admin", Position: 150}).
		WithMember(memberID, "alice", memberRoles...)
	client := platformtest.NewClient(guild)

	f := &fixture{
		guild:   guild,
		client:  client,
		store:   catalog.NewMemoryStore(defs...),
		audit:   extensions.NewMemoryAuditLogger(),
		metrics: newRecordingMetrics(),
	}
	f.rec = New(client, catalog.NewService(f.store), Config{
		GuildID:  guildID,
		Logger:   discardLogger(),
		Audit:    f.audit,
		Metrics:  f.metrics,
		Notifier: NewDirectMessageNotifier(client, ""),
	})
	return f
}

func (f *fixture) reconcile(t *testing.T, roleIDs ...string) Outcome {
	t.Helper()
	out, err := f.rec.Reconcile(context.Background(), Request{MemberID: memberID, WalletAddress: wallet, RoleIDs: roleIDs})
	require.NoError(t, err)
	return out
}

// =============================================================================
// Core Behaviour
// =============================================================================

func TestReconcile_GrantsRequestedAndRevokesUnrequested(t *testing.T) {
	f := newFixture(t, []string{"y"}, holder("RoleX", "x"), amount("RoleY", "y", 5))

	out := f.reconcile(t, "x")

	assert.Equal(t, []string{"RoleX"}, out.Granted)
	assert.Equal(t, []string{"RoleY"}, out.Revoked)
	assert.Empty(t, out.Failed)
	assert.True(t, out.Success)
	assert.Equal(t, "Successfully assigned 1 roles, removed 1 roles", out.Message)
	assert.ElementsMatch(t, []string{"x"}, f.guild.MemberRoles(memberID))

	adds := f.guild.CallsFor("add")
	require.Len(t, adds, 1)
	assert.Equal(t, "Token verification - Wallet: "+wallet, adds[0].Reason)
	removes := f.guild.CallsFor("remove")
	require.Len(t, removes, 1)
	assert.Equal(t, "Token verification - No longer qualifies", removes[0].Reason)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"), amount("RoleY", "y", 5))

	first := f.reconcile(t, "x", "y")
	f.guild.ResetCalls()
	second := f.reconcile(t, "x", "y")

	assert.Equal(t, first.Granted, second.Granted)
	assert.Equal(t, first.Failed, second.Failed)
	assert.Empty(t, f.guild.Calls(), "second pass must not touch the platform")
}

func TestReconcile_HierarchySafety(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"), holder("Admin", "admin"))

	out := f.reconcile(t, "admin", "x")

	assert.Equal(t, []string{"RoleX"}, out.Granted)
	assert.Equal(t, []RoleFailure{{RoleID: "admin", Reason: ReasonHierarchyViolation}}, out.Failed)
	for _, c := range f.guild.Calls() {
		assert.NotEqual(t, "admin", c.RoleID)
	}
}

func TestReconcile_EqualPositionIsHierarchyViolation(t *testing.T) {
	f := newFixture(t, nil, holder("RoleY", "y"))
	f.guild.WithSelf(platform.BotMember{UserID: "bot", ManageRoles: true, TopPosition: 20})

	out := f.reconcile(t, "y")

	assert.Equal(t, []RoleFailure{{RoleID: "y", Reason: ReasonHierarchyViolation}}, out.Failed)
	assert.False(t, out.Success)
}

func TestReconcile_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"))

	out := f.reconcile(t, "missing", "x")

	assert.Equal(t, []string{"RoleX"}, out.Granted)
	assert.Equal(t, []string{"missing"}, out.FailedRoleIDs())
	assert.Equal(t, ReasonRoleNotFound, out.Failed[0].Reason)
	assert.Equal(t, "Successfully assigned 1 roles, failed to assign 1 roles", out.Message)
}

func TestReconcile_CatalogExclusivity(t *testing.T) {
	f := newFixture(t, []string{"outsider"}, holder("RoleX", "x"))

	out := f.reconcile(t, "outsider", "x")
	assert.Equal(t, []string{"Outsider", "RoleX"}, out.Granted, "already-held outsider counts as granted")

	f.guild.ResetCalls()
	f.guild.WithMember(memberID, "alice")
	out = f.reconcile(t, "outsider")

	assert.Equal(t, []RoleFailure{{RoleID: "outsider", Reason: ReasonNotInCatalog}}, out.Failed)
	assert.Empty(t, f.guild.Calls())
}

func TestReconcile_NeverRevokesUncataloguedRoles(t *testing.T) {
	f := newFixture(t, []string{"outsider", "y"}, amount("RoleY", "y", 5))

	out := f.reconcile(t)

	assert.Equal(t, []string{"RoleY"}, out.Revoked)
	assert.ElementsMatch(t, []string{"outsider"}, f.guild.MemberRoles(memberID))
	assert.False(t, out.Success)
}

func TestReconcile_DeduplicatesRequestedIDs(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"))

	out := f.reconcile(t, "x", "x", "x")

	assert.Equal(t, []string{"RoleX"}, out.Granted)
	assert.Len(t, f.guild.CallsFor("add"), 1)
}

func TestReconcile_WithoutManageRoles(t *testing.T) {
	f := newFixture(t, []string{"y"}, holder("RoleX", "x"), holder("RoleY", "y"))
	f.guild.WithSelf(platform.BotMember{UserID: "bot", ManageRoles: false, TopPosition: 100})

	out := f.reconcile(t, "x")

	assert.Equal(t, []RoleFailure{{RoleID: "x", Reason: ReasonInsufficientPermission}}, out.Failed)
	assert.Equal(t, []RoleFailure{{RoleID: "y", Reason: ReasonInsufficientPermission}}, out.FailedRevocations)
	assert.Empty(t, f.guild.Calls())
}

func TestReconcile_PlatformErrorsAreClassified(t *testing.T) {
	f := newFixture(t, []string{"y"}, holder("RoleX", "x"), holder("RoleY", "y"))
	f.guild.FailAdd("x", platform.ErrTransient)
	f.guild.FailRemove("y", platform.ErrForbidden)

	out := f.reconcile(t, "x")

	assert.Equal(t, []RoleFailure{{RoleID: "x", Reason: ReasonPlatformError}}, out.Failed)
	assert.Equal(t, []RoleFailure{{RoleID: "y", Reason: ReasonInsufficientPermission}}, out.FailedRevocations)
	assert.Empty(t, out.Revoked)
	assert.Len(t, f.guild.CallsFor("add"), 1, "no retry inside a pass")
}

// =============================================================================
// Preconditions
// =============================================================================

func TestReconcile_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture) Request
		wantErr error
	}{
		{
			name: "bot not ready",
			setup: func(f *fixture) Request {
				f.client.SetReady(false)
				return Request{MemberID: memberID}
			},
			wantErr: ErrBotNotReady,
		},
		{
			name: "unknown member",
			setup: func(f *fixture) Request {
				return Request{MemberID: "ghost"}
			},
			wantErr: ErrMemberNotFound,
		},
		{
			name: "empty member",
			setup: func(f *fixture) Request {
				return Request{}
			},
			wantErr: ErrMemberNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, holder("RoleX", "x"))
			req := tt.setup(f)
			req.RoleIDs = []string{"x"}

			_, err := f.rec.Reconcile(context.Background(), req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.guild.Calls())
		})
	}
}

func TestReconcile_GuildNotFound(t *testing.T) {
	client := platformtest.NewClient()
	rec := New(client, catalog.NewService(catalog.NewMemoryStore()), Config{GuildID: "nope", Logger: discardLogger()})

	_, err := rec.Reconcile(context.Background(), Request{MemberID: memberID})

	assert.ErrorIs(t, err, ErrGuildNotFound)
}

func TestReconcile_MissingGuildID(t *testing.T) {
	client := platformtest.NewClient()
	rec := New(client, catalog.NewService(catalog.NewMemoryStore()), Config{Logger: discardLogger()})

	_, err := rec.Reconcile(context.Background(), Request{MemberID: memberID})

	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestReconcile_CatalogFailureAbortsBeforeMutation(t *testing.T) {
	f := newFixture(t, []string{"y"}, holder("RoleX", "x"))
	f.store.ListErr = errors.New("disk gone")

	_, err := f.rec.Reconcile(context.Background(), Request{MemberID: memberID, RoleIDs: []string{"x"}})

	assert.ErrorContains(t, err, "disk gone")
	assert.Empty(t, f.guild.Calls())
	assert.Equal(t, []string{"error"}, f.metrics.statuses)
}

// =============================================================================
// Side Effects
// =============================================================================

func TestReconcile_NotifiesOnGrant(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"))

	f.reconcile(t, "x")

	dms := f.client.DirectMessages()
	require.Len(t, dms, 1)
	assert.Equal(t, memberID, dms[0].Target)
	embed := dms[0].Message.Embeds[0]
	assert.Equal(t, "🎉 Roles Assigned Successfully!", embed.Title)
	assert.Equal(t, "• RoleX", embed.Fields[0].Value)
	assert.Equal(t, "`"+wallet+"`", embed.Fields[1].Value)
}

func TestReconcile_NotificationFailureSwallowed(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"))
	f.client.DMErr = platform.ErrForbidden

	out := f.reconcile(t, "x")

	assert.True(t, out.Success)
}

func TestReconcile_NoNotificationWithoutGrant(t *testing.T) {
	f := newFixture(t, nil, holder("RoleX", "x"))

	f.reconcile(t, "missing")

	assert.Empty(t, f.client.DirectMessages())
}

func TestReconcile_AuditAndMetrics(t *testing.T) {
	f := newFixture(t, []string{"y"}, holder("RoleX", "x"), holder("RoleY", "y"))
	f.guild.FailRemove("y", platform.ErrTransient)

	f.reconcile(t, "x")

	granted, err := f.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.EventRoleGranted}})
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, "x", granted[0].ResourceID)
	assert.Equal(t, memberID, granted[0].UserID)

	failed, err := f.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.EventRoleRevokeFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "failure", failed[0].Outcome)

	assert.Equal(t, 1, f.metrics.ops["add/success"])
	assert.Equal(t, 1, f.metrics.ops["remove/platform_error"])
	assert.Equal(t, []string{"partial"}, f.metrics.statuses)
}
