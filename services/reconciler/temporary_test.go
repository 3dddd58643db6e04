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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/platform"
	"github.com/AleutianAI/tokengate/services/platform/platformtest"
)

type tempFixture struct {
	guild   *platformtest.Guild
	client  *platformtest.Client
	metrics *recordingMetrics
	audit   *extensions.MemoryAuditLogger
	grants  *TemporaryGrants
}

func newTempFixture(t *testing.T) *tempFixture {
	t.Helper()
	guild := platformtest.NewGuild(guildID).
		WithRole(platform.Role{ID: "preview", Name: "Preview", Position: 5}).
		WithRole(platform.Role{ID: "admin", Name: "Admin", Position: 150}).
		WithMember(memberID, "alice")
	f := &tempFixture{
		guild:   guild,
		client:  platformtest.NewClient(guild),
		metrics: newRecordingMetrics(),
		audit:   extensions.NewMemoryAuditLogger(),
	}
	f.grants = NewTemporaryGrants(f.client, TemporaryConfig{
		GuildID: guildID,
		Logger:  discardLogger(),
		Audit:   f.audit,
		Metrics: f.metrics,
	})
	return f
}

func waitDone(t *testing.T, g *TemporaryGrant) {
	t.Helper()
	select {
	case <-g.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("grant did not finish")
	}
}

func TestTemporaryGrant_RemovedAfterDuration(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTempFixture(t)

	g, err := f.grants.Grant(context.Background(), memberID, "preview", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "Preview", g.RoleName)
	assert.Equal(t, "alice", g.MemberName)
	assert.Contains(t, f.guild.MemberRoles(memberID), "preview")

	waitDone(t, g)

	assert.NotContains(t, f.guild.MemberRoles(memberID), "preview")
	adds := f.guild.CallsFor("add")
	require.Len(t, adds, 1)
	assert.Equal(t, "Test role assignment from web app", adds[0].Reason)
	removes := f.guild.CallsFor("remove")
	require.Len(t, removes, 1)
	assert.Contains(t, removes[0].Reason, "Auto-removal after")
	assert.Equal(t, 0, f.grants.Pending())
	assert.Equal(t, 0, f.metrics.activeGrants())
}

func TestTemporaryGrant_SkipsRemovalWhenAlreadyGone(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTempFixture(t)

	g, err := f.grants.Grant(context.Background(), memberID, "preview", 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.guild.RemoveMemberRole(context.Background(), memberID, "preview", "manual"))

	waitDone(t, g)

	removes := f.guild.CallsFor("remove")
	require.Len(t, removes, 1)
	assert.Equal(t, "manual", removes[0].Reason)
}

func TestTemporaryGrant_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTempFixture(t)

	g, err := f.grants.Grant(context.Background(), memberID, "preview", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, f.grants.Pending())

	assert.True(t, g.Cancel())
	assert.False(t, g.Cancel(), "second cancel is a no-op")
	waitDone(t, g)

	assert.Contains(t, f.guild.MemberRoles(memberID), "preview")
	assert.Empty(t, f.guild.CallsFor("remove"))
	assert.Equal(t, 0, f.grants.Pending())
	require.NoError(t, f.grants.Shutdown(context.Background()))
}

func TestTemporaryGrant_OverlappingGrantsAreIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTempFixture(t)

	first, err := f.grants.Grant(context.Background(), memberID, "preview", 20*time.Millisecond)
	require.NoError(t, err)
	second, err := f.grants.Grant(context.Background(), memberID, "preview", 200*time.Millisecond)
	require.NoError(t, err)

	waitDone(t, first)
	waitDone(t, second)

	assert.Len(t, f.guild.CallsFor("add"), 2)
	assert.Len(t, f.guild.CallsFor("remove"), 1, "later expiry finds the role gone")
}

func TestTemporaryGrants_ShutdownRevokesPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTempFixture(t)

	g, err := f.grants.Grant(context.Background(), memberID, "preview", time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.grants.Shutdown(context.Background()))
	waitDone(t, g)

	assert.NotContains(t, f.guild.MemberRoles(memberID), "preview")
	assert.Equal(t, 0, f.grants.Pending())
	assert.Equal(t, 0, f.metrics.activeGrants())
	assert.False(t, g.Cancel())

	_, err = f.grants.Grant(context.Background(), memberID, "preview", time.Hour)
	assert.ErrorIs(t, err, ErrGrantsShutdown)
}

func TestTemporaryGrant_DefaultDuration(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTempFixture(t)

	g, err := f.grants.Grant(context.Background(), memberID, "preview", 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultTemporaryDuration, g.Duration)
	assert.WithinDuration(t, time.Now().Add(DefaultTemporaryDuration), g.ExpiresAt, time.Second)
	assert.True(t, g.Cancel())
}

func TestTemporaryGrant_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *tempFixture)
		member  string
		role    string
		wantErr error
	}{
		{name: "not ready", setup: func(f *tempFixture) { f.client.SetReady(false) }, member: memberID, role: "preview", wantErr: ErrBotNotReady},
		{name: "unknown member", member: "ghost", role: "preview", wantErr: ErrMemberNotFound},
		{name: "unknown role", member: memberID, role: "nope", wantErr: ErrRoleNotFound},
		{name: "above bot", member: memberID, role: "admin", wantErr: ErrRoleNotGrantable},
		{
			name:    "no manage roles",
			setup:   func(f *tempFixture) { f.guild.WithSelf(platform.BotMember{UserID: "bot", TopPosition: 100}) },
			member:  memberID,
			role:    "preview",
			wantErr: ErrRoleNotGrantable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTempFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			g, err := f.grants.Grant(context.Background(), tt.member, tt.role, time.Hour)

			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.guild.Calls())
			assert.Equal(t, 0, f.grants.Pending())
		})
	}
}

func TestTemporaryGrant_AddFailure(t *testing.T) {
	f := newTempFixture(t)
	f.guild.FailAdd("preview", platform.ErrTransient)

	_, err := f.grants.Grant(context.Background(), memberID, "preview", time.Hour)

	assert.ErrorIs(t, err, platform.ErrTransient)
	assert.Equal(t, 0, f.grants.Pending())
	failed, qerr := f.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.EventRoleGrantFailed}})
	require.NoError(t, qerr)
	assert.Len(t, failed, 1)
}
