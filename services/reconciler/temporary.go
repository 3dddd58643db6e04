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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/platform"
)

// DefaultTemporaryDuration is how long a preview role is held.
const DefaultTemporaryDuration = 30 * time.Second

// Errors specific to temporary grants.
var (
	ErrRoleNotFound     = errors.New("role not found")
	ErrRoleNotGrantable = errors.New("role cannot be managed by the bot")
	ErrGrantsShutdown   = errors.New("temporary grants are shut down")
)

const (
	temporaryGrantReason = "Test role assignment from web app"

	// removalTimeout bounds the revocation made when a grant expires.
	removalTimeout = 10 * time.Second
)

// TemporaryConfig wires TemporaryGrants.
type TemporaryConfig struct {
	GuildID string

	// Duration is used when Grant is called with d <= 0.
	// Default DefaultTemporaryDuration.
	Duration time.Duration

	Logger  *slog.Logger
	Audit   extensions.AuditLogger
	Metrics Metrics
}

// TemporaryGrants hands out preview roles that remove themselves.
//
// # Description
//
// Grant adds a role now and arms a timer. When the timer fires the role is
// removed if the member still holds it. Overlapping grants for the same
// member and role are independent; the later removal is a no-op.
//
// # Thread Safety
//
// Safe for concurrent use.
type TemporaryGrants struct {
	client   platform.Client
	guildID  string
	duration time.Duration
	logger   *slog.Logger
	audit    extensions.AuditLogger
	metrics  Metrics

	mu      sync.Mutex
	pending map[uint64]*TemporaryGrant
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
}

// TemporaryGrant is one pending preview role.
type TemporaryGrant struct {
	MemberID   string
	MemberName string
	RoleID     string
	RoleName   string
	ExpiresAt  time.Time
	Duration   time.Duration

	id    uint64
	owner *TemporaryGrants
	timer *time.Timer
	done  chan struct{}
}

// NewTemporaryGrants creates the grant scheduler.
func NewTemporaryGrants(client platform.Client, cfg TemporaryConfig) *TemporaryGrants {
	t := &TemporaryGrants{
		client:   client,
		guildID:  cfg.GuildID,
		duration: cfg.Duration,
		logger:   cfg.Logger,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		pending:  make(map[uint64]*TemporaryGrant),
	}
	if t.duration <= 0 {
		t.duration = DefaultTemporaryDuration
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.audit == nil {
		t.audit = &extensions.NopAuditLogger{}
	}
	if t.metrics == nil {
		t.metrics = NopMetrics{}
	}
	return t
}

// Grant adds roleID to memberID and schedules its removal after d.
//
// # Inputs
//
//   - ctx: Bounds the add call only; the scheduled removal outlives it.
//   - memberID, roleID: Targets.
//   - d: Hold time. d <= 0 uses the configured default.
//
// # Outputs
//
//   - *TemporaryGrant: Handle for Cancel and Done.
//   - error: ErrBotNotReady, ErrGuildNotFound, ErrMemberNotFound,
//     ErrRoleNotFound, ErrRoleNotGrantable, ErrGrantsShutdown, or a
//     wrapped platform error from the add call.
func (t *TemporaryGrants) Grant(ctx context.Context, memberID, roleID string, d time.Duration) (*TemporaryGrant, error) {
	if d <= 0 {
		d = t.duration
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrGrantsShutdown
	}

	guild, member, role, err := t.resolve(ctx, memberID, roleID)
	if err != nil {
		return nil, err
	}

	err = guild.AddMemberRole(ctx, memberID, roleID, temporaryGrantReason)
	t.recordChange(ctx, "add", memberID, role, err)
	if err != nil {
		return nil, fmt.Errorf("add temporary role %s: %w", roleID, err)
	}

	g := &TemporaryGrant{
		MemberID:   memberID,
		MemberName: member.DisplayName,
		RoleID:     roleID,
		RoleName:   role.Name,
		ExpiresAt:  time.Now().Add(d),
		Duration:   d,
		owner:      t,
		done:       make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.expire(g, guild)
		return nil, ErrGrantsShutdown
	}
	t.nextID++
	g.id = t.nextID
	t.pending[g.id] = g
	t.wg.Add(1)
	g.timer = time.AfterFunc(d, func() {
		defer t.wg.Done()
		if !t.claim(g) {
			return
		}
		t.expire(g, guild)
	})
	t.mu.Unlock()

	t.metrics.TemporaryGrantsActive(1)
	t.logger.Info("temporary role granted",
		"member_id", memberID,
		"role_id", roleID,
		"role_name", role.Name,
		"expires_at", g.ExpiresAt.Format(time.RFC3339))
	return g, nil
}

// Pending returns the number of grants whose removal has not run.
func (t *TemporaryGrants) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Shutdown revokes every pending grant now and waits for in-flight
// removals. Later Grant calls fail with ErrGrantsShutdown.
func (t *TemporaryGrants) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	var early []*TemporaryGrant
	for _, g := range t.pending {
		if g.timer.Stop() {
			delete(t.pending, g.id)
			early = append(early, g)
		}
	}
	t.mu.Unlock()

	for _, g := range early {
		guild, err := t.client.Guild(ctx, t.guildID)
		if err != nil {
			t.logger.Warn("temporary role not revoked at shutdown", "member_id", g.MemberID, "role_id", g.RoleID, "error", err)
			t.finish(g)
			t.wg.Done()
			continue
		}
		t.expire(g, guild)
		t.wg.Done()
	}

	waited := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for temporary role removals: %w", ctx.Err())
	}
}

// Cancel stops the pending removal; the member keeps the role. Returns
// false if the removal already ran or was cancelled.
func (g *TemporaryGrant) Cancel() bool {
	t := g.owner
	if !g.timer.Stop() {
		return false
	}
	if !t.claim(g) {
		return false
	}
	t.finish(g)
	t.wg.Done()
	t.logger.Info("temporary role removal cancelled", "member_id", g.MemberID, "role_id", g.RoleID)
	return true
}

// Done is closed once the grant is removed or cancelled.
func (g *TemporaryGrant) Done() <-chan struct{} { return g.done }

// =============================================================================
// Internals
// =============================================================================

func (t *TemporaryGrants) resolve(ctx context.Context, memberID, roleID string) (platform.Guild, platform.Member, platform.Role, error) {
	var (
		member platform.Member
		role   platform.Role
	)
	if !t.client.Ready() {
		return nil, member, role, ErrBotNotReady
	}
	if t.guildID == "" {
		return nil, member, role, fmt.Errorf("%w: guild id not configured", ErrMisconfigured)
	}

	guild, err := t.client.Guild(ctx, t.guildID)
	if errors.Is(err, platform.ErrNotFound) {
		return nil, member, role, fmt.Errorf("%w: %s", ErrGuildNotFound, t.guildID)
	}
	if err != nil {
		return nil, member, role, fmt.Errorf("resolve guild: %w", err)
	}

	member, err = guild.Member(ctx, memberID)
	if errors.Is(err, platform.ErrNotFound) {
		return nil, member, role, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	if err != nil {
		return nil, member, role, fmt.Errorf("fetch member: %w", err)
	}

	roles, err := guild.Roles(ctx)
	if err != nil {
		return nil, member, role, fmt.Errorf("list guild roles: %w", err)
	}
	found := false
	for _, r := range roles {
		if r.ID == roleID {
			role, found = r, true
			break
		}
	}
	if !found {
		return nil, member, role, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}

	self, err := guild.Self(ctx)
	if err != nil {
		return nil, member, role, fmt.Errorf("inspect bot member: %w", err)
	}
	if !self.ManageRoles || role.Position >= self.TopPosition {
		return nil, member, role, fmt.Errorf("%w: %s", ErrRoleNotGrantable, roleID)
	}
	return guild, member, role, nil
}

// claim removes g from the pending set. Only the first caller wins.
func (t *TemporaryGrants) claim(g *TemporaryGrant) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[g.id]; !ok {
		return false
	}
	delete(t.pending, g.id)
	return true
}

func (t *TemporaryGrants) finish(g *TemporaryGrant) {
	t.metrics.TemporaryGrantsActive(-1)
	close(g.done)
}

// expire removes the role if the member still holds it.
func (t *TemporaryGrants) expire(g *TemporaryGrant, guild platform.Guild) {
	defer func() {
		if g.id != 0 {
			t.finish(g)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
	defer cancel()

	member, err := guild.Member(ctx, g.MemberID)
	if err != nil {
		t.logger.Warn("temporary role expiry: member lookup failed", "member_id", g.MemberID, "role_id", g.RoleID, "error", err)
		return
	}
	if !member.HasRole(g.RoleID) {
		t.logger.Debug("temporary role already gone", "member_id", g.MemberID, "role_id", g.RoleID)
		return
	}

	reason := fmt.Sprintf("Auto-removal after %d seconds", int(g.Duration.Seconds()))
	err = guild.RemoveMemberRole(ctx, g.MemberID, g.RoleID, reason)
	t.recordChange(ctx, "remove", g.MemberID, platform.Role{ID: g.RoleID, Name: g.RoleName}, err)
	if err != nil {
		t.logger.Warn("temporary role removal failed", "member_id", g.MemberID, "role_id", g.RoleID, "error", err)
		return
	}
	t.logger.Info("temporary role removed", "member_id", g.MemberID, "role_id", g.RoleID)
}

func (t *TemporaryGrants) recordChange(ctx context.Context, action, memberID string, role platform.Role, err error) {
	event := extensions.AuditEvent{
		EventType:    extensions.EventRoleGranted,
		UserID:       memberID,
		Action:       action,
		ResourceType: "guild_role",
		ResourceID:   role.ID,
		Outcome:      "success",
		Metadata:     map[string]any{"guild_id": t.guildID, "role_name": role.Name, "temporary": true},
	}
	if action == "remove" {
		event.EventType = extensions.EventRoleRevoked
	}
	result := "success"
	if err != nil {
		event.Outcome = "failure"
		event.Metadata["error"] = err.Error()
		if action == "remove" {
			event.EventType = extensions.EventRoleRevokeFailed
		} else {
			event.EventType = extensions.EventRoleGrantFailed
		}
		result = string(classify(err))
	}
	t.metrics.RoleOperation(action, result)
	if aerr := t.audit.Log(ctx, event); aerr != nil {
		t.logger.Warn("audit log failed", "event_type", event.EventType, "error", aerr)
	}
}
