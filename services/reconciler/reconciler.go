// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconciler makes a member's token-gated roles match an asserted
// eligibility set.
//
// # Description
//
// A reconciliation grants every requested role the bot is able to grant and
// revokes every catalogued role the member holds but no longer qualifies
// for. Roles that are not in the catalog are never touched.
//
// Failures are isolated per role: a missing role, a permission problem or
// a platform error on one role is reported in the Outcome and the pass
// moves on. Only preconditions (platform not ready, guild or member not
// found, catalog unreadable) fail the whole call.
//
// There is no retry inside a pass. The caller (API client or balance
// monitor) converges by calling again.
//
// # Thread Safety
//
// Reconciler is safe for concurrent use. Concurrent calls for the same
// member are not serialized; the last one applied wins.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/platform"
)

var tracer = otel.Tracer("tokengate.services.reconciler")

// Precondition errors. Any of these means no role was touched.
var (
	ErrBotNotReady    = errors.New("discord bot is not ready")
	ErrGuildNotFound  = errors.New("discord server not found")
	ErrMemberNotFound = errors.New("user not found in discord server")
	ErrMisconfigured  = errors.New("reconciler misconfigured")
)

// FailureReason classifies why a single role could not be applied.
type FailureReason string

const (
	ReasonRoleNotFound           FailureReason = "role_not_found"
	ReasonNotInCatalog           FailureReason = "not_in_catalog"
	ReasonInsufficientPermission FailureReason = "insufficient_permission"
	ReasonHierarchyViolation     FailureReason = "hierarchy_violation"
	ReasonPlatformError          FailureReason = "platform_error"
)

// Audit log reasons attached to role changes.
const (
	grantReasonPrefix = "Token verification - Wallet: "
	revokeReason      = "Token verification - No longer qualifies"
)

// RoleFailure is one role that could not be granted or revoked.
type RoleFailure struct {
	RoleID string        `json:"role_id"`
	Reason FailureReason `json:"reason"`
}

// Request asks for a member's token-gated roles to match RoleIDs.
type Request struct {
	MemberID      string
	WalletAddress string
	RoleIDs       []string
}

// Outcome is the result of one reconciliation.
type Outcome struct {
	// Granted names the requested roles the member holds after the pass,
	// including roles that were already held.
	Granted []string `json:"granted_roles"`

	// Failed lists requested roles that could not be granted.
	Failed []RoleFailure `json:"failed_roles,omitempty"`

	// Revoked names catalogued roles removed because they were not requested.
	Revoked []string `json:"revoked_roles,omitempty"`

	// FailedRevocations lists catalogued roles that should have been removed
	// but could not be.
	FailedRevocations []RoleFailure `json:"failed_revocations,omitempty"`

	// Success is true when at least one role ended up granted.
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FailedRoleIDs returns the ids of Failed in order.
func (o Outcome) FailedRoleIDs() []string {
	ids := make([]string, 0, len(o.Failed))
	for _, f := range o.Failed {
		ids = append(ids, f.RoleID)
	}
	return ids
}

// CatalogReader is the catalog capability the reconciler needs.
type CatalogReader interface {
	GetAllRoles(ctx context.Context) ([]catalog.RoleDefinition, error)
}

var _ CatalogReader = (*catalog.Service)(nil)

// Metrics records reconciliation telemetry. Implementations must be safe
// for concurrent use.
type Metrics interface {
	// ObserveReconcile records one reconciliation by status
	// ("success", "partial", "none", "error") and its duration.
	ObserveReconcile(status string, d time.Duration)

	// RoleOperation counts one add or remove attempt by result.
	RoleOperation(action string, result string)

	// TemporaryGrantsActive adjusts the pending temporary grants gauge.
	TemporaryGrantsActive(delta int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveReconcile(string, time.Duration) {}
func (NopMetrics) RoleOperation(string, string)           {}
func (NopMetrics) TemporaryGrantsActive(int)              {}

var _ Metrics = NopMetrics{}

// Config wires a Reconciler.
type Config struct {
	// GuildID is the one server this process manages. Required.
	GuildID string

	Logger   *slog.Logger
	Audit    extensions.AuditLogger
	Metrics  Metrics
	Notifier Notifier

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Reconciler applies role reconciliations against one guild.
type Reconciler struct {
	client   platform.Client
	catalog  CatalogReader
	guildID  string
	logger   *slog.Logger
	audit    extensions.AuditLogger
	metrics  Metrics
	notifier Notifier
	now      func() time.Time
}

// New creates a Reconciler.
//
// # Inputs
//
//   - client: The platform connection. Required.
//   - cat: The role catalog. Required.
//   - cfg: Guild id and optional collaborators. Nil collaborators get
//     no-op defaults; a nil Notifier sends nothing.
func New(client platform.Client, cat CatalogReader, cfg Config) *Reconciler {
	r := &Reconciler{
		client:   client,
		catalog:  cat,
		guildID:  cfg.GuildID,
		logger:   cfg.Logger,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		notifier: cfg.Notifier,
		now:      cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.audit == nil {
		r.audit = &extensions.NopAuditLogger{}
	}
	if r.metrics == nil {
		r.metrics = NopMetrics{}
	}
	if r.notifier == nil {
		r.notifier = NopNotifier{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// GuildID returns the managed guild.
func (r *Reconciler) GuildID() string { return r.guildID }

// Reconcile grants the requested roles and revokes catalogued roles that
// were not requested.
//
// # Description
//
// Requested ids are de-duplicated and processed in caller order. For each:
//
//  1. An id with no live role fails with role_not_found.
//  2. An id the member already holds counts as granted; no call is made.
//  3. An id outside the catalog fails with not_in_catalog.
//  4. Without manage-roles permission the id fails with insufficient_permission.
//  5. A role ranked at or above the bot's top role fails with hierarchy_violation.
//  6. Otherwise the role is added. A platform error fails that id only.
//
// The revocation pass then removes every catalogued role the member held
// at the start that was not requested, under the same permission and
// hierarchy checks. If anything was granted the member gets a direct
// message; delivery failures are logged and ignored.
//
// # Outputs
//
//   - Outcome: Per-role results. Partial failure is not an error.
//   - error: ErrBotNotReady, ErrMisconfigured, ErrGuildNotFound,
//     ErrMemberNotFound, or a wrapped catalog/platform error when the
//     pass could not start.
//
// # Examples
//
//	out, err := rec.Reconcile(ctx, reconciler.Request{
//	    MemberID:      "123456789012345678",
//	    WalletAddress: "osmo1...",
//	    RoleIDs:       []string{"111", "222"},
//	})
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "reconciler.Reconcile",
		trace.WithAttributes(
			attribute.String("member.id", req.MemberID),
			attribute.Int("roles.requested", len(req.RoleIDs)),
		))
	defer span.End()

	start := r.now()
	defer func() {
		status := outcomeStatus(out, err)
		r.metrics.ObserveReconcile(status, r.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconcile failed")
			return
		}
		span.SetAttributes(
			attribute.Int("roles.granted", len(out.Granted)),
			attribute.Int("roles.failed", len(out.Failed)),
			attribute.Int("roles.revoked", len(out.Revoked)),
		)
	}()

	st, err := r.load(ctx, req.MemberID)
	if err != nil {
		return Outcome{}, err
	}

	for _, roleID := range dedupe(req.RoleIDs) {
		r.grantOne(ctx, st, req, roleID, &out)
	}
	r.revokeUnrequested(ctx, st, req, &out)

	out.Success = len(out.Granted) > 0
	out.Message = summary(out)

	r.logger.Info("reconciliation complete",
		"member_id", req.MemberID,
		"granted", len(out.Granted),
		"failed", len(out.Failed),
		"revoked", len(out.Revoked),
		"failed_revocations", len(out.FailedRevocations))

	if len(out.Granted) > 0 {
		if nerr := r.notifier.RolesAssigned(ctx, req.MemberID, req.WalletAddress, out.Granted); nerr != nil {
			r.logger.Warn("role notification not delivered", "member_id", req.MemberID, "error", nerr)
		}
	}
	return out, nil
}

// =============================================================================
// Pass State
// =============================================================================

// passState is the live snapshot one pass works against.
type passState struct {
	guild     platform.Guild
	member    platform.Member
	roles     map[string]platform.Role
	catalogue map[string]catalog.RoleDefinition
	self      platform.BotMember
}

func (r *Reconciler) load(ctx context.Context, memberID string) (*passState, error) {
	if !r.client.Ready() {
		return nil, ErrBotNotReady
	}
	if r.guildID == "" {
		return nil, fmt.Errorf("%w: guild id not configured", ErrMisconfigured)
	}
	if memberID == "" {
		return nil, fmt.Errorf("%w: empty member id", ErrMemberNotFound)
	}

	guild, err := r.client.Guild(ctx, r.guildID)
	if errors.Is(err, platform.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGuildNotFound, r.guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve guild: %w", err)
	}

	member, err := guild.Member(ctx, memberID)
	if errors.Is(err, platform.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch member: %w", err)
	}

	defs, err := r.catalog.GetAllRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	live, err := guild.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guild roles: %w", err)
	}
	roles := make(map[string]platform.Role, len(live))
	for _, role := range live {
		roles[role.ID] = role
	}

	self, err := guild.Self(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect bot member: %w", err)
	}

	return &passState{
		guild:     guild,
		member:    member,
		roles:     roles,
		catalogue: catalog.PlatformIDs(defs),
		self:      self,
	}, nil
}

// =============================================================================
// Grant and Revoke Passes
// =============================================================================

func (r *Reconciler) grantOne(ctx context.Context, st *passState, req Request, roleID string, out *Outcome) {
	fail := func(reason FailureReason) {
		out.Failed = append(out.Failed, RoleFailure{RoleID: roleID, Reason: reason})
		r.logger.Warn("role not granted", "member_id", req.MemberID, "role_id", roleID, "reason", reason)
	}

	role, ok := st.roles[roleID]
	if !ok {
		fail(ReasonRoleNotFound)
		return
	}
	if st.member.HasRole(roleID) {
		out.Granted = append(out.Granted, role.Name)
		return
	}
	if _, ok := st.catalogue[roleID]; !ok {
		fail(ReasonNotInCatalog)
		return
	}
	if reason, ok := st.checkManageable(role); !ok {
		fail(reason)
		return
	}

	err := st.guild.AddMemberRole(ctx, req.MemberID, roleID, grantReasonPrefix+req.WalletAddress)
	r.recordChange(ctx, extensions.EventRoleGranted, extensions.EventRoleGrantFailed, "add", req, role, err)
	if err != nil {
		fail(classify(err))
		return
	}
	out.Granted = append(out.Granted, role.Name)
	r.logger.Info("role granted", "member_id", req.MemberID, "role_id", roleID, "role_name", role.Name)
}

func (r *Reconciler) revokeUnrequested(ctx context.Context, st *passState, req Request, out *Outcome) {
	requested := make(map[string]struct{}, len(req.RoleIDs))
	for _, id := range req.RoleIDs {
		requested[id] = struct{}{}
	}

	for _, roleID := range st.member.RoleIDs {
		if _, keep := requested[roleID]; keep {
			continue
		}
		if _, gated := st.catalogue[roleID]; !gated {
			continue
		}
		role, ok := st.roles[roleID]
		if !ok {
			continue
		}

		fail := func(reason FailureReason) {
			out.FailedRevocations = append(out.FailedRevocations, RoleFailure{RoleID: roleID, Reason: reason})
			r.logger.Warn("role not revoked", "member_id", req.MemberID, "role_id", roleID, "reason", reason)
		}
		if reason, ok := st.checkManageable(role); !ok {
			fail(reason)
			continue
		}

		err := st.guild.RemoveMemberRole(ctx, req.MemberID, roleID, revokeReason)
		r.recordChange(ctx, extensions.EventRoleRevoked, extensions.EventRoleRevokeFailed, "remove", req, role, err)
		if err != nil {
			fail(classify(err))
			continue
		}
		out.Revoked = append(out.Revoked, role.Name)
		r.logger.Info("role revoked", "member_id", req.MemberID, "role_id", roleID, "role_name", role.Name)
	}
}

// checkManageable reports whether the bot may change role.
func (st *passState) checkManageable(role platform.Role) (FailureReason, bool) {
	if !st.self.ManageRoles {
		return ReasonInsufficientPermission, false
	}
	if role.Position >= st.self.TopPosition {
		return ReasonHierarchyViolation, false
	}
	return "", true
}

func (r *Reconciler) recordChange(ctx context.Context, okEvent, failEvent, action string, req Request, role platform.Role, err error) {
	event := extensions.AuditEvent{
		EventType:    okEvent,
		UserID:       req.MemberID,
		Action:       action,
		ResourceType: "guild_role",
		ResourceID:   role.ID,
		Outcome:      "success",
		Metadata: map[string]any{
			"guild_id":  r.guildID,
			"role_name": role.Name,
			"wallet":    req.WalletAddress,
		},
	}
	result := "success"
	if err != nil {
		event.EventType = failEvent
		event.Outcome = "failure"
		event.Metadata["error"] = err.Error()
		result = string(classify(err))
	}
	r.metrics.RoleOperation(action, result)
	if aerr := r.audit.Log(ctx, event); aerr != nil {
		r.logger.Warn("audit log failed", "event_type", event.EventType, "error", aerr)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func classify(err error) FailureReason {
	switch {
	case errors.Is(err, platform.ErrForbidden):
		return ReasonInsufficientPermission
	case errors.Is(err, platform.ErrNotFound):
		return ReasonRoleNotFound
	default:
		return ReasonPlatformError
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func summary(out Outcome) string {
	msg := fmt.Sprintf("Successfully assigned %d roles", len(out.Granted))
	if len(out.Failed) > 0 {
		msg += fmt.Sprintf(", failed to assign %d roles", len(out.Failed))
	}
	if len(out.Revoked) > 0 {
		msg += fmt.Sprintf(", removed %d roles", len(out.Revoked))
	}
	return msg
}

func outcomeStatus(out Outcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(out.Granted) == 0:
		return "none"
	case len(out.Failed) > 0 || len(out.FailedRevocations) > 0:
		return "partial"
	default:
		return "success"
	}
}
