// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the ingress API endpoints.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tokengate/services/gateway/datatypes"
	"github.com/AleutianAI/tokengate/services/reconciler"
)

// RoleReconciler is the subset of *reconciler.Reconciler the API calls.
type RoleReconciler interface {
	Reconcile(ctx context.Context, req reconciler.Request) (reconciler.Outcome, error)
}

// TemporaryGranter is the subset of *reconciler.TemporaryGrants the API calls.
type TemporaryGranter interface {
	Grant(ctx context.Context, memberID, roleID string, d time.Duration) (*reconciler.TemporaryGrant, error)
}

var (
	_ RoleReconciler   = (*reconciler.Reconciler)(nil)
	_ TemporaryGranter = (*reconciler.TemporaryGrants)(nil)
)

// =============================================================================
// POST /assign-roles
// =============================================================================

// HandleAssignRoles reconciles a member's token-gated roles.
//
// # Description
//
// Binds and validates an AssignRolesRequest, runs one reconciliation
// and replies with the outcome. Per-role failures are part of a 200
// reply; only failed preconditions map to error statuses:
//
//	503 bot not ready
//	404 guild or member not found
//	500 misconfiguration, catalog or unexpected failure
//	400 malformed or invalid body
//
// # Thread Safety
//
// Safe for concurrent requests. Requests for the same member are not
// serialized.
func HandleAssignRoles(rec RoleReconciler, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var req datatypes.AssignRolesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid request", err)
			return
		}

		out, err := rec.Reconcile(c.Request.Context(), req.ToReconcileRequest())
		if err != nil {
			status, msg := reconcileErrorStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("role assignment failed",
					"member_id", req.DiscordID,
					"error", err)
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: msg})
			return
		}

		logger.Info("role assignment processed",
			"member_id", req.DiscordID,
			"granted", len(out.Granted),
			"failed", len(out.Failed),
			"revoked", len(out.Revoked))
		c.JSON(http.StatusOK, datatypes.NewAssignRolesResponse(out))
	}
}

func reconcileErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reconciler.ErrBotNotReady):
		return http.StatusServiceUnavailable, "Discord bot is not ready"
	case errors.Is(err, reconciler.ErrGuildNotFound):
		return http.StatusNotFound, "Discord server not found"
	case errors.Is(err, reconciler.ErrMemberNotFound):
		return http.StatusNotFound, "User not found in Discord server"
	case errors.Is(err, reconciler.ErrMisconfigured):
		return http.StatusInternalServerError, "Server misconfigured"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// =============================================================================
// POST /assign-test-role
// =============================================================================

// HandleAssignTestRole grants a role that removes itself after a delay.
//
// # Description
//
// duration_seconds of 0 or absent uses the server default. The reply
// carries the removal time:
//
//	{
//	    "success": true,
//	    "message": "Test role 'Holder' assigned to alice. Will be removed after 30 seconds.",
//	    "expires_at": "2026-01-02T15:04:35Z"
//	}
func HandleAssignTestRole(grants TemporaryGranter, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var req datatypes.AssignTestRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid request", err)
			return
		}

		g, err := grants.Grant(c.Request.Context(), req.DiscordID, req.RoleID, req.Duration())
		if err != nil {
			status, msg := grantErrorStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("test role assignment failed",
					"member_id", req.DiscordID,
					"role_id", req.RoleID,
					"error", err)
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: msg})
			return
		}

		c.JSON(http.StatusOK, datatypes.AssignTestRoleResponse{
			Success: true,
			Message: fmt.Sprintf("Test role '%s' assigned to %s. Will be removed after %d seconds.",
				g.RoleName, g.MemberName, int(g.Duration.Seconds())),
			ExpiresAt: g.ExpiresAt.UTC(),
		})
	}
}

func grantErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reconciler.ErrRoleNotFound):
		return http.StatusNotFound, "Role not found"
	case errors.Is(err, reconciler.ErrRoleNotGrantable):
		return http.StatusForbidden, "Bot cannot manage this role"
	case errors.Is(err, reconciler.ErrGrantsShutdown):
		return http.StatusServiceUnavailable, "Server is shutting down"
	default:
		return reconcileErrorStatus(err)
	}
}

func respondError(c *gin.Context, status int, msg string, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: msg, Details: err.Error()})
}
