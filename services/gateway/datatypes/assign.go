// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response bodies for the ingress API.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/tokengate/services/reconciler"
)

const (
	// MaxRolesPerRequest bounds one reconciliation request.
	MaxRolesPerRequest = 100

	// MaxTestRoleSeconds bounds a preview role's hold time.
	MaxTestRoleSeconds = 3600
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate is the validator instance for API datatypes.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("snowflake", validateSnowflake)
}

// validateSnowflake accepts a platform id: 1 to 20 decimal digits.
func validateSnowflake(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) == 0 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// Role Assignment
// =============================================================================

// AssignRolesRequest asks for a member's token-gated roles to match RoleIDs.
//
// # Validation
//
//   - DiscordID: required platform id.
//   - RoleIDs: at most MaxRolesPerRequest platform ids. Empty revokes
//     every catalogued role.
//   - WalletAddress: required, at most 128 characters.
//
// # Examples
//
//	{
//	    "discord_id": "123456789012345678",
//	    "role_ids": ["111111111111111111"],
//	    "wallet_address": "osmo1..."
//	}
type AssignRolesRequest struct {
	DiscordID     string   `json:"discord_id" validate:"required,snowflake"`
	RoleIDs       []string `json:"role_ids" validate:"max=100,dive,snowflake"`
	WalletAddress string   `json:"wallet_address" validate:"required,max=128"`
}

// Validate checks the request against its tags.
func (r *AssignRolesRequest) Validate() error {
	return validate.Struct(r)
}

// ToReconcileRequest converts the body for the reconciler.
func (r *AssignRolesRequest) ToReconcileRequest() reconciler.Request {
	return reconciler.Request{
		MemberID:      r.DiscordID,
		WalletAddress: r.WalletAddress,
		RoleIDs:       r.RoleIDs,
	}
}

// AssignRolesResponse reports a reconciliation.
//
// # Examples
//
//	{
//	    "response_id": "660f9500-f39c-52e5-b827-557766551111",
//	    "timestamp": 1735817400000,
//	    "success": true,
//	    "assigned_roles": ["Holder"],
//	    "failed_roles": ["222"],
//	    "message": "Successfully assigned 1 roles, failed to assign 1 roles"
//	}
type AssignRolesResponse struct {
	ResponseID        string                   `json:"response_id"`
	Timestamp         int64                    `json:"timestamp"`
	Success           bool                     `json:"success"`
	AssignedRoles     []string                 `json:"assigned_roles"`
	FailedRoles       []string                 `json:"failed_roles"`
	Failures          []reconciler.RoleFailure `json:"failures,omitempty"`
	RevokedRoles      []string                 `json:"revoked_roles,omitempty"`
	FailedRevocations []reconciler.RoleFailure `json:"failed_revocations,omitempty"`
	Message           string                   `json:"message"`
}

// NewAssignRolesResponse builds the response body from an outcome.
func NewAssignRolesResponse(out reconciler.Outcome) AssignRolesResponse {
	assigned := out.Granted
	if assigned == nil {
		assigned = []string{}
	}
	return AssignRolesResponse{
		ResponseID:        uuid.New().String(),
		Timestamp:         time.Now().UnixMilli(),
		Success:           out.Success,
		AssignedRoles:     assigned,
		FailedRoles:       out.FailedRoleIDs(),
		Failures:          out.Failed,
		RevokedRoles:      out.Revoked,
		FailedRevocations: out.FailedRevocations,
		Message:           out.Message,
	}
}

// =============================================================================
// Test Role
// =============================================================================

// AssignTestRoleRequest grants a preview role that removes itself.
type AssignTestRoleRequest struct {
	DiscordID       string `json:"discord_id" validate:"required,snowflake"`
	RoleID          string `json:"role_id" validate:"required,snowflake"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0,lte=3600"`
}

// Validate checks the request against its tags.
func (r *AssignTestRoleRequest) Validate() error {
	return validate.Struct(r)
}

// Duration returns the requested hold time, or 0 for the server default.
func (r *AssignTestRoleRequest) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// AssignTestRoleResponse confirms a preview grant.
type AssignTestRoleResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// =============================================================================
// Health
// =============================================================================

// HealthResponse reports platform readiness.
type HealthResponse struct {
	Status   string `json:"status"`
	BotReady bool   `json:"bot_ready"`
	BotUser  string `json:"bot_user,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
