// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the role catalog: the community's own record of
// which chat platform roles are token-gated and under what condition.
//
// The catalog is the boundary of automation. The reconciler only ever adds
// or removes roles whose platform id is present here; every other role in
// the guild is left alone.
//
// Storage is pluggable through Store. Two persistent backends exist
// (catalog/badgerstore and catalog/sqlitestore) plus MemoryStore for tests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrConflict is returned when a platform role id is already catalogued.
	ErrConflict = errors.New("role already exists in catalog")

	// ErrNotFound is returned when a platform role id is not catalogued.
	ErrNotFound = errors.New("role not found in catalog")

	// ErrInvalidRole is returned for definitions that violate the data model.
	ErrInvalidRole = errors.New("invalid role definition")
)

// Kind classifies how a role is earned.
type Kind string

const (
	// KindHolder roles go to any wallet holding a positive balance.
	KindHolder Kind = "holder"

	// KindAmount roles require a balance at or above AmountThreshold.
	KindAmount Kind = "amount"
)

// RoleDefinition is one catalogued, token-gated role.
//
// Definitions are never edited in place; a change is a delete followed by
// a new AddRole.
type RoleDefinition struct {
	// ID is assigned by the catalog.
	ID string `json:"id"`

	// Name is the display name captured when the role was catalogued.
	Name string `json:"name"`

	// PlatformRoleID identifies the role in the chat platform. Unique.
	PlatformRoleID string `json:"platform_role_id"`

	Kind Kind `json:"kind"`

	// AmountThreshold is set iff Kind is KindAmount.
	AmountThreshold *int64 `json:"amount_threshold,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Threshold returns the amount threshold, or 0 for holder roles.
func (r RoleDefinition) Threshold() int64 {
	if r.AmountThreshold == nil {
		return 0
	}
	return *r.AmountThreshold
}

// Store persists role definitions keyed by platform role id.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Add must enforce
// platform id uniqueness atomically (inside the store's own transaction
// or constraint), so two concurrent adds of one id yield one ErrConflict.
type Store interface {
	// Add inserts def. Returns ErrConflict if the platform id exists.
	Add(ctx context.Context, def RoleDefinition) error

	// Exists reports whether the platform id is catalogued.
	Exists(ctx context.Context, platformRoleID string) (bool, error)

	// List returns every definition in unspecified order.
	List(ctx context.Context) ([]RoleDefinition, error)

	// Delete removes the definition. Returns false if it was absent.
	Delete(ctx context.Context, platformRoleID string) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// =============================================================================
// Service
// =============================================================================

// NewRoleRequest carries the caller-supplied fields of AddRole.
type NewRoleRequest struct {
	Name            string
	PlatformRoleID  string
	AmountThreshold *int64
	CreatedBy       string
}

// Service implements the catalog operations on top of a Store.
//
// # Thread Safety
//
// Safe for concurrent use if the Store is.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a catalog service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddRole catalogues a platform role.
//
// # Description
//
// Derives Kind from the threshold (none means KindHolder), assigns a new
// id and UTC timestamps, and inserts through the store.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - req: Name and PlatformRoleID are required; AmountThreshold must be
//     non-negative when present.
//
// # Outputs
//
//   - RoleDefinition: The stored definition.
//   - error: ErrInvalidRole, ErrConflict, or a store failure.
//
// # Examples
//
//	threshold := int64(5)
//	def, err := svc.AddRole(ctx, catalog.NewRoleRequest{
//	    Name: "Whale", PlatformRoleID: "1203", AmountThreshold: &threshold, CreatedBy: adminID,
//	})
//	if errors.Is(err, catalog.ErrConflict) { ... }
func (s *Service) AddRole(ctx context.Context, req NewRoleRequest) (RoleDefinition, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return RoleDefinition{}, fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	if strings.TrimSpace(req.PlatformRoleID) == "" {
		return RoleDefinition{}, fmt.Errorf("%w: platform role id is required", ErrInvalidRole)
	}

	kind := KindHolder
	var threshold *int64
	if req.AmountThreshold != nil {
		if *req.AmountThreshold < 0 {
			return RoleDefinition{}, fmt.Errorf("%w: amount threshold %d is negative", ErrInvalidRole, *req.AmountThreshold)
		}
		kind = KindAmount
		v := *req.AmountThreshold
		threshold = &v
	}

	now := s.now()
	def := RoleDefinition{
		ID:              uuid.NewString(),
		Name:            name,
		PlatformRoleID:  req.PlatformRoleID,
		Kind:            kind,
		AmountThreshold: threshold,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Add(ctx, def); err != nil {
		return RoleDefinition{}, err
	}
	return def, nil
}

// RoleExists reports whether platformRoleID is catalogued.
func (s *Service) RoleExists(ctx context.Context, platformRoleID string) (bool, error) {
	return s.store.Exists(ctx, platformRoleID)
}

// GetAllRoles returns every catalogued role in unspecified order.
func (s *Service) GetAllRoles(ctx context.Context) ([]RoleDefinition, error) {
	roles, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return roles, nil
}

// DeleteRole removes platformRoleID. Returns false if it was absent.
func (s *Service) DeleteRole(ctx context.Context, platformRoleID string) (bool, error) {
	return s.store.Delete(ctx, platformRoleID)
}

// RolesByKind returns the catalogued roles of one kind.
func (s *Service) RolesByKind(ctx context.Context, kind Kind) ([]RoleDefinition, error) {
	roles, err := s.GetAllRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoleDefinition, 0, len(roles))
	for _, r := range roles {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
