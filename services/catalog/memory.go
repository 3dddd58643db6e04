// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a map-backed Store for tests. It starts no goroutines.
type MemoryStore struct {
	mu    sync.RWMutex
	roles map[string]RoleDefinition

	// ListErr, when set, is returned by List.
	ListErr error
}

// NewMemoryStore creates an empty MemoryStore seeded with roles.
func NewMemoryStore(roles ...RoleDefinition) *MemoryStore {
	s := &MemoryStore{roles: make(map[string]RoleDefinition, len(roles))}
	for _, r := range roles {
		s.roles[r.PlatformRoleID] = r
	}
	return s
}

// Add inserts def.
func (s *MemoryStore) Add(ctx context.Context, def RoleDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[def.PlatformRoleID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, def.PlatformRoleID)
	}
	s.roles[def.PlatformRoleID] = def
	return nil
}

// Exists reports whether platformRoleID is stored.
func (s *MemoryStore) Exists(ctx context.Context, platformRoleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roles[platformRoleID]
	return ok, nil
}

// List returns every stored definition.
func (s *MemoryStore) List(ctx context.Context) ([]RoleDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]RoleDefinition, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

// Delete removes platformRoleID.
func (s *MemoryStore) Delete(ctx context.Context, platformRoleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[platformRoleID]; !ok {
		return false, nil
	}
	delete(s.roles, platformRoleID)
	return true, nil
}

// Close does nothing.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
