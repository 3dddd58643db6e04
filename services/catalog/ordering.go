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
	"sort"
)

// SortForDisplay returns a copy of roles ordered for listing: holder roles
// first, then amount roles by ascending threshold. Ties break by name.
func SortForDisplay(roles []RoleDefinition) []RoleDefinition {
	out := make([]RoleDefinition, len(roles))
	copy(out, roles)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Kind == KindHolder) != (b.Kind == KindHolder) {
			return a.Kind == KindHolder
		}
		if a.Threshold() != b.Threshold() {
			return a.Threshold() < b.Threshold()
		}
		return a.Name < b.Name
	})
	return out
}

// PlatformIDs returns the set of platform role ids in roles.
func PlatformIDs(roles []RoleDefinition) map[string]RoleDefinition {
	out := make(map[string]RoleDefinition, len(roles))
	for _, r := range roles {
		out[r.PlatformRoleID] = r
	}
	return out
}

// EligibleRoles computes the platform role ids a balance earns.
//
// # Description
//
// A non-positive balance earns nothing. Otherwise every holder role is
// earned, plus only the single highest amount role whose threshold the
// balance meets. Lower amount tiers are not stacked.
//
// # Inputs
//
//   - roles: The full catalog.
//   - balance: Token balance in whole display units.
//
// # Outputs
//
//   - []string: Platform role ids, holder roles first in display order.
func EligibleRoles(roles []RoleDefinition, balance float64) []string {
	if balance <= 0 {
		return nil
	}

	var (
		out  []string
		best *RoleDefinition
	)
	for _, r := range SortForDisplay(roles) {
		switch r.Kind {
		case KindHolder:
			out = append(out, r.PlatformRoleID)
		case KindAmount:
			if balance >= float64(r.Threshold()) {
				r := r
				best = &r
			}
		}
	}
	if best != nil {
		out = append(out, best.PlatformRoleID)
	}
	return out
}
