// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor periodically re-derives every linked member's eligible
// roles from their token balance and triggers a reconciliation.
//
// # Description
//
// Balances are produced elsewhere (the verification service). Each cycle
// reads the current population from a Source, loads the catalog once,
// computes the eligible role set per member with catalog.EligibleRoles
// and calls the Reconciler for members whose balance changed since the
// last successful pass.
//
// A member whose reconciliation fails or reports a failed role is retried
// on the next cycle. Nothing is retried inside a cycle.
package monitor

import (
	"context"
	"time"

	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/reconciler"
)

// Target is one linked member and their latest balance.
type Target struct {
	MemberID      string  `yaml:"discord_id"`
	WalletAddress string  `yaml:"wallet_address"`
	Balance       float64 `yaml:"balance"`
}

// Source yields the member population for one cycle.
type Source interface {
	Targets(ctx context.Context) ([]Target, error)
}

// Reconciler is the trigger target.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconciler.Request) (reconciler.Outcome, error)
}

// Catalog is the catalog capability a cycle needs.
type Catalog interface {
	GetAllRoles(ctx context.Context) ([]catalog.RoleDefinition, error)
}

// Metrics records cycle telemetry.
type Metrics interface {
	ObserveCycle(result CycleResult)
}

// NopMetrics discards everything.
type NopMetrics struct{}

// ObserveCycle implements Metrics.
func (NopMetrics) ObserveCycle(CycleResult) {}

// CycleResult summarizes one cycle.
type CycleResult struct {
	StartedAt time.Time
	Duration  time.Duration

	// Targets is the population size read from the Source.
	Targets int

	// Unchanged counts members skipped because their balance and eligible
	// roles matched the last clean pass.
	Unchanged int

	// Reconciled counts members whose reconciliation ran cleanly.
	Reconciled int

	// Failed counts members whose reconciliation errored or reported a
	// failed role. They are retried next cycle.
	Failed int

	Granted int
	Revoked int
}

var (
	_ Reconciler = (*reconciler.Reconciler)(nil)
	_ Catalog    = (*catalog.Service)(nil)
	_ Metrics    = NopMetrics{}
)
