// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/reconciler"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("monitor scheduler is already running")

// =============================================================================
// Scheduler Configuration
// =============================================================================

// SchedulerConfig holds configuration for the balance monitor scheduler.
//
// # Fields
//
//   - Interval: Time between cycles. Default: 30 seconds.
//   - RatePerSecond: Reconcile calls allowed per second. Default: 5.
//   - Burst: Calls allowed back to back. Default: 10.
//   - Logger: Structured logger. Default: slog.Default().
//   - Metrics: Cycle telemetry. Default: NopMetrics.
type SchedulerConfig struct {
	Interval      time.Duration
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
	Metrics       Metrics
}

// DefaultSchedulerConfig returns the production defaults.
//
// # Examples
//
//	cfg := monitor.DefaultSchedulerConfig()
//	cfg.Interval = time.Minute
//	s := monitor.NewScheduler(source, cat, rec, cfg)
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      30 * time.Second,
		RatePerSecond: 5,
		Burst:         10,
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler runs monitor cycles on a ticker.
//
// # Description
//
// Start launches one goroutine that runs a cycle immediately and then on
// every tick until Stop is called or the context is cancelled. RunNow runs
// a cycle on the caller's goroutine. Cycles never overlap: a RunNow during
// a scheduled cycle waits for it.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	source  Source
	catalog Catalog
	rec     Reconciler
	config  SchedulerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics Metrics

	// cycleMu serializes cycles and guards settled.
	cycleMu sync.Mutex
	settled map[string]string

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewScheduler creates a scheduler. Zero config fields take the defaults.
func NewScheduler(source Source, cat Catalog, rec Reconciler, config SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = def.RatePerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Scheduler{
		source:  source,
		catalog: cat,
		rec:     rec,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		logger:  logger.With("component", "monitor"),
		metrics: metrics,
		settled: make(map[string]string),
	}
}

// Start begins the background loop.
//
// # Inputs
//
//   - ctx: Cancelling it stops the loop like Stop.
//
// # Outputs
//
//   - error: ErrAlreadyRunning if Start was already called without Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("balance monitor starting",
		"interval", s.config.Interval.String(),
		"rate_per_second", s.config.RatePerSecond,
		"burst", s.config.Burst)

	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for the current cycle to finish. Safe
// to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("balance monitor stopped")
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs one cycle immediately.
//
// # Outputs
//
//   - CycleResult: What the cycle did.
//   - error: The population or the catalog could not be loaded. Per
//     member failures are counted, not returned.
func (s *Scheduler) RunNow(ctx context.Context) (CycleResult, error) {
	return s.runCycle(ctx)
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("balance monitor stopped (context cancelled)")
			s.mu.Lock()
			if s.done == done {
				s.running = false
			}
			s.mu.Unlock()
			return
		case <-done:
			return
		case <-ticker.C:
			s.executeCycle(ctx)
		}
	}
}

// executeCycle wraps runCycle so a failing cycle never ends the loop.
func (s *Scheduler) executeCycle(ctx context.Context) {
	result, err := s.runCycle(ctx)
	if err != nil {
		s.logger.Error("monitor cycle failed", "error", err)
		return
	}
	if result.Reconciled > 0 || result.Failed > 0 {
		s.logger.Info("monitor cycle completed",
			"targets", result.Targets,
			"reconciled", result.Reconciled,
			"failed", result.Failed,
			"unchanged", result.Unchanged,
			"granted", result.Granted,
			"revoked", result.Revoked,
			"duration_ms", result.Duration.Milliseconds())
	} else {
		s.logger.Debug("monitor cycle completed (no balance changes)", "targets", result.Targets)
	}
}

func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	result := CycleResult{StartedAt: time.Now()}

	targets, err := s.source.Targets(ctx)
	if err != nil {
		return result, fmt.Errorf("load monitor targets: %w", err)
	}
	result.Targets = len(targets)
	if len(targets) == 0 {
		s.metrics.ObserveCycle(result)
		return result, nil
	}

	roles, err := s.catalog.GetAllRoles(ctx)
	if err != nil {
		return result, fmt.Errorf("load catalog: %w", err)
	}

	for _, target := range targets {
		eligible := catalog.EligibleRoles(roles, target.Balance)
		key := settleKey(target.Balance, eligible)
		if last, ok := s.settled[target.MemberID]; ok && last == key {
			result.Unchanged++
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("monitor cycle interrupted: %w", err)
		}

		out, err := s.rec.Reconcile(ctx, reconciler.Request{
			MemberID:      target.MemberID,
			WalletAddress: target.WalletAddress,
			RoleIDs:       eligible,
		})
		if err != nil {
			result.Failed++
			delete(s.settled, target.MemberID)
			s.logger.Warn("member reconciliation failed", "member_id", target.MemberID, "error", err)
			continue
		}

		result.Granted += len(out.Granted)
		result.Revoked += len(out.Revoked)
		if len(out.Failed) > 0 || len(out.FailedRevocations) > 0 {
			result.Failed++
			delete(s.settled, target.MemberID)
			continue
		}
		result.Reconciled++
		s.settled[target.MemberID] = key
	}

	result.Duration = time.Since(result.StartedAt)
	s.metrics.ObserveCycle(result)
	return result, nil
}

// settleKey identifies the inputs of a member's last clean pass. A catalog
// change that alters the eligible set forces a new pass.
func settleKey(balance float64, eligible []string) string {
	return strconv.FormatFloat(balance, 'g', -1, 64) + "|" + strings.Join(eligible, ",")
}
