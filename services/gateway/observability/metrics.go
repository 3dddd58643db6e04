// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for role reconciliation.
//
// # Description
//
// Metrics cover:
//   - Reconciliations by status and their duration
//   - Individual role add/remove operations by result
//   - Pending temporary grants
//   - Balance monitor cycles and the members they touched
//   - Ingress API requests by route and status code
//
// # Integration
//
// Metrics register on an injected registry and are served on GET /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/tokengate/services/monitor"
	"github.com/AleutianAI/tokengate/services/reconciler"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "tokengate"

const (
	reconcilerSubsystem = "reconciler"
	monitorSubsystem    = "monitor"
	apiSubsystem        = "api"
)

// Metrics holds every collector the service exports.
//
// # Fields
//
//   - ReconcileTotal: reconciliations by status (success, partial, none, error)
//   - ReconcileDuration: reconciliation latency by status
//   - RoleOperationsTotal: role adds/removes by action and result
//   - TemporaryGrants: pending self-revoking grants
//   - MonitorCyclesTotal: completed monitor cycles
//   - MonitorMembersTotal: members per cycle by outcome
//   - MonitorCycleDuration: cycle latency
//   - RequestsTotal: ingress requests by route and code
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	ReconcileTotal       *prometheus.CounterVec
	ReconcileDuration    *prometheus.HistogramVec
	RoleOperationsTotal  *prometheus.CounterVec
	TemporaryGrants      prometheus.Gauge
	MonitorCyclesTotal   prometheus.Counter
	MonitorMembersTotal  *prometheus.CounterVec
	MonitorCycleDuration prometheus.Histogram
	RequestsTotal        *prometheus.CounterVec
}

var (
	_ reconciler.Metrics = (*Metrics)(nil)
	_ monitor.Metrics    = (*Metrics)(nil)
)

// NewMetrics creates the collectors and registers them on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Tests pass prometheus.NewRegistry().
//
// # Outputs
//
//   - *Metrics: Ready to record.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reconcilerSubsystem,
				Name:      "reconciliations_total",
				Help:      "Total reconciliations by status",
			},
			[]string{"status"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: reconcilerSubsystem,
				Name:      "duration_seconds",
				Help:      "Reconciliation duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		RoleOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reconcilerSubsystem,
				Name:      "role_operations_total",
				Help:      "Role add/remove calls by action and result",
			},
			[]string{"action", "result"},
		),
		TemporaryGrants: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: reconcilerSubsystem,
				Name:      "temporary_grants_active",
				Help:      "Temporary roles awaiting removal",
			},
		),
		MonitorCyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitorSubsystem,
				Name:      "cycles_total",
				Help:      "Completed balance monitor cycles",
			},
		),
		MonitorMembersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitorSubsystem,
				Name:      "members_total",
				Help:      "Members processed by the monitor by outcome",
			},
			[]string{"outcome"},
		),
		MonitorCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: monitorSubsystem,
				Name:      "cycle_duration_seconds",
				Help:      "Balance monitor cycle duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "requests_total",
				Help:      "Ingress API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	reg.MustRegister(
		m.ReconcileTotal,
		m.ReconcileDuration,
		m.RoleOperationsTotal,
		m.TemporaryGrants,
		m.MonitorCyclesTotal,
		m.MonitorMembersTotal,
		m.MonitorCycleDuration,
		m.RequestsTotal,
	)
	return m
}

// =============================================================================
// Recording
// =============================================================================

// ObserveReconcile implements reconciler.Metrics.
func (m *Metrics) ObserveReconcile(status string, d time.Duration) {
	m.ReconcileTotal.WithLabelValues(status).Inc()
	m.ReconcileDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RoleOperation implements reconciler.Metrics.
func (m *Metrics) RoleOperation(action, result string) {
	m.RoleOperationsTotal.WithLabelValues(action, result).Inc()
}

// TemporaryGrantsActive implements reconciler.Metrics.
func (m *Metrics) TemporaryGrantsActive(delta int) {
	m.TemporaryGrants.Add(float64(delta))
}

// ObserveCycle implements monitor.Metrics.
func (m *Metrics) ObserveCycle(r monitor.CycleResult) {
	m.MonitorCyclesTotal.Inc()
	m.MonitorCycleDuration.Observe(r.Duration.Seconds())
	m.MonitorMembersTotal.WithLabelValues("unchanged").Add(float64(r.Unchanged))
	m.MonitorMembersTotal.WithLabelValues("reconciled").Add(float64(r.Reconciled))
	m.MonitorMembersTotal.WithLabelValues("failed").Add(float64(r.Failed))
}

// RecordRequest counts one ingress request.
func (m *Metrics) RecordRequest(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
