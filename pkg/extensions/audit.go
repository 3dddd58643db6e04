// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types emitted by tokengate.
const (
	EventRoleGranted        = "role.granted"
	EventRoleRevoked        = "role.revoked"
	EventRoleGrantFailed    = "role.grant_failed"
	EventRoleRevokeFailed   = "role.revoke_failed"
	EventCatalogRoleAdded   = "catalog.role_added"
	EventCatalogRoleRemoved = "catalog.role_removed"
)

// AuditEvent records one role mutation, attempted or performed.
//
// # Examples
//
//	event := AuditEvent{
//	    EventType:    EventRoleGranted,
//	    UserID:       memberID,
//	    Action:       "add",
//	    ResourceType: "role",
//	    ResourceID:   roleID,
//	    Outcome:      "success",
//	    Metadata:     map[string]any{"wallet_address": wallet},
//	}
type AuditEvent struct {
	// EventType is one of the Event* constants.
	EventType string

	// Timestamp is set to time.Now().UTC() by loggers when zero.
	Timestamp time.Time

	// UserID is the community member affected, or the admin for catalog edits.
	UserID string

	// Action is "add" or "remove".
	Action string

	// ResourceType is "role" or "catalog_entry".
	ResourceType string

	// ResourceID is the platform role id.
	ResourceID string

	// Outcome is "success" or "failure".
	Outcome string

	// Metadata carries event-specific details such as the failure reason.
	Metadata map[string]any
}

// AuditFilter selects events from loggers that retain them. Zero fields
// match everything.
type AuditFilter struct {
	EventTypes []string
	UserID     string
	Limit      int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// AuditLogger records role mutations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Log must not block for
// long; the reconciler calls it inline.
type AuditLogger interface {
	// Log records one event.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns retained events, newest first. Loggers that do not
	// retain events return an empty slice.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. Called on shutdown.
	Flush(ctx context.Context) error
}

// =============================================================================
// No-op Logger
// =============================================================================

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

// Query returns no events.
func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush does nothing.
func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// =============================================================================
// Slog Logger
// =============================================================================

// SlogAuditLogger writes each event as one structured log record at Info
// level with the "audit" message. It does not retain events.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger on top of logger. A nil
// logger falls back to slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log writes event to the structured log.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	args := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	for k, v := range event.Metadata {
		args = append(args, k, v)
	}
	l.logger.InfoContext(ctx, "audit", args...)
	return nil
}

// Query returns no events.
func (l *SlogAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush does nothing; records are written synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

// =============================================================================
// Memory Logger
// =============================================================================

// MemoryAuditLogger retains events in memory. Used by tests.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditLogger creates an empty in-memory audit logger.
func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

// Log appends event.
func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []AuditEvent{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if filter.matches(l.events[i]) {
			out = append(out, l.events[i])
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// Flush does nothing.
func (l *MemoryAuditLogger) Flush(_ context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
