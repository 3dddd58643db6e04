// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable security seams of tokengate.
//
// Two concerns are injectable:
//
//   - auth.go: Request authentication for the ingress API (AuthProvider)
//   - audit.go: A trail of every role mutation (AuditLogger)
//
// Services receive both through ServiceOptions. The defaults are safe for
// a single-community deployment: the ingress API is guarded by a shared
// API key and audit events go to the structured log.
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewAPIKeyProvider(cfg.API.Key)).
//	    WithAudit(extensions.NewSlogAuditLogger(logger))
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to service constructors.
// Nil fields are replaced by defaults in DefaultOptions or by the consumer.
type ServiceOptions struct {
	// AuthProvider validates ingress API credentials.
	// Default: NopAuthProvider (accepts every request).
	AuthProvider AuthProvider

	// AuditLogger records role grants and revocations.
	// Default: NopAuditLogger (discards events).
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts using provider for authentication.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts using logger for audit events.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
