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
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a credential is missing or wrong.
// Providers wrap it with the specific cause:
//
//	return nil, fmt.Errorf("API key required: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// ErrAuthNotConfigured is returned when the server has no credential to
// compare against. The ingress API answers 500 rather than 401 in this case.
var ErrAuthNotConfigured = errors.New("API key not configured on server")

// AuthInfo identifies the caller of an authenticated request.
type AuthInfo struct {
	// Subject names the caller. For API keys this is "web-app".
	Subject string

	// Method is the authentication scheme, e.g. "api_key" or "none".
	Method string
}

// AuthProvider validates a credential presented on an ingress request.
//
// # Description
//
// The middleware extracts the credential (the X-API-Key header) and hands
// it to Validate. An empty string means the header was absent.
//
// # Outputs
//
//   - *AuthInfo: Caller identity when the credential is accepted.
//   - error: Wraps ErrUnauthorized for a missing or wrong credential, or
//     ErrAuthNotConfigured when the server itself is misconfigured.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, credential string) (*AuthInfo, error)
}

// =============================================================================
// API Key Provider
// =============================================================================

// APIKeyProvider accepts requests carrying one shared secret.
//
// # Description
//
// Comparison is constant-time. The provider never logs or echoes the key.
//
// # Examples
//
//	p := extensions.NewAPIKeyProvider(os.Getenv("DISCORD_BOT_API_KEY"))
//	info, err := p.Validate(ctx, c.GetHeader("X-API-Key"))
//
// # Limitations
//
//   - One key per deployment; rotation requires a restart.
type APIKeyProvider struct {
	key []byte
}

// NewAPIKeyProvider creates a provider for the given key. An empty key
// yields a provider that rejects everything with ErrAuthNotConfigured.
func NewAPIKeyProvider(key string) *APIKeyProvider {
	return &APIKeyProvider{key: []byte(key)}
}

// Validate checks credential against the configured key.
func (p *APIKeyProvider) Validate(_ context.Context, credential string) (*AuthInfo, error) {
	if len(p.key) == 0 {
		return nil, ErrAuthNotConfigured
	}
	if credential == "" {
		return nil, fmt.Errorf("API key required: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(credential), p.key) != 1 {
		return nil, fmt.Errorf("invalid API key: %w", ErrUnauthorized)
	}
	return &AuthInfo{Subject: "web-app", Method: "api_key"}, nil
}

// =============================================================================
// No-op Provider
// =============================================================================

// NopAuthProvider accepts every request. Intended for tests and for local
// development behind a trusted proxy.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{Subject: "anonymous", Method: "none"}, nil
}

var (
	_ AuthProvider = (*APIKeyProvider)(nil)
	_ AuthProvider = (*NopAuthProvider)(nil)
)
