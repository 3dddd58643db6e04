// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the ingress API.
//
// # Authentication Flow
//
// The web app authenticates with a shared secret in the X-API-Key header.
// AuthMiddleware validates it with the configured AuthProvider and stores
// the resulting AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Read "X-API-Key: <secret>"
//	   │
//	   ├─► provider.Validate(ctx, key)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// Rejected requests never reach a handler, so no platform call is made.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/gateway/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
const authInfoKey = "tokengate_auth_info"

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-API-Key"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated caller in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated caller, or nil when the request
// did not pass through AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that checks the API key.
//
// # Description
//
// Responses on rejection:
//
//   - 500 {"error": "API key not configured on server"} when the provider
//     has no key to compare against.
//   - 401 {"error": "API key required"} when the header is absent.
//   - 401 {"error": "Invalid API key"} when the key does not match.
//
// # Inputs
//
//   - provider: AuthProvider to validate keys. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for a route group.
//
// # Examples
//
//	api := router.Group("/")
//	api.Use(middleware.AuthMiddleware(opts.AuthProvider))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)

		authInfo, err := provider.Validate(c.Request.Context(), key)
		if err != nil {
			switch {
			case errors.Is(err, extensions.ErrAuthNotConfigured):
				c.AbortWithStatusJSON(http.StatusInternalServerError, datatypes.ErrorResponse{
					Error: "API key not configured on server",
				})
			case key == "":
				c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
					Error: "API key required",
				})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
					Error: "Invalid API key",
				})
			}
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractAPIKey returns the trimmed X-API-Key header, or "".
func extractAPIKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(APIKeyHeader))
}
