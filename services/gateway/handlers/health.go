// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tokengate/services/gateway/datatypes"
)

// Readiness reports the platform connection state. platform.Client
// implements it.
type Readiness interface {
	Ready() bool
	BotUser() string
}

// HealthCheck always replies 200; the body carries readiness.
func HealthCheck(r Readiness) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := datatypes.HealthResponse{Status: "bot_not_ready"}
		if r.Ready() {
			resp = datatypes.HealthResponse{Status: "healthy", BotReady: true, BotUser: r.BotUser()}
		}
		c.JSON(http.StatusOK, resp)
	}
}
