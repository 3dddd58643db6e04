// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the ingress API on a Gin engine.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/gateway/handlers"
	"github.com/AleutianAI/tokengate/services/gateway/middleware"
)

// Deps are the collaborators the routes serve.
type Deps struct {
	Reconciler handlers.RoleReconciler
	Grants     handlers.TemporaryGranter
	Readiness  handlers.Readiness

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// SetupRoutes registers every endpoint.
//
//	GET  /health                  open
//	GET  /metrics                 open
//	POST /assign-roles            X-API-Key
//	POST /assign-permanent-roles  X-API-Key, alias of /assign-roles
//	POST /assign-test-role        X-API-Key
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	router.GET("/health", handlers.HealthCheck(deps.Readiness))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := opts.AuthProvider
	if auth == nil {
		auth = &extensions.NopAuthProvider{}
	}

	api := router.Group("/")
	api.Use(middleware.AuthMiddleware(auth))
	{
		assign := handlers.HandleAssignRoles(deps.Reconciler, deps.Logger)
		api.POST("/assign-roles", assign)
		api.POST("/assign-permanent-roles", assign)
		if deps.Grants != nil {
			api.POST("/assign-test-role", handlers.HandleAssignTestRole(deps.Grants, deps.Logger))
		}
	}
}
