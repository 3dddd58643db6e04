// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the ingress API the wallet verification web app
// calls after checking a member's token balance.
//
// # Description
//
// The gateway is a Gin server exposing role reconciliation, preview role
// grants, health and metrics. It owns the OpenTelemetry tracer provider
// when an OTLP endpoint is configured; otherwise spans are no-ops.
//
// # Examples
//
//	svc, err := gateway.New(gateway.Config{Port: 8001}, gateway.Deps{
//	    Reconciler: rec,
//	    Grants:     grants,
//	    Readiness:  client,
//	}, &opts)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/gateway/handlers"
	"github.com/AleutianAI/tokengate/services/gateway/middleware"
	"github.com/AleutianAI/tokengate/services/gateway/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the ingress API server.
type Service interface {
	// Run serves until ctx is cancelled or the listener fails, then shuts
	// down gracefully within Config.ShutdownTimeout.
	Run(ctx context.Context) error

	// Router exposes the engine for httptest.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the gateway.
type Config struct {
	// Port to listen on. Default 8001.
	Port int

	// ServiceName labels traces. Default "tokengate".
	ServiceName string

	// OTelEndpoint is the OTLP gRPC collector address. StdoutEndpoint
	// prints spans instead. Empty disables export.
	OTelEndpoint string

	// GinMode is gin.ReleaseMode, gin.DebugMode or gin.TestMode.
	// Default release.
	GinMode string

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration
}

// StdoutEndpoint selects the stdout span exporter.
const StdoutEndpoint = "stdout"

// Deps are the domain collaborators the routes call.
type Deps struct {
	Reconciler handlers.RoleReconciler
	Grants     handlers.TemporaryGranter
	Readiness  handlers.Readiness

	// Registry receives gateway metrics and backs GET /metrics. Nil
	// disables both.
	Registry *prometheus.Registry

	// Requests counts requests. Usually the observability.Metrics
	// registered on Registry.
	Requests middleware.RequestRecorder

	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	deps          Deps
	opts          extensions.ServiceOptions
	router        *gin.Engine
	logger        *slog.Logger
	tracerCleanup func(context.Context)
}

// New builds the gateway.
//
// # Inputs
//
//   - cfg: Server configuration. Zero values take defaults.
//   - deps: Reconciler and Readiness are required.
//   - opts: Extension points. Nil uses DefaultOptions (no auth).
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Missing dependencies or tracer setup failure.
func New(cfg Config, deps Deps, opts *extensions.ServiceOptions) (Service, error) {
	if deps.Reconciler == nil || deps.Readiness == nil {
		return nil, errors.New("gateway: reconciler and readiness are required")
	}

	s := &service{
		config: applyConfigDefaults(cfg),
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.initRouter()
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting ingress API", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ingress API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Stopping ingress API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ingress API: %w", err)
	}
	<-errCh
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization
// =============================================================================

func (s *service) initTracer() (func(context.Context), error) {
	if s.config.OTelEndpoint == "" {
		return nil, nil
	}
	ctx := context.Background()

	traceExporter, closeConn, err := newSpanExporter(ctx, s.config.OTelEndpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.ServiceName)))
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	s.logger.Info("OTLP trace export enabled", "endpoint", s.config.OTelEndpoint)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
		closeConn()
	}
	return cleanup, nil
}

// newSpanExporter returns a pretty-printing stdout exporter for endpoint
// "stdout" and an insecure OTLP gRPC exporter otherwise. closeConn
// releases the gRPC connection, if any.
func newSpanExporter(ctx context.Context, endpoint string) (exp sdktrace.SpanExporter, closeConn func(), err error) {
	if endpoint == StdoutEndpoint {
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, func() {}, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	exp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exp, func() { _ = conn.Close() }, nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(s.config.ServiceName),
		middleware.RequestLogger(s.logger, s.deps.Requests),
	)

	rd := routes.Deps{
		Reconciler: s.deps.Reconciler,
		Grants:     s.deps.Grants,
		Readiness:  s.deps.Readiness,
		Logger:     s.logger,
	}
	if s.deps.Registry != nil {
		rd.Gatherer = s.deps.Registry
	}
	routes.SetupRoutes(s.router, rd, s.opts)
}

func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8001
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tokengate"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}
