// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/commands"
	"github.com/AleutianAI/tokengate/services/config"
	"github.com/AleutianAI/tokengate/services/gateway"
	"github.com/AleutianAI/tokengate/services/gateway/observability"
	"github.com/AleutianAI/tokengate/services/monitor"
	"github.com/AleutianAI/tokengate/services/platform/discord"
	"github.com/AleutianAI/tokengate/services/reconciler"
)

const shutdownTimeout = 15 * time.Second

// runServe wires every component and blocks until SIGINT/SIGTERM.
//
// Startup order: catalog, discord connection, ingress API, then the
// balance monitor once the bot is ready. Shutdown revokes pending
// temporary grants before the connection closes.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()
	slog.SetDefault(log)

	store, err := openCatalogStore(cfg, log.With("component", "catalog"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("catalog close failed", "error", err)
		}
	}()
	cat := catalog.NewService(store)

	audit := extensions.NewSlogAuditLogger(log)
	opts := extensions.DefaultOptions().
		WithAuth(extensions.NewAPIKeyProvider(cfg.API.Key)).
		WithAudit(audit)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	client, err := discord.New(discord.Config{
		Token:            cfg.Discord.Token,
		GuildID:          cfg.Discord.GuildID,
		RegisterCommands: *cfg.Discord.RegisterCommands,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	handlers := commands.NewHandlers(cat, client, commands.HandlerConfig{
		WebAppURL: cfg.WebAppURL,
		Logger:    log.With("component", "commands"),
		Audit:     audit,
	})
	dispatcher, err := commands.NewDispatcher(log.With("component", "commands"), handlers.Table()...)
	if err != nil {
		return fmt.Errorf("build command table: %w", err)
	}
	client.Handle(dispatcher)

	rec := reconciler.New(client, cat, reconciler.Config{
		GuildID:  cfg.Discord.GuildID,
		Logger:   log.With("component", "reconciler"),
		Audit:    audit,
		Metrics:  metrics,
		Notifier: reconciler.NewDirectMessageNotifier(client, ""),
	})
	grants := reconciler.NewTemporaryGrants(client, reconciler.TemporaryConfig{
		GuildID:  cfg.Discord.GuildID,
		Duration: cfg.API.TestRoleDuration,
		Logger:   log.With("component", "temporary_grants"),
		Audit:    audit,
		Metrics:  metrics,
	})

	svc, err := gateway.New(gateway.Config{
		Port:         cfg.API.Port,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTelEndpoint: cfg.Telemetry.OTelEndpoint,
	}, gateway.Deps{
		Reconciler: rec,
		Grants:     grants,
		Readiness:  client,
		Registry:   reg,
		Requests:   metrics,
		Logger:     log.With("component", "gateway"),
	}, &opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("discord close failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if cfg.Monitor.Enabled {
		sched := monitor.NewScheduler(monitor.NewSnapshotSource(cfg.Monitor.SnapshotPath), cat, rec, monitor.SchedulerConfig{
			Interval:      cfg.Monitor.Interval,
			RatePerSecond: cfg.Monitor.RatePerSecond,
			Burst:         cfg.Monitor.Burst,
			Logger:        log.With("component", "monitor"),
			Metrics:       metrics,
		})
		g.Go(func() error { return runMonitor(gctx, client, sched) })
	}

	log.Info("tokengate started",
		"guild_id", cfg.Discord.GuildID,
		"port", cfg.API.Port,
		"catalog_backend", cfg.Catalog.Backend,
		"monitor", cfg.Monitor.Enabled)

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := grants.Shutdown(shutdownCtx); err != nil {
		log.Warn("temporary grants shutdown incomplete", "error", err)
	}
	log.Info("tokengate stopped")
	return runErr
}

// runMonitor starts sched once the bot is ready and stops it when ctx ends.
func runMonitor(ctx context.Context, client *discord.Client, sched *monitor.Scheduler) error {
	if err := client.WaitReady(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}
