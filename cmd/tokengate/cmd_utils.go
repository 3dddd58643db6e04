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
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/tokengate/pkg/logging"
	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/catalog/badgerstore"
	"github.com/AleutianAI/tokengate/services/catalog/sqlitestore"
	"github.com/AleutianAI/tokengate/services/config"
)

// newLogger builds the process logger from cfg.Logging. Console output is
// JSON when stderr is not a terminal, as under a process supervisor.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Logging.JSON || !stderrIsTerminal(),
	}), nil
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// openCatalogStore opens the configured catalog backend.
func openCatalogStore(cfg *config.Config, logger *slog.Logger) (catalog.Store, error) {
	switch cfg.Catalog.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite catalog: %w", err)
		}
		return store, nil
	case config.BackendBadger, "":
		bcfg := badgerstore.DefaultConfig(cfg.Catalog.Path)
		if cfg.Catalog.InMemory {
			bcfg = badgerstore.InMemoryConfig()
		}
		bcfg.Logger = logger
		store, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger catalog: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown catalog backend %q", config.ErrInvalidConfig, cfg.Catalog.Backend)
	}
}
