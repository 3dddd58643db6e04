// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore is the default role catalog backend, an embedded
// BadgerDB keyed by platform role id.
//
// Layout: one key per definition, "role/<platformRoleID>", holding the
// JSON-encoded catalog.RoleDefinition.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/tokengate/services/catalog"
)

const keyPrefix = "role/"

// Config holds configuration for the catalog database.
type Config struct {
	// Path is the database directory. Required unless InMemory. Supports ~.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit. Default true for persistent stores.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns production settings for the directory at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

// Store implements catalog.Store on BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. Add runs the existence check and the write in
// one read-write transaction; badger's optimistic concurrency rejects the
// loser of a concurrent insert with badger.ErrConflict, reported as
// catalog.ErrConflict.
type Store struct {
	db       *badger.DB
	gc       *gcRunner
	inMemory bool
}

// Open opens (creating if needed) the catalog database.
//
// # Inputs
//
//   - cfg: Database configuration. Path is required unless InMemory.
//
// # Outputs
//
//   - *Store: Ready to use. Call Close when done.
//   - error: Invalid path or badger failure.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent catalog")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := expandPath(cfg.Path)
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create catalog directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	s := &Store{db: db, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

func key(platformRoleID string) []byte {
	return []byte(keyPrefix + platformRoleID)
}

// Add inserts def, failing with catalog.ErrConflict if it exists.
func (s *Store) Add(ctx context.Context, def catalog.RoleDefinition) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	value, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode role %s: %w", def.PlatformRoleID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(def.PlatformRoleID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", catalog.ErrConflict, def.PlatformRoleID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key(def.PlatformRoleID), value)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s", catalog.ErrConflict, def.PlatformRoleID)
	}
	if err != nil && !errors.Is(err, catalog.ErrConflict) {
		return fmt.Errorf("add role %s: %w", def.PlatformRoleID, err)
	}
	return err
}

// Exists reports whether platformRoleID is catalogued.
func (s *Store) Exists(ctx context.Context, platformRoleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(platformRoleID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup role %s: %w", platformRoleID, err)
	}
	return found, nil
}

// List returns every definition in key order.
func (s *Store) List(ctx context.Context) ([]catalog.RoleDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	roles := []catalog.RoleDefinition{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var def catalog.RoleDefinition
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &def)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			roles = append(roles, def)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// Delete removes platformRoleID. Returns false if it was absent.
func (s *Store) Delete(ctx context.Context, platformRoleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	var removed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(platformRoleID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(key(platformRoleID))
	})
	if err != nil {
		return false, fmt.Errorf("delete role %s: %w", platformRoleID, err)
	}
	return removed, nil
}

// Close stops value log GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	return s.db.Close()
}

var _ catalog.Store = (*Store)(nil)

// =============================================================================
// Value Log GC
// =============================================================================

// gcRunner periodically rewrites the value log.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			err := r.db.RunValueLogGC(r.ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
				r.logger.Warn("catalog value log GC failed", "error", err)
			}
		}
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
