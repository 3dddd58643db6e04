// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// snapshotFile is the on-disk layout written by the verification service:
//
//	members:
//	  - discord_id: "123456789012345678"
//	    wallet_address: osmo1...
//	    balance: 12.5
type snapshotFile struct {
	Members []Target `yaml:"members"`
}

// SnapshotSource reads the population from a YAML file, re-read on every
// cycle. A missing file is an empty population.
type SnapshotSource struct {
	path string
}

// NewSnapshotSource creates a source over path.
func NewSnapshotSource(path string) *SnapshotSource {
	return &SnapshotSource{path: path}
}

// Path returns the snapshot file path.
func (s *SnapshotSource) Path() string { return s.path }

// Targets implements Source. Entries without a member id are dropped; a
// member listed twice keeps its last entry.
func (s *SnapshotSource) Targets(ctx context.Context) ([]Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var file snapshotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}

	index := make(map[string]int, len(file.Members))
	out := make([]Target, 0, len(file.Members))
	for _, m := range file.Members {
		if m.MemberID == "" {
			continue
		}
		if i, dup := index[m.MemberID]; dup {
			out[i] = m
			continue
		}
		index[m.MemberID] = len(out)
		out = append(out, m)
	}
	return out, nil
}

// StaticSource serves a fixed population.
type StaticSource []Target

// Targets implements Source.
func (s StaticSource) Targets(context.Context) ([]Target, error) {
	return append([]Target(nil), s...), nil
}

var (
	_ Source = (*SnapshotSource)(nil)
	_ Source = StaticSource(nil)
)
