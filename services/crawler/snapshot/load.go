// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot reads earlier report files and collapses them into one
// record per player.
//
// Report files are nested JSON trees written by separate runs, so the same
// player shows up many times with different amounts of data. Flatten turns
// every tree into per-node records, Dedupe keeps the best record per
// identity, and Index answers lookups over the result.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ----- Error Sentinel Values -----

var (
	// ErrMalformed indicates a snapshot that is not a report tree.
	ErrMalformed = errors.New("malformed snapshot")
)

// RootExcludedKey marks a tree whose outermost node carries no data of its
// own; only its friends are flattened.
const RootExcludedKey = "root_excluded"

// maxParallelReads bounds concurrent file decoding.
const maxParallelReads = 8

// Tree is one decoded snapshot file.
type Tree struct {
	// File is the path the tree was read from.
	File string

	// Root is the outermost node.
	Root map[string]any
}

// IsSnapshotFile reports whether name looks like a report file.
func IsSnapshotFile(name string) bool {
	if !strings.HasPrefix(name, "Friends of") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".json" || ext == ".txt"
}

// LoadDir reads every report file in dir, in name order. A missing dir
// holds no snapshots.
func LoadDir(ctx context.Context, dir string) ([]Tree, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsSnapshotFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return LoadFiles(ctx, paths)
}

// LoadFiles decodes paths concurrently. The result keeps the order of
// paths regardless of which file finishes first.
func LoadFiles(ctx context.Context, paths []string) ([]Tree, error) {
	trees := make([]Tree, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)

	for i, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			root, err := readTree(path)
			if err != nil {
				return err
			}
			trees[i] = Tree{File: path, Root: root}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trees, nil
}

func readTree(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s: empty document", ErrMalformed, path)
	}
	return root, nil
}
