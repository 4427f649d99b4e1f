// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	storebadger "github.com/AleutianAI/hypickle/services/crawler/storage/badger"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
)

// FilePrefix starts every report file name.
const FilePrefix = "Friends of "

// FileName returns the report file name for description.
func FileName(description string) string {
	return FilePrefix + description + ".json"
}

// WriteFile writes entry as indented JSON to dir/FileName(description).
// The file is replaced atomically so readers never see a partial report.
func WriteFile(dir, description string, entry Entry) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(dir, FileName(description))
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("install report: %w", err)
	}
	return path, nil
}

// FileCheckpointer rewrites the report file on every checkpoint.
type FileCheckpointer struct {
	Dir         string
	Description string
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
}

// Checkpoint implements Checkpointer.
func (f *FileCheckpointer) Checkpoint(ctx context.Context, cp Checkpoint) error {
	path, err := WriteFile(f.Dir, f.Description, cp.Root)
	if err != nil {
		return err
	}
	f.Metrics.RecordCheckpoint(ctx, "file")
	if f.Logger != nil {
		f.Logger.Info("report checkpoint written",
			slog.String("path", path),
			slog.String("kind", cp.Kind),
			slog.Int("pass", cp.Pass),
			slog.Int("friends", len(cp.Root.Friends)))
	}
	return nil
}

// checkpointNamespace holds the latest checkpoint per root.
const checkpointNamespace = "report.checkpoint"

// StoreCheckpointer keeps the latest checkpoint per root in the embedded
// store so a restarted run can show where the previous one got to.
type StoreCheckpointer struct {
	DB      *storebadger.DB
	TTL     time.Duration
	Metrics *telemetry.Metrics
}

// Checkpoint implements Checkpointer.
func (s *StoreCheckpointer) Checkpoint(ctx context.Context, cp Checkpoint) error {
	if err := s.DB.PutJSON(ctx, checkpointNamespace, cp.Root.UUID, cp, s.TTL); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	s.Metrics.RecordCheckpoint(ctx, "store")
	return nil
}

// LoadCheckpoint returns the latest stored checkpoint for rootID.
func LoadCheckpoint(ctx context.Context, db *storebadger.DB, rootID string) (Checkpoint, bool, error) {
	var cp Checkpoint
	found, err := db.GetJSON(ctx, checkpointNamespace, rootID, &cp)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, found, nil
}
