// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_CreatesDefault(t *testing.T) {
	t.Setenv(EnvAPIKeys, "")
	path := filepath.Join(t.TempDir(), ".hypickle", FileName)

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 200, cfg.Crawl.CheckpointInitial)
	assert.Equal(t, "fkdr", cfg.Report.Sort)
	assert.Equal(t, 30*time.Minute, cfg.Crawl.RecentTTL)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Contains(t, onDisk, "crawl")

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created, "second load reads the existing file")
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv(EnvAPIKeys, "")
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
crawl:
  checkpoint_initial: 50
report:
  sort: star
  since: "2023-06-01"
`), 0o644))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Crawl.CheckpointInitial)
	assert.Equal(t, "star", cfg.Report.Sort)
	assert.Equal(t, "2023-06-01", cfg.Report.Since)
	assert.Equal(t, 2.0, cfg.Crawl.RecheckRate)
	assert.Equal(t, "key.txt", cfg.API.KeyFile)
}

func TestLoad_EnvKeys(t *testing.T) {
	t.Setenv(EnvAPIKeys, " k1 , ,k2")
	cfg, _, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, cfg.API.Keys)
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("crawl: [unclosed"), 0o644))
	_, _, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*HypickleConfig)
		field  string
	}{
		{"bad since date", func(c *HypickleConfig) { c.Report.Since = "2023-13-01" }, "Since"},
		{"since not a date", func(c *HypickleConfig) { c.Report.Since = "yesterday" }, "Since"},
		{"bad sort", func(c *HypickleConfig) { c.Report.Sort = "kills" }, "Sort"},
		{"zero checkpoint", func(c *HypickleConfig) { c.Crawl.CheckpointInitial = 0 }, "CheckpointInitial"},
		{"no base url", func(c *HypickleConfig) { c.API.BaseURL = "" }, "BaseURL"},
		{"bad policy", func(c *HypickleConfig) { c.Report.SnapshotPolicy = "newest" }, "SnapshotPolicy"},
		{"bad exporter", func(c *HypickleConfig) { c.Telemetry.TraceExporter = "jaeger" }, "TraceExporter"},
		{"bad monitor addr", func(c *HypickleConfig) { c.Monitor.Addr = "nope" }, "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Telemetry.TraceExporter = "none"
			cfg.Telemetry.MetricExporter = "none"
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	cfg := DefaultConfig()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Monitor.Addr = "127.0.0.1:8642"
	assert.NoError(t, Validate(cfg))
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.Home = "/data/hyp"

	assert.Equal(t, "/data/hyp/results", cfg.Resolve("results"))
	assert.Equal(t, "/abs/uuids.txt", cfg.Resolve("/abs/uuids.txt"))
	assert.Empty(t, cfg.Resolve(""))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), cfg.Resolve("~/x"))

	cfg.Paths.Home = "rel"
	assert.Equal(t, filepath.Join("rel", "cache"), cfg.Resolve("cache"))
}
