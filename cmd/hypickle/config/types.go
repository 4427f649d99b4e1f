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
	"strings"
	"time"

	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/AleutianAI/hypickle/services/hypixel"
)

// HypickleConfig is the contents of hypickle.yaml.
type HypickleConfig struct {
	// API: where requests go and where the key lives
	API APIConfig `yaml:"api"`

	// Paths: results, caches and logs. Relative paths are under Home.
	Paths PathsConfig `yaml:"paths"`

	// Crawl: activity inference and perpetual scheduling
	Crawl CrawlConfig `yaml:"crawl"`

	// Report: output defaults, overridable by flags
	Report ReportConfig `yaml:"report"`

	Logging LoggingConfig `yaml:"logging"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	Monitor MonitorConfig `yaml:"monitor"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	UserAgent string        `yaml:"user_agent"`

	// KeyFile holds one key per line.
	KeyFile string `yaml:"key_file" validate:"required"`

	// Keys come from HYPICKLE_API_KEYS and are never written back.
	Keys []string `yaml:"-"`
}

type PathsConfig struct {
	Home    string `yaml:"home" validate:"required"`
	Results string `yaml:"results" validate:"required"`
	Pairs   string `yaml:"pairs" validate:"required"`
	Cache   string `yaml:"cache" validate:"required"`
	Locks   string `yaml:"locks" validate:"required"`
	Logs    string `yaml:"logs"`
}

type CrawlConfig struct {
	// CheckpointInitial is the number of newly visited friends before the
	// first re-scan of a perpetual pass; the interval doubles after each.
	CheckpointInitial int `yaml:"checkpoint_initial" validate:"min=1"`

	// RecheckRate is forced re-checks per second during re-scans.
	RecheckRate  float64 `yaml:"recheck_rate" validate:"gt=0"`
	RecheckBurst int     `yaml:"recheck_burst" validate:"min=1"`

	// MaxPasses stops perpetual mode after this many passes; 0 runs until
	// interrupted.
	MaxPasses int `yaml:"max_passes" validate:"min=0"`

	// ProfileDiff and RecentGames enable the hidden-presence strategies.
	ProfileDiff bool `yaml:"profile_diff"`
	RecentGames bool `yaml:"recent_games"`

	// RecentTTL is how long a network-resolved handle is trusted.
	RecentTTL time.Duration `yaml:"recent_ttl" validate:"gt=0"`
}

type ReportConfig struct {
	Sort string `yaml:"sort" validate:"oneof=fkdr star pit_rank"`

	// Since drops friendships started before this YYYY-MM-DD date.
	Since string `yaml:"since" validate:"omitempty,ymd"`

	// EpochTimes writes edge times as epoch milliseconds.
	EpochTimes bool `yaml:"epoch_times"`

	// SnapshotPolicy picks between duplicate snapshot records.
	SnapshotPolicy string `yaml:"snapshot_policy" validate:"oneof=edges timestamps"`

	// ProgressEvery logs progress after this many friends; 0 disables it.
	ProgressEvery int `yaml:"progress_every" validate:"min=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`

	// ToFile writes JSON logs under Paths.Logs.
	ToFile bool `yaml:"to_file"`
}

type MonitorConfig struct {
	// Addr is the listen address used when perpetual mode starts the
	// monitor without --monitor-addr. Empty leaves it off.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() HypickleConfig {
	api := hypixel.DefaultConfig()
	return HypickleConfig{
		API: APIConfig{
			BaseURL:   api.BaseURL,
			Timeout:   api.Timeout,
			UserAgent: api.UserAgent,
			KeyFile:   "key.txt",
		},
		Paths: PathsConfig{
			Home:    DefaultHome(),
			Results: "results",
			Pairs:   "uuids.txt",
			Cache:   "cache",
			Locks:   "locks",
			Logs:    "logs",
		},
		Crawl: CrawlConfig{
			CheckpointInitial: 200,
			RecheckRate:       2,
			RecheckBurst:      1,
			ProfileDiff:       true,
			RecentGames:       true,
			RecentTTL:         30 * time.Minute,
		},
		Report: ReportConfig{
			Sort:           "fkdr",
			SnapshotPolicy: "edges",
			ProgressEvery:  20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultHome is ~/.hypickle, or .hypickle when there is no home.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hypickle"
	}
	return filepath.Join(home, ".hypickle")
}

// Resolve returns path expanded against Home. Absolute and ~ paths are
// kept as given.
func (c HypickleConfig) Resolve(path string) string {
	if path == "" {
		return ""
	}
	path = expandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(expandHome(c.Paths.Home), path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
