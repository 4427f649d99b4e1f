// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("hypickle.activity")

// Strategies, reported in metrics and span attributes.
const (
	StrategyVisible     = "visible"
	StrategyProfileDiff = "profile_diff"
	StrategyRecentGames = "recent_games"
	StrategyNone        = "none"
)

// Config configures a Detector.
type Config struct {
	// DisableProfileDiff skips the fresh-profile comparison for hidden
	// players.
	DisableProfileDiff bool

	// DisableRecentGames skips the recent games fallback for hidden
	// players.
	DisableRecentGames bool

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// DefaultConfig enables both hidden-presence strategies. It is the zero
// value.
func DefaultConfig() Config {
	return Config{}
}

// Detector decides whether a player is active right now.
//
// # Thread Safety
//
// Safe for concurrent use, though a crawl calls it from one goroutine.
type Detector struct {
	client  hypixel.Requester
	store   *ProfileStore
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	gamesHidden map[string]struct{}
}

// NewDetector creates a detector reading baselines from store.
func NewDetector(client hypixel.Requester, store *ProfileStore, cfg Config) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		client:      client,
		store:       store,
		cfg:         cfg,
		logger:      logger,
		metrics:     cfg.Metrics,
		gamesHidden: make(map[string]struct{}),
	}
}

// IsActive infers whether the player is active right now.
//
// # Description
//
// For players exposing presence: active when the baseline shows a login
// after the last logout, or recheck is set, and the status resource
// reports an online session. Recheck exists for passes that revisit
// players who were offline when first seen.
//
// For players hiding presence: active when a freshly fetched profile
// differs from the baseline. Otherwise, active when the newest recent game
// has not ended. A player whose recent games come back empty hides them,
// which is remembered so later checks skip the request.
//
// # Outputs
//
//   - bool: Whether the player is inferred active.
//   - error: Request errors, including hypixel.ErrNotFound.
func (d *Detector) IsActive(ctx context.Context, id string, recheck bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "activity.IsActive")
	defer span.End()
	span.SetAttributes(attribute.String("uuid", id), attribute.Bool("recheck", recheck))

	active, strategy, err := d.infer(ctx, id, recheck)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	span.SetAttributes(attribute.String("strategy", strategy), attribute.Bool("active", active))
	telemetry.SetSpanOK(span)
	d.metrics.RecordActivityCheck(ctx, strategy, active)
	return active, nil
}

func (d *Detector) infer(ctx context.Context, id string, recheck bool) (bool, string, error) {
	base, err := d.store.Get(ctx, id)
	if err != nil {
		return false, "", err
	}

	if login, logout, visible := base.Presence(); visible {
		if !recheck && !login.After(logout) {
			return false, StrategyVisible, nil
		}
		status, err := d.client.Request(ctx, hypixel.ResourceStatus, id)
		if err != nil {
			return false, "", fmt.Errorf("status of %s: %w", id, err)
		}
		return hypixel.SessionOnline(status), StrategyVisible, nil
	}

	if !d.cfg.DisableProfileDiff {
		_, changed, err := d.store.Refresh(ctx, id)
		if err != nil {
			return false, "", err
		}
		if changed {
			return true, StrategyProfileDiff, nil
		}
	}

	if d.cfg.DisableRecentGames {
		return false, StrategyNone, nil
	}
	return d.recentGameInProgress(ctx, id)
}

func (d *Detector) recentGameInProgress(ctx context.Context, id string) (bool, string, error) {
	if d.hidesGames(id) {
		return false, StrategyRecentGames, nil
	}

	doc, err := d.client.Request(ctx, hypixel.ResourceRecentGames, id)
	if err != nil {
		return false, "", fmt.Errorf("recent games of %s: %w", id, err)
	}
	games := hypixel.RecentGames(doc)
	if len(games) == 0 {
		d.mu.Lock()
		d.gamesHidden[storeKey(id)] = struct{}{}
		d.mu.Unlock()
		d.logger.Debug("recent games hidden", slog.String("uuid", id))
		return false, StrategyRecentGames, nil
	}
	return hypixel.GameInProgress(games[0]), StrategyRecentGames, nil
}

// hidesGames reports whether id was seen hiding its recent games.
func (d *Detector) hidesGames(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.gamesHidden[storeKey(id)]
	return ok
}
