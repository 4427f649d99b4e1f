// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package activity infers whether a player is active right now.
//
// Players either expose their last login and logout times or hide them.
// Visible players are checked against the live status resource. Hidden
// players are compared against the profile first fetched this run: any
// field that changed since is treated as evidence of play, and as a last
// resort an unfinished most recent game counts as active.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/AleutianAI/hypickle/services/hypixel"
)

// ProfileStore caches profiles for the duration of one run.
//
// # Description
//
// The first profile fetched for a player is the baseline: stats reported
// for the player come from it, and hidden-presence inference compares
// fresh fetches against it. Fresh profiles that differ are kept as the
// latest so repeated diffs can be logged, but the baseline never moves.
//
// # Thread Safety
//
// Safe for concurrent use.
type ProfileStore struct {
	client hypixel.Requester
	logger *slog.Logger

	mu       sync.Mutex
	baseline map[string]hypixel.Profile
	latest   map[string]updatedProfile
}

type updatedProfile struct {
	profile hypixel.Profile
	seenAt  time.Time
}

// NewProfileStore creates an empty store that fetches through client.
func NewProfileStore(client hypixel.Requester, logger *slog.Logger) *ProfileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileStore{
		client:   client,
		logger:   logger,
		baseline: make(map[string]hypixel.Profile),
		latest:   make(map[string]updatedProfile),
	}
}

// Get returns the baseline profile for id, fetching it on first use.
//
// # Outputs
//
//   - hypixel.Profile: The baseline profile.
//   - error: hypixel.ErrNotFound when the player does not exist, or any
//     other request error.
func (s *ProfileStore) Get(ctx context.Context, id string) (hypixel.Profile, error) {
	key := storeKey(id)
	s.mu.Lock()
	p, ok := s.baseline[key]
	s.mu.Unlock()
	if ok {
		return p, nil
	}

	doc, err := s.client.Request(ctx, hypixel.ResourceProfile, id)
	if err != nil {
		return hypixel.Profile{}, fmt.Errorf("fetch profile %s: %w", id, err)
	}
	p = hypixel.NewProfile(doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.baseline[key]; ok {
		return existing, nil
	}
	s.baseline[key] = p
	return p, nil
}

// Seed installs doc as the baseline for id unless one is already cached.
// report.Run hands it the profiles its resolver fetches so they are not
// fetched twice.
func (s *ProfileStore) Seed(id string, doc hypixel.Document) {
	key := storeKey(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baseline[key]; !ok {
		s.baseline[key] = hypixel.NewProfile(doc)
	}
}

// Refresh fetches a fresh profile for id and reports whether it differs
// from the baseline.
//
// A differing profile is recorded as the latest unless it equals the
// previous latest.
func (s *ProfileStore) Refresh(ctx context.Context, id string) (fresh hypixel.Profile, changed bool, err error) {
	base, err := s.Get(ctx, id)
	if err != nil {
		return hypixel.Profile{}, false, err
	}
	doc, err := s.client.Request(ctx, hypixel.ResourceProfile, id)
	if err != nil {
		return hypixel.Profile{}, false, fmt.Errorf("refresh profile %s: %w", id, err)
	}
	fresh = hypixel.NewProfile(doc)
	if base.Equal(fresh) {
		return fresh, false, nil
	}

	key := storeKey(id)
	s.mu.Lock()
	prev, had := s.latest[key]
	if !had || !prev.profile.Equal(fresh) {
		now := time.Now()
		attrs := []any{slog.String("uuid", id), slog.Bool("first_change", !had)}
		if had {
			attrs = append(attrs, slog.Duration("since_last_change", now.Sub(prev.seenAt)))
		}
		s.latest[key] = updatedProfile{profile: fresh, seenAt: now}
		s.logger.Debug("profile changed since baseline", attrs...)
	}
	s.mu.Unlock()
	return fresh, true, nil
}

// Len returns the number of baseline profiles held.
func (s *ProfileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.baseline)
}

func storeKey(id string) string {
	if n, err := validation.NormalizeIdentifier(id); err == nil {
		return n
	}
	return id
}
