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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Checkpoint kinds.
const (
	KindRescan = "rescan"
	KindPass   = "pass"
)

// DefaultCheckpointInitial is the number of newly visited edges before
// the first re-scan.
const DefaultCheckpointInitial = 200

// DefaultRecheckRate paces forced re-checks during a re-scan.
const DefaultRecheckRate = rate.Limit(2)

// Checkpoint is a report snapshot handed to a Checkpointer.
type Checkpoint struct {
	Root    Entry     `json:"root"`
	Pass    int       `json:"pass"`
	Kind    string    `json:"kind"`
	Visited int       `json:"visited"`
	Total   int       `json:"total"`
	At      time.Time `json:"at"`
}

// Checkpointer receives report snapshots as a scan progresses.
type Checkpointer interface {
	Checkpoint(ctx context.Context, cp Checkpoint) error
}

// CheckpointerFunc adapts a function to Checkpointer.
type CheckpointerFunc func(ctx context.Context, cp Checkpoint) error

// Checkpoint implements Checkpointer.
func (f CheckpointerFunc) Checkpoint(ctx context.Context, cp Checkpoint) error {
	return f(ctx, cp)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// CheckpointInitial is the number of newly visited edges before the
	// first re-scan. Each later interval doubles. Defaults to
	// DefaultCheckpointInitial.
	CheckpointInitial int

	// RecheckRate limits forced re-checks per second. Defaults to
	// DefaultRecheckRate.
	RecheckRate rate.Limit

	// RecheckBurst defaults to 1.
	RecheckBurst int

	// MaxPasses stops after this many full passes. Zero runs until the
	// context is cancelled.
	MaxPasses int
}

// Scheduler repeatedly scans the root's friends, re-checking friends that
// were inactive when first visited.
//
// # Description
//
// A pass visits every root edge in order. After CheckpointInitial newly
// visited edges, and again after each doubled interval, every friend
// already visited but left out is re-visited with a forced re-check, paced
// by a rate limiter, and the accumulated report is checkpointed. When the
// edges are exhausted a final re-scan runs. When the friends level requires
// activity, the included friends are then re-confirmed as in Build. The
// report is sorted, checked and checkpointed, and the next pass starts from
// an empty list.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Scheduler struct {
	builder *Builder
	cfg     SchedulerConfig
	limiter *rate.Limiter
	sinks   []Checkpointer
}

// NewScheduler creates a scheduler emitting through builder.
func NewScheduler(builder *Builder, cfg SchedulerConfig, sinks ...Checkpointer) *Scheduler {
	if cfg.CheckpointInitial <= 0 {
		cfg.CheckpointInitial = DefaultCheckpointInitial
	}
	if cfg.RecheckRate == 0 {
		cfg.RecheckRate = DefaultRecheckRate
	}
	if cfg.RecheckBurst <= 0 {
		cfg.RecheckBurst = 1
	}
	return &Scheduler{
		builder: builder,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RecheckRate, cfg.RecheckBurst),
		sinks:   sinks,
	}
}

// Run scans root until the context is cancelled or MaxPasses is reached.
//
// # Outputs
//
//   - Entry: The report of the last completed pass.
//   - error: ctx.Err() on cancellation, an InvariantError for a malformed
//     or non-root player, or the first fatal error. Fatal
//     errors lose at most the pass in progress since every completed pass
//     was checkpointed.
func (s *Scheduler) Run(ctx context.Context, root *graph.Player) (Entry, error) {
	var last Entry
	b := s.builder
	logger := b.run.Logger

	if err := root.Validate(); err != nil {
		return last, err
	}
	if !root.IsRoot() {
		return last, graph.Invariantf("report.Scheduler.Run", "%s is not a root", root.ID())
	}

	base, err := b.Stats(ctx, root)
	if err != nil {
		return last, fmt.Errorf("root %s: %w", root.ID(), err)
	}
	base.Expanded = true

	for pass := 1; s.cfg.MaxPasses == 0 || pass <= s.cfg.MaxPasses; pass++ {
		// Later passes force the re-check: the cached baseline is older
		// than the previous pass.
		entry, err := s.pass(ctx, root, base, pass, pass > 1)
		if err != nil {
			return last, err
		}
		last = entry
		b.run.Metrics.RecordPass(ctx, KindPass)
		logger.Info("pass complete",
			slog.Int("pass", pass),
			slog.Int("included", len(entry.Friends)))
	}
	return last, nil
}

func (s *Scheduler) pass(ctx context.Context, root *graph.Player, base Entry, pass int, recheck bool) (Entry, error) {
	ctx, span := tracer.Start(ctx, "report.Scheduler.pass")
	defer span.End()
	span.SetAttributes(attribute.Int("pass", pass))

	b := s.builder
	friends, err := b.RootEdges(ctx, root)
	if err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}

	entry := base.Clone()
	entry.Friends = nil
	var left []*graph.Player
	interval := s.cfg.CheckpointInitial
	sinceCheckpoint := 0

	for i, friend := range friends {
		if i%b.opts.ProgressEvery == 0 {
			b.run.Logger.Info("processing friends",
				slog.Int("pass", pass),
				slog.Int("processed", i),
				slog.Int("total", len(friends)))
		}
		child, ok, err := b.Visit(ctx, friend, recheck)
		if err != nil {
			telemetry.RecordError(span, err)
			return Entry{}, err
		}
		if ok {
			entry.Friends = append(entry.Friends, child)
		} else {
			left = append(left, friend)
		}

		sinceCheckpoint++
		if sinceCheckpoint < interval || i == len(friends)-1 {
			continue
		}
		entry.Friends, left, err = s.rescan(ctx, entry.Friends, left)
		if err != nil {
			telemetry.RecordError(span, err)
			return Entry{}, err
		}
		if err := s.checkpoint(ctx, entry, pass, KindRescan, i+1, len(friends)); err != nil {
			telemetry.RecordError(span, err)
			return Entry{}, err
		}
		b.run.Metrics.RecordPass(ctx, KindRescan)
		sinceCheckpoint = 0
		interval *= 2
	}

	entry.Friends, _, err = s.rescan(ctx, entry.Friends, left)
	if err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}
	if childSpec, _ := root.Spec().Child(); childSpec.RequireActive() {
		entry.Friends, err = b.Reconfirm(ctx, entry.Friends)
		if err != nil {
			telemetry.RecordError(span, err)
			return Entry{}, err
		}
	}
	entry, err = b.Finish(entry)
	if err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}
	if err := s.checkpoint(ctx, entry, pass, KindPass, len(friends), len(friends)); err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}
	telemetry.SetSpanOK(span)
	return entry, nil
}

// rescan re-visits left-out friends with a forced re-check, moving those
// now included into included.
func (s *Scheduler) rescan(ctx context.Context, included []Entry, left []*graph.Player) ([]Entry, []*graph.Player, error) {
	still := left[:0:0]
	for _, friend := range left {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		child, ok, err := s.builder.Visit(ctx, friend, true)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			included = append(included, child)
			continue
		}
		still = append(still, friend)
	}
	return included, still, nil
}

func (s *Scheduler) checkpoint(ctx context.Context, entry Entry, pass int, kind string, visited, total int) error {
	snapshot := entry.Clone()
	s.builder.opts.SortKey.Sort(snapshot.Friends)
	cp := Checkpoint{
		Root:    snapshot,
		Pass:    pass,
		Kind:    kind,
		Visited: visited,
		Total:   total,
		At:      time.Now().UTC(),
	}
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Checkpoint(ctx, cp); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("checkpoint pass %d: %w", pass, err)
	}
	return nil
}
