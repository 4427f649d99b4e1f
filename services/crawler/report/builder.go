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

	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("hypickle.report")

// DefaultProgressEvery is how often root progress is logged, in edges.
const DefaultProgressEvery = 20

// Options tune report emission.
type Options struct {
	// SortKey orders the root's friends, highest first.
	SortKey SortKey

	// EpochTimes writes edge times as epoch milliseconds.
	EpochTimes bool

	// Cutoff drops root edges formed before it. Zero keeps every edge.
	Cutoff graph.EdgeTime

	// Exclude drops these identities from the root's edges.
	Exclude graph.IDSet

	// ProgressEvery defaults to DefaultProgressEvery.
	ProgressEvery int

	// RootExcluded flags the root entry as a combination of several
	// players' friends.
	RootExcluded bool
}

// Builder emits report trees.
//
// # Description
//
// Each player moves PENDING to EMITTED, or PENDING to EXPANDING to EMITTED
// when its spec has a child. A player whose spec requires activity and who
// is inferred inactive is not emitted at all, which removes its subtree
// from the parent's friends.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Builder struct {
	run  *Run
	opts Options
}

// NewBuilder creates a builder over run.
func NewBuilder(run *Run, opts Options) *Builder {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Builder{run: run, opts: opts}
}

// Options returns the builder's options.
func (b *Builder) Options() Options {
	return b.opts
}

// Build emits the full report for root in a single pass.
//
// # Description
//
// Root edges are polished first: newest first, duplicates collapsed to
// their most recent time, excluded identities and edges before the cutoff
// removed. Friends are emitted in that order. When the friends level
// requires activity, the included friends are re-confirmed with a forced
// re-check once the pass completes. Friends are then sorted by the sort
// key and checked for duplicate identities.
//
// # Outputs
//
//   - Entry: The root entry.
//   - error: hypixel.ErrNotFound when the root does not exist, an
//     InvariantError for a malformed root or duplicate friends, or any
//     request error other than a friend's NotFound.
func (b *Builder) Build(ctx context.Context, root *graph.Player) (Entry, error) {
	ctx, span := tracer.Start(ctx, "report.Build")
	defer span.End()
	span.SetAttributes(attribute.String("uuid", root.ID()))

	entry, err := b.build(ctx, root)
	if err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}
	span.SetAttributes(attribute.Int("friends", len(entry.Friends)))
	telemetry.SetSpanOK(span)
	return entry, nil
}

func (b *Builder) build(ctx context.Context, root *graph.Player) (Entry, error) {
	if err := root.Validate(); err != nil {
		return Entry{}, err
	}
	if !root.IsRoot() {
		return Entry{}, graph.Invariantf("report.Build", "%s is not a root", root.ID())
	}

	entry, err := b.Stats(ctx, root)
	if err != nil {
		return Entry{}, fmt.Errorf("root %s: %w", root.ID(), err)
	}
	if !root.Spec().HasChild() {
		return entry, nil
	}

	friends, err := b.RootEdges(ctx, root)
	if err != nil {
		return Entry{}, err
	}

	entry.Expanded = true
	for i, friend := range friends {
		if i%b.opts.ProgressEvery == 0 {
			b.run.Logger.Info("processing friends",
				slog.String("uuid", root.ID()),
				slog.Int("processed", i),
				slog.Int("total", len(friends)))
		}
		child, ok, err := b.Visit(ctx, friend, false)
		if err != nil {
			return Entry{}, err
		}
		if ok {
			entry.Friends = append(entry.Friends, child)
		}
	}

	if childSpec, _ := root.Spec().Child(); childSpec.RequireActive() {
		entry.Friends, err = b.Reconfirm(ctx, entry.Friends)
		if err != nil {
			return Entry{}, err
		}
	}
	return b.Finish(entry)
}

// RootEdges loads and polishes the root's edges.
func (b *Builder) RootEdges(ctx context.Context, root *graph.Player) ([]*graph.Player, error) {
	if _, err := root.Edges(ctx, b.run); err != nil {
		return nil, fmt.Errorf("root %s: %w", root.ID(), err)
	}
	if err := root.Polish(b.opts.Cutoff, b.opts.Exclude); err != nil {
		return nil, err
	}
	return root.LoadedEdges(), nil
}

// Stats emits p's own fields, without friends.
func (b *Builder) Stats(ctx context.Context, p *graph.Player) (Entry, error) {
	entry := Entry{UUID: p.ID(), Time: p.Time(), EpochTime: b.opts.EpochTimes}
	if p.IsRoot() {
		entry.RootExcluded = b.opts.RootExcluded
	}
	b.run.Metrics.RecordNodeVisited(ctx, p.Spec().Depth())
	if !p.Spec().EmitFullStats() {
		return entry, nil
	}

	profile, err := b.run.Profiles.Get(ctx, p.ID())
	if err != nil {
		return Entry{}, err
	}
	name, err := profile.DisplayName()
	if err != nil {
		b.run.Logger.Warn("profile without usable name",
			slog.String("uuid", p.ID()),
			slog.String("error", err.Error()))
		name = p.Name()
	} else {
		p.SetName(name)
	}
	fkdr := profile.FKDR()
	star := profile.BedwarsStar()
	entry.Name = name
	entry.FKDR = &fkdr
	entry.Star = &star
	entry.PitRank = profile.PitRank().String()
	return entry, nil
}

// Visit emits a non-root player and its subtree.
//
// # Outputs
//
//   - Entry: The emitted entry, valid when ok is true.
//   - ok: False when the player was excluded as inactive or no longer
//     exists.
//   - error: Any failure except the player's own NotFound.
func (b *Builder) Visit(ctx context.Context, p *graph.Player, recheck bool) (Entry, bool, error) {
	entry, ok, err := b.visit(ctx, p, recheck)
	if errors.Is(err, hypixel.ErrNotFound) {
		b.run.Logger.Warn("dropping friend that no longer exists",
			slog.String("uuid", p.ID()),
			slog.Int("depth", p.Spec().Depth()))
		b.run.Metrics.RecordEdgeDropped(ctx, "not_found")
		return Entry{}, false, nil
	}
	return entry, ok, err
}

func (b *Builder) visit(ctx context.Context, p *graph.Player, recheck bool) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	spec := p.Spec()
	if spec.RequireActive() {
		active, err := b.run.Detector.IsActive(ctx, p.ID(), recheck)
		if err != nil {
			return Entry{}, false, err
		}
		if !active {
			b.run.Metrics.RecordEdgeDropped(ctx, "inactive")
			return Entry{}, false, nil
		}
	}

	entry, err := b.Stats(ctx, p)
	if err != nil {
		return Entry{}, false, err
	}
	if !spec.HasChild() {
		return entry, true, nil
	}

	if _, err := p.Edges(ctx, b.run); err != nil {
		return Entry{}, false, err
	}
	p.DedupeEdges()
	entry.Expanded = true
	for _, friend := range p.LoadedEdges() {
		child, ok, err := b.Visit(ctx, friend, recheck)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			entry.Friends = append(entry.Friends, child)
		}
	}
	return entry, true, nil
}

// Reconfirm keeps the friends still inferred active under a forced
// re-check.
func (b *Builder) Reconfirm(ctx context.Context, friends []Entry) ([]Entry, error) {
	kept := make([]Entry, 0, len(friends))
	for _, f := range friends {
		active, err := b.run.Detector.IsActive(ctx, f.UUID, true)
		if errors.Is(err, hypixel.ErrNotFound) {
			b.run.Metrics.RecordEdgeDropped(ctx, "not_found")
			continue
		}
		if err != nil {
			return nil, err
		}
		if !active {
			b.run.Metrics.RecordEdgeDropped(ctx, "inactive")
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

// Finish sorts the root's friends and checks they are unique.
func (b *Builder) Finish(entry Entry) (Entry, error) {
	if !b.opts.SortKey.Sort(entry.Friends) {
		b.run.Logger.Debug("friends keep recency order",
			slog.String("sort_key", b.opts.SortKey.String()))
	}
	if err := entry.CheckUnique(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
