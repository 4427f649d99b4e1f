// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph models the player social graph: players as lazily-populated
// vertices, friendships as timestamped edges, and the traversal Spec that
// governs how far and how strictly a crawl descends.
package graph

import (
	"context"
	"fmt"
	"slices"
)

// EdgeLoader fetches the outgoing edges of a player.
type EdgeLoader interface {
	LoadEdges(ctx context.Context, id string) ([]Edge, error)
}

// EdgeLoaderFunc adapts a function to EdgeLoader.
type EdgeLoaderFunc func(ctx context.Context, id string) ([]Edge, error)

// LoadEdges implements EdgeLoader.
func (f EdgeLoaderFunc) LoadEdges(ctx context.Context, id string) ([]Edge, error) {
	return f(ctx, id)
}

// edgeState tags whether a player's edges have been fetched or supplied.
type edgeState uint8

const (
	// edgesUnloaded: edges will be fetched on first access.
	edgesUnloaded edgeState = iota

	// edgesLoaded: edges are known, possibly empty, and never re-fetched.
	edgesLoaded
)

// Player is a vertex of the social graph.
//
// # Description
//
// A Player starts Unloaded. The first call to Edges fetches through the
// supplied loader; SetEdges moves it to Loaded directly.
// Once Loaded, even with zero edges, the network is never consulted again
// for this player. Edge lists are only replaced wholesale by the filters
// below, never appended to.
//
// # Thread Safety
//
// Not safe for concurrent use. A crawl is single-threaded.
type Player struct {
	id            string
	time          EdgeTime
	spec          Spec
	name          string
	state         edgeState
	edges         []*Player
	excludesEdges bool
}

// NewPlayer creates an unloaded player governed by spec.
func NewPlayer(id string, t EdgeTime, spec Spec) *Player {
	return &Player{id: id, time: t, spec: spec}
}

// NewRoot creates the root of a crawl. The spec must be depth 0.
func NewRoot(id string, spec Spec) (*Player, error) {
	if !spec.IsRoot() {
		return nil, Invariantf("NewRoot", "root spec has depth %d", spec.Depth())
	}
	return NewPlayer(id, EdgeTime{}, spec), nil
}

// ID returns the player's identifier.
func (p *Player) ID() string { return p.id }

// Time returns when the player befriended its parent.
func (p *Player) Time() EdgeTime { return p.time }

// Spec returns the governing spec.
func (p *Player) Spec() Spec { return p.spec }

// Name returns the display name, if known.
func (p *Player) Name() string { return p.name }

// SetName records the display name.
func (p *Player) SetName(name string) { p.name = name }

// IsRoot reports whether the player is the root of its crawl.
func (p *Player) IsRoot() bool { return p.spec.IsRoot() }

// EdgesLoaded reports whether edges are known.
func (p *Player) EdgesLoaded() bool { return p.state == edgesLoaded }

// ExcludesEdges reports whether this player's edges are being subtracted
// from a merge rather than added to it.
func (p *Player) ExcludesEdges() bool { return p.excludesEdges }

// SetExcludesEdges marks the player's edges as an exclusion source.
func (p *Player) SetExcludesEdges(v bool) { p.excludesEdges = v }

// Validate checks node-level invariants.
func (p *Player) Validate() error {
	if p.spec.IsRoot() && p.time.IsSet() {
		return Invariantf("Player.Validate", "root %s has edge time %s", p.id, p.time)
	}
	return p.spec.Validate()
}

// Edges returns the player's edges, fetching them on first access.
//
// # Description
//
// While Unloaded, calls loader exactly once per successful load. A failed
// load leaves the player Unloaded so the error can propagate and a later
// call may retry. While Loaded, returns the known edges without touching
// the loader, which may then be nil.
//
// # Outputs
//
//   - []*Player: A fresh slice; the players are shared.
//   - error: Loader errors, or ErrNoLoader.
func (p *Player) Edges(ctx context.Context, loader EdgeLoader) ([]*Player, error) {
	if p.state == edgesUnloaded {
		if loader == nil {
			return nil, fmt.Errorf("player %s: %w", p.id, ErrNoLoader)
		}
		edges, err := loader.LoadEdges(ctx, p.id)
		if err != nil {
			return nil, fmt.Errorf("load edges of %s: %w", p.id, err)
		}
		p.SetEdges(edges)
	}
	return slices.Clone(p.edges), nil
}

// LoadedEdges returns the known edges without fetching. Unloaded players
// report nil.
func (p *Player) LoadedEdges() []*Player {
	return slices.Clone(p.edges)
}

// SetEdges replaces the edges, moving the player to Loaded. Each friend
// is governed by this player's child spec.
func (p *Player) SetEdges(edges []Edge) {
	child, _ := p.spec.Child()
	players := make([]*Player, len(edges))
	for i, e := range edges {
		players[i] = NewPlayer(e.ID, e.Time, child)
	}
	p.edges = players
	p.state = edgesLoaded
}

// EdgeList returns the loaded edges as plain Edges.
func (p *Player) EdgeList() []Edge {
	out := make([]Edge, len(p.edges))
	for i, f := range p.edges {
		out[i] = Edge{ID: f.id, Time: f.time}
	}
	return out
}

// RemoveEdgesBefore drops edges formed before cutoff, including undated ones.
//
// Returns an InvariantError when the player's edges are an exclusion source:
// trimming those would silently shrink what gets subtracted.
func (p *Player) RemoveEdgesBefore(cutoff EdgeTime) error {
	if p.excludesEdges {
		return Invariantf("Player.RemoveEdgesBefore", "edges of %s are excluded, not added", p.id)
	}
	p.edges = removeBefore(p.edges, cutoff, (*Player).Time)
	return nil
}

// DedupeEdges keeps the first occurrence of each identity, preserving order.
func (p *Player) DedupeEdges() {
	p.edges = dedupeBy(p.edges, (*Player).ID)
}

// SortEdgesByRecency orders edges newest first, stably.
func (p *Player) SortEdgesByRecency() {
	p.edges = sortByRecency(p.edges, (*Player).Time)
}

// ExcludeEdges drops edges whose identity is in excluded.
func (p *Player) ExcludeEdges(excluded IDSet) {
	p.edges = excludeBy(p.edges, excluded, (*Player).ID)
}

// Polish applies the standard edge pipeline: newest first, first
// occurrence wins, excluded identities removed, then the date cutoff.
func (p *Player) Polish(cutoff EdgeTime, excluded IDSet) error {
	if !p.EdgesLoaded() {
		return nil
	}
	p.SortEdgesByRecency()
	p.DedupeEdges()
	p.ExcludeEdges(excluded)
	if !cutoff.IsSet() {
		return nil
	}
	return p.RemoveEdgesBefore(cutoff)
}
