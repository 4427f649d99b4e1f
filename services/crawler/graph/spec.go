// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

// Level describes the traversal policy for one hop of the graph.
type Level struct {
	// EmitFullStats emits name and stats; when false only the identity and
	// edge time are emitted.
	EmitFullStats bool

	// RequireActive excludes players not inferred to be active right now.
	RequireActive bool
}

// Spec is the traversal policy governing one player and, through its child,
// everything below it.
//
// # Description
//
// A Spec is a value: every field is unexported and every modifier returns a
// new Spec. The child chain is built once by Chain and never mutated, so a
// Spec obtained from Child can be modified freely without affecting the
// parent's stored child.
//
// # Invariants
//
//   - depth 0 is the root; a node governed by depth 0 has no edge time.
//   - child.depth == depth + 1.
//
// # Thread Safety
//
// Spec is immutable and safe for concurrent use.
type Spec struct {
	emitFullStats bool
	requireActive bool
	depth         int
	child         *Spec
}

// Chain builds a spec chain with one Level per depth, root first.
//
// # Example
//
//	spec := graph.Chain(
//	    graph.Level{EmitFullStats: true},
//	    graph.Level{EmitFullStats: true, RequireActive: true},
//	)
//	spec.Depth()  // 0
//	child, _ := spec.Child()
//	child.Depth() // 1
func Chain(levels ...Level) Spec {
	if len(levels) == 0 {
		return Spec{}
	}
	var next *Spec
	for i := len(levels) - 1; i >= 1; i-- {
		next = &Spec{
			emitFullStats: levels[i].EmitFullStats,
			requireActive: levels[i].RequireActive,
			depth:         i,
			child:         next,
		}
	}
	return Spec{
		emitFullStats: levels[0].EmitFullStats,
		requireActive: levels[0].RequireActive,
		child:         next,
	}
}

// DefaultChain returns the standard report policy.
//
// The root emits full stats. Friends emit full stats unless justIDs is set
// and must be active when onlineOnly is set. Friends of friends, when
// requested, are emitted as bare identities.
func DefaultChain(justIDs, onlineOnly, friendsOfFriends bool) Spec {
	levels := []Level{
		{EmitFullStats: true},
		{EmitFullStats: !justIDs, RequireActive: onlineOnly},
	}
	if friendsOfFriends {
		levels = append(levels, Level{})
	}
	return Chain(levels...)
}

// EmitFullStats reports whether name and stats are emitted.
func (s Spec) EmitFullStats() bool { return s.emitFullStats }

// RequireActive reports whether the governed player must be active.
func (s Spec) RequireActive() bool { return s.requireActive }

// Depth returns the number of hops from the root.
func (s Spec) Depth() int { return s.depth }

// IsRoot reports whether the spec governs the root player.
func (s Spec) IsRoot() bool { return s.depth == 0 }

// HasChild reports whether edges below this level are traversed.
func (s Spec) HasChild() bool { return s.child != nil }

// Child returns an independent copy of the spec for the next hop.
func (s Spec) Child() (Spec, bool) {
	if s.child == nil {
		return Spec{}, false
	}
	return *s.child, true
}

// MaxDepth returns the depth of the deepest level in the chain.
func (s Spec) MaxDepth() int {
	d := s.depth
	for c := s.child; c != nil; c = c.child {
		d = c.depth
	}
	return d
}

// Levels returns the chain as Levels, root first.
func (s Spec) Levels() []Level {
	levels := []Level{{EmitFullStats: s.emitFullStats, RequireActive: s.requireActive}}
	for c := s.child; c != nil; c = c.child {
		levels = append(levels, Level{EmitFullStats: c.emitFullStats, RequireActive: c.requireActive})
	}
	return levels
}

// Equal reports whether two specs describe the same chain.
func (s Spec) Equal(other Spec) bool {
	if s.emitFullStats != other.emitFullStats ||
		s.requireActive != other.requireActive ||
		s.depth != other.depth {
		return false
	}
	a, aok := s.Child()
	b, bok := other.Child()
	if aok != bok {
		return false
	}
	return !aok || a.Equal(b)
}

// Validate checks the depth invariant along the whole chain.
func (s Spec) Validate() error {
	prev := s.depth
	for c := s.child; c != nil; c = c.child {
		if c.depth != prev+1 {
			return Invariantf("Spec.Validate", "child depth %d follows depth %d", c.depth, prev)
		}
		prev = c.depth
	}
	return nil
}
