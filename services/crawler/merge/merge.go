// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge combines the edge lists of several players.
//
// Each source is tagged Union, Intersect or Subtract. Union and Intersect
// operands fold left to right into the include list; Subtract operands
// collect into an exclude set that is applied once, after everything else,
// so subtraction never depends on where it appears in the argument list.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
)

// ----- Error Sentinel Values -----

var (
	// ErrNoInclude indicates every source was a subtraction.
	ErrNoInclude = errors.New("merge needs at least one union or intersect source")

	// ErrUnknownOp indicates an operation tag outside Union, Intersect
	// and Subtract.
	ErrUnknownOp = errors.New("unknown merge operation")
)

// Op tags how a source's edges combine with the rest.
type Op int

const (
	Union Op = iota
	Intersect
	Subtract
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case Union:
		return "union"
	case Intersect:
		return "intersect"
	case Subtract:
		return "subtract"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp decodes an operation name.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "union", "add":
		return Union, nil
	case "intersect", "and":
		return Intersect, nil
	case "subtract", "minus", "exclude":
		return Subtract, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Source is one operand.
type Source struct {
	// Label names the source in errors and logs, usually the player.
	Label string

	Op    Op
	Edges []graph.Edge
}

// Options tune Evaluate.
type Options struct {
	// Cutoff drops edges formed before it. Zero keeps every edge.
	Cutoff graph.EdgeTime
}

// Result is the combined edge list.
type Result struct {
	// Edges is newest first with one entry per identity.
	Edges []graph.Edge

	// Excluded is the union of every Subtract source.
	Excluded graph.IDSet
}

// Evaluate combines sources.
//
// # Description
//
// The include list starts with the first Union or Intersect source. Each
// later Union appends its edges and each later Intersect keeps only the
// identities it shares. Subtract sources only feed the exclude set. The
// include list is then polished: newest first, one edge per identity
// keeping its most recent time, the cutoff applied, excluded identities
// removed.
//
// # Outputs
//
//   - Result: The combined edges and the exclude set.
//   - error: ErrNoInclude or ErrUnknownOp.
//
// # Example
//
//	res, err := merge.Evaluate([]merge.Source{
//	    {Label: "alice", Op: merge.Union, Edges: alice},
//	    {Label: "bob", Op: merge.Union, Edges: bob},
//	    {Label: "carol", Op: merge.Subtract, Edges: carol},
//	}, merge.Options{})
func Evaluate(sources []Source, opts Options) (Result, error) {
	var include []graph.Edge
	started := false
	excluded := make(graph.IDSet)

	for _, src := range sources {
		switch src.Op {
		case Union:
			include = append(include, src.Edges...)
		case Intersect:
			if !started {
				include = append(include, src.Edges...)
			} else {
				include = IntersectEdges(include, src.Edges)
			}
		case Subtract:
			for _, e := range src.Edges {
				excluded.Add(e.ID)
			}
			continue
		default:
			return Result{}, fmt.Errorf("source %q: %w: %d", src.Label, ErrUnknownOp, int(src.Op))
		}
		started = true
	}
	if !started {
		return Result{}, ErrNoInclude
	}

	return Result{
		Edges:    Polish(include, opts.Cutoff, excluded),
		Excluded: excluded,
	}, nil
}

// IntersectEdges returns the edges of a whose identity appears in b, in a's
// order and with a's times.
func IntersectEdges(a, b []graph.Edge) []graph.Edge {
	keep := graph.NewIDSet(graph.EdgeIDs(b)...)
	out := make([]graph.Edge, 0, min(len(a), len(b)))
	for _, e := range a {
		if keep.Has(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// Polish is the post-combination pipeline for one edge list: sort newest
// first, keep the first occurrence of each identity, apply the cutoff and
// drop excluded identities. The input is not modified.
func Polish(edges []graph.Edge, cutoff graph.EdgeTime, exclude graph.IDSet) []graph.Edge {
	out := graph.SortByRecency(edges)
	out = graph.Dedupe(out)
	out = graph.RemoveBefore(out, cutoff)
	return graph.Exclude(out, exclude)
}
