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

import (
	"cmp"
	"slices"
)

// Edge is an outgoing friendship: the friend's identity and when the
// friendship was formed.
type Edge struct {
	ID   string
	Time EdgeTime
}

// IDSet is a set of identities.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// EdgeIDs returns the identities of edges in order.
func EdgeIDs(edges []Edge) []string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}

// SortByRecency returns a copy of edges sorted newest first. The sort is
// stable so equal times keep their source order.
func SortByRecency(edges []Edge) []Edge {
	return sortByRecency(edges, func(e Edge) EdgeTime { return e.Time })
}

// Dedupe returns a copy of edges keeping the first occurrence of each identity.
func Dedupe(edges []Edge) []Edge {
	return dedupeBy(edges, func(e Edge) string { return e.ID })
}

// RemoveBefore returns a copy of edges without those formed before cutoff.
// An absent cutoff keeps every edge.
func RemoveBefore(edges []Edge, cutoff EdgeTime) []Edge {
	return removeBefore(edges, cutoff, func(e Edge) EdgeTime { return e.Time })
}

// Exclude returns a copy of edges without the identities in excluded.
func Exclude(edges []Edge, excluded IDSet) []Edge {
	return excludeBy(edges, excluded, func(e Edge) string { return e.ID })
}

func sortByRecency[T any](xs []T, timeOf func(T) EdgeTime) []T {
	out := slices.Clone(xs)
	slices.SortStableFunc(out, func(a, b T) int {
		return cmp.Compare(timeOf(b).SortKey(), timeOf(a).SortKey())
	})
	return out
}

func dedupeBy[T any](xs []T, idOf func(T) string) []T {
	seen := make(IDSet, len(xs))
	out := make([]T, 0, len(xs))
	for _, x := range xs {
		id := idOf(x)
		if seen.Has(id) {
			continue
		}
		seen.Add(id)
		out = append(out, x)
	}
	return out
}

func removeBefore[T any](xs []T, cutoff EdgeTime, timeOf func(T) EdgeTime) []T {
	out := make([]T, 0, len(xs))
	for _, x := range xs {
		if timeOf(x).Before(cutoff) {
			continue
		}
		out = append(out, x)
	}
	return out
}

func excludeBy[T any](xs []T, excluded IDSet, idOf func(T) string) []T {
	out := make([]T, 0, len(xs))
	for _, x := range xs {
		if excluded.Has(idOf(x)) {
			continue
		}
		out = append(out, x)
	}
	return out
}
