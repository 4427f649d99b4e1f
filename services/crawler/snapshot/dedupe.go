// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import "cmp"

// Policy orders the criteria used to pick between two records.
type Policy int

const (
	// PreferEdges ranks the larger edge list above timestamped edges.
	PreferEdges Policy = iota

	// PreferTimestamps ranks timestamped edges above the larger edge list.
	PreferTimestamps
)

// Compare ranks two records for the same identity.
//
// # Description
//
// Criteria, in order under PreferEdges:
//
//  1. the larger edge list
//  2. edges carrying timestamps
//  3. strictly more fields
//
// PreferTimestamps swaps 1 and 2. A positive result prefers a, negative
// prefers b, and zero means no criterion separates them; callers then keep
// whichever came first. Compare(a, b) == -Compare(b, a) for every pair.
func Compare(a, b Record, policy Policy) int {
	edges := cmp.Compare(len(a.Friends), len(b.Friends))
	timed := compareBool(a.TimedEdges(), b.TimedEdges())
	first, second := edges, timed
	if policy == PreferTimestamps {
		first, second = timed, edges
	}
	if first != 0 {
		return first
	}
	if second != 0 {
		return second
	}
	return cmp.Compare(a.FieldCount(), b.FieldCount())
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

// Prefer returns the better of two records, where a was encountered first.
func Prefer(a, b Record, policy Policy) Record {
	if Compare(a, b, policy) >= 0 {
		return a
	}
	return b
}

// Dedupe keeps one record per identity, chosen by Prefer. Identities keep
// the position of their first occurrence.
func Dedupe(records []Record, policy Policy) []Record {
	pos := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		i, seen := pos[r.ID]
		if !seen {
			pos[r.ID] = len(out)
			out = append(out, r)
			continue
		}
		out[i] = Prefer(out[i], r, policy)
	}
	return out
}
