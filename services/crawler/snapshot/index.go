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

import (
	"context"
	"slices"
	"strings"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/AleutianAI/hypickle/services/crawler/graph"
)

// SummaryKeys are the keys Summary reports on, in output order.
var SummaryKeys = []string{"friends", "name", "fkdr", "star", "pit_rank"}

// Index answers lookups over deduplicated records.
//
// # Thread Safety
//
// Immutable after construction and safe for concurrent use.
type Index struct {
	records []Record
	byID    map[string]int
	byName  map[string]int
}

// NewIndex deduplicates records with policy and indexes the result.
func NewIndex(records []Record, policy Policy) *Index {
	deduped := Dedupe(records, policy)
	ix := &Index{
		records: deduped,
		byID:    make(map[string]int, len(deduped)),
		byName:  make(map[string]int, len(deduped)),
	}
	for i, r := range deduped {
		ix.byID[r.ID] = i
		if r.Name != "" {
			ix.byName[strings.ToLower(r.Name)] = i
		}
	}
	return ix
}

// LoadIndex reads dir and indexes its snapshots.
func LoadIndex(ctx context.Context, dir string, policy Policy) (*Index, error) {
	trees, err := LoadDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	records, err := Flatten(trees)
	if err != nil {
		return nil, err
	}
	return NewIndex(records, policy), nil
}

// Len returns the number of unique identities.
func (ix *Index) Len() int {
	return len(ix.records)
}

// Records returns the deduplicated records in first-seen order.
func (ix *Index) Records() []Record {
	return slices.Clone(ix.records)
}

// Lookup finds a record by identifier or, case-insensitively, by handle.
func (ix *Index) Lookup(ref string) (Record, bool) {
	if i, ok := ix.byID[normalize(ref)]; ok {
		return ix.records[i], true
	}
	if i, ok := ix.byName[strings.ToLower(ref)]; ok {
		return ix.records[i], true
	}
	return Record{}, false
}

// LargestEdgeList returns the edges of the best record for ref, or nil.
// With PreferEdges this is the largest friends list seen in any snapshot.
func (ix *Index) LargestEdgeList(ref string) []graph.Edge {
	r, ok := ix.Lookup(ref)
	if !ok {
		return nil
	}
	return slices.Clone(r.Friends)
}

// Handles returns lower-cased handle to identifier pairs for every named
// record whose handle is valid.
func (ix *Index) Handles() map[string]string {
	out := make(map[string]string, len(ix.byName))
	for name, i := range ix.byName {
		if validation.ValidateHandle(name) != nil {
			continue
		}
		out[name] = ix.records[i].ID
	}
	return out
}

// KeySummary describes one key across the records.
type KeySummary struct {
	Key   string
	Count int

	// Max is the highest value, or the longest friends list; set only for
	// numeric keys and friends.
	Max     float64
	MaxID   string
	MaxName string
	HasMax  bool
}

// Summary describes what the snapshots hold.
type Summary struct {
	// Unique is the number of distinct identities.
	Unique int

	// NonTrivial counts identities with any SummaryKeys field.
	NonTrivial int

	Keys []KeySummary
}

// Summary counts each SummaryKeys field and finds the record with the
// highest value where the key is numeric.
func (ix *Index) Summary() Summary {
	s := Summary{Unique: len(ix.records)}
	for _, r := range ix.records {
		for _, k := range SummaryKeys {
			if has(r, k) {
				s.NonTrivial++
				break
			}
		}
	}

	for _, k := range SummaryKeys {
		ks := KeySummary{Key: k}
		for _, r := range ix.records {
			if !has(r, k) {
				continue
			}
			ks.Count++
			v, numeric := value(r, k)
			if !numeric {
				continue
			}
			if !ks.HasMax || v > ks.Max {
				ks.Max, ks.MaxID, ks.MaxName, ks.HasMax = v, r.ID, r.Name, true
			}
		}
		s.Keys = append(s.Keys, ks)
	}
	return s
}

func has(r Record, key string) bool {
	if key == "friends" {
		return r.HasFriends
	}
	_, ok := r.Fields[key]
	return ok
}

func value(r Record, key string) (float64, bool) {
	if key == "friends" {
		return float64(len(r.Friends)), true
	}
	return r.Stat(key)
}
