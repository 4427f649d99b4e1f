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
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/hypickle/services/hypixel"
)

// ErrUnknownSortKey is returned by ParseSortKey.
var ErrUnknownSortKey = errors.New("unknown sort key")

// SortKey selects the stat friends are ordered by.
type SortKey int

const (
	SortFKDR SortKey = iota
	SortStar
	SortPitRank
)

var sortKeyNames = map[SortKey]string{
	SortFKDR:    "fkdr",
	SortStar:    "star",
	SortPitRank: "pit_rank",
}

// String implements fmt.Stringer.
func (k SortKey) String() string {
	if name, ok := sortKeyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SortKey(%d)", int(k))
}

// ParseSortKey decodes a sort key name, case-insensitively. Empty selects
// SortFKDR.
func ParseSortKey(s string) (SortKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortFKDR, nil
	}
	for k, name := range sortKeyNames {
		if name == s || strings.ReplaceAll(name, "_", "") == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// Value extracts the sort value of e. ok is false when e lacks the stat
// or carries an undecodable rank.
func (k SortKey) Value(e Entry) (v float64, ok bool) {
	switch k {
	case SortFKDR:
		if e.FKDR == nil {
			return 0, false
		}
		return *e.FKDR, true
	case SortStar:
		if e.Star == nil {
			return 0, false
		}
		return float64(*e.Star), true
	case SortPitRank:
		if e.PitRank == "" {
			return 0, false
		}
		rank, err := hypixel.ParsePitRank(e.PitRank)
		if err != nil {
			return 0, false
		}
		return float64(rank.SortKey()), true
	}
	return 0, false
}

// Sort orders entries by k, highest first, stably. When any entry lacks
// the stat the order is left unchanged and Sort reports false.
func (k SortKey) Sort(entries []Entry) bool {
	values := make(map[string]float64, len(entries))
	for _, e := range entries {
		v, ok := k.Value(e)
		if !ok {
			return false
		}
		values[e.UUID] = v
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(values[b.UUID], values[a.UUID])
	})
	return true
}
