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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
)

// Entry is one player in a report tree.
//
// # Description
//
// Stats are pointers so a zero stat and an omitted stat stay distinct in
// the JSON output. Friends is emitted, possibly empty, whenever the player
// was expanded; a leaf has no friends key at all.
type Entry struct {
	UUID    string
	Name    string
	FKDR    *float64
	Star    *int64
	PitRank string

	// Time is when the player befriended the parent. Absent for the root.
	Time graph.EdgeTime

	// EpochTime writes Time as epoch milliseconds instead of a date.
	EpochTime bool

	// Expanded marks a player whose edges were traversed.
	Expanded bool
	Friends  []Entry

	// RootExcluded marks a root whose friends were combined from several
	// players, so the list is not the root's own.
	RootExcluded bool
}

type entryJSON struct {
	UUID    string   `json:"uuid"`
	Name    string   `json:"name,omitempty"`
	FKDR    *float64 `json:"fkdr,omitempty"`
	Star    *int64   `json:"star,omitempty"`
	PitRank string   `json:"pit_rank,omitempty"`
	Time    any      `json:"time,omitempty"`
	Friends *[]Entry `json:"friends,omitempty"`

	RootExcluded bool `json:"root_excluded,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		UUID:    e.UUID,
		Name:    e.Name,
		FKDR:    e.FKDR,
		Star:    e.Star,
		PitRank: e.PitRank,

		RootExcluded: e.RootExcluded,
	}
	if e.Time.IsSet() {
		if e.EpochTime {
			out.Time = e.Time.Millis()
		} else {
			out.Time = e.Time.Date()
		}
	}
	if e.Expanded {
		friends := e.Friends
		if friends == nil {
			friends = []Entry{}
		}
		out.Friends = &friends
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{
		UUID:    in.UUID,
		Name:    in.Name,
		FKDR:    in.FKDR,
		Star:    in.Star,
		PitRank: in.PitRank,

		RootExcluded: in.RootExcluded,
	}
	if in.Time != nil {
		t, err := graph.ParseTime(in.Time)
		if err != nil {
			return fmt.Errorf("entry %s: %w", in.UUID, err)
		}
		e.Time = t
		_, e.EpochTime = in.Time.(float64)
	}
	if in.Friends != nil {
		e.Expanded = true
		e.Friends = *in.Friends
	}
	return nil
}

// Count returns the number of entries in the tree rooted at e.
func (e Entry) Count() int {
	n := 1
	for _, f := range e.Friends {
		n += f.Count()
	}
	return n
}

// Depth returns how many levels of friends nest below e.
func (e Entry) Depth() int {
	d := 0
	for _, f := range e.Friends {
		d = max(d, f.Depth()+1)
	}
	return d
}

// Clone returns a deep copy of the tree rooted at e.
func (e Entry) Clone() Entry {
	c := e
	if e.FKDR != nil {
		v := *e.FKDR
		c.FKDR = &v
	}
	if e.Star != nil {
		v := *e.Star
		c.Star = &v
	}
	if e.Friends != nil {
		c.Friends = make([]Entry, len(e.Friends))
		for i, f := range e.Friends {
			c.Friends[i] = f.Clone()
		}
	}
	return c
}

// CheckUnique returns an InvariantError when two friends share an identity.
func (e Entry) CheckUnique() error {
	seen := make(graph.IDSet, len(e.Friends))
	for _, f := range e.Friends {
		if seen.Has(f.UUID) {
			return graph.Invariantf("report.CheckUnique", "%s appears twice among the friends of %s", f.UUID, e.UUID)
		}
		seen.Add(f.UUID)
	}
	return nil
}
