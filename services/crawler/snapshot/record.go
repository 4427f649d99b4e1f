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
	"fmt"
	"strconv"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/AleutianAI/hypickle/services/crawler/graph"
)

// Record is one node occurrence in a snapshot tree.
type Record struct {
	// ID is the normalised identity.
	ID string

	// Name is the display name, when the node had one.
	Name string

	// Fields holds the node's own fields, without friends.
	Fields map[string]any

	// HasFriends reports whether the node listed friends, even none.
	HasFriends bool
	Friends    []graph.Edge

	// Source is the file the record came from; Path locates it inside the
	// tree as friend indices from the root, e.g. "0/3".
	Source string
	Path   string
}

// TimedEdges reports whether the record's edges carry timestamps.
func (r Record) TimedEdges() bool {
	for _, e := range r.Friends {
		if e.Time.IsSet() {
			return true
		}
	}
	return false
}

// FieldCount returns the number of top-level fields the node had.
func (r Record) FieldCount() int {
	n := len(r.Fields)
	if r.HasFriends {
		n++
	}
	return n
}

// Stat returns a numeric field.
func (r Record) Stat(key string) (float64, bool) {
	v, ok := r.Fields[key].(float64)
	return v, ok
}

// Document rebuilds the node as a report map with edge times in epoch
// milliseconds.
func (r Record) Document() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.HasFriends {
		friends := make([]map[string]any, len(r.Friends))
		for i, e := range r.Friends {
			f := map[string]any{"uuid": e.ID}
			if e.Time.IsSet() {
				f["time"] = e.Time.Millis()
			}
			friends[i] = f
		}
		out["friends"] = friends
	}
	return out
}

// Flatten returns one record per node of every tree, in tree order and
// depth-first within a tree.
//
// # Description
//
// A tree whose root has RootExcludedKey set to true contributes only its
// friends. Nodes without a uuid, friends that are not objects, and
// unparsable times are reported as ErrMalformed with the file and path.
func Flatten(trees []Tree) ([]Record, error) {
	var out []Record
	for _, tree := range trees {
		excluded, _ := tree.Root[RootExcludedKey].(bool)
		if excluded {
			friends, err := friendNodes(tree.Root, tree.File, "")
			if err != nil {
				return nil, err
			}
			for i, f := range friends {
				if out, err = flattenNode(out, f, tree.File, strconv.Itoa(i)); err != nil {
					return nil, err
				}
			}
			continue
		}
		var err error
		if out, err = flattenNode(out, tree.Root, tree.File, ""); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenNode(out []Record, node map[string]any, file, path string) ([]Record, error) {
	rec, err := newRecord(node, file, path)
	if err != nil {
		return nil, err
	}
	out = append(out, rec)

	friends, err := friendNodes(node, file, path)
	if err != nil {
		return nil, err
	}
	for i, f := range friends {
		child := strconv.Itoa(i)
		if path != "" {
			child = path + "/" + child
		}
		if out, err = flattenNode(out, f, file, child); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func friendNodes(node map[string]any, file, path string) ([]map[string]any, error) {
	raw, ok := node["friends"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %q: friends is %T", ErrMalformed, file, path, raw)
	}
	out := make([]map[string]any, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %q: friend %d is %T", ErrMalformed, file, path, i, item)
		}
		out[i] = m
	}
	return out, nil
}

func newRecord(node map[string]any, file, path string) (Record, error) {
	rawID, _ := node["uuid"].(string)
	if rawID == "" {
		return Record{}, fmt.Errorf("%w: %s at %q: node without uuid", ErrMalformed, file, path)
	}
	rec := Record{
		ID:     normalize(rawID),
		Fields: make(map[string]any, len(node)),
		Source: file,
		Path:   path,
	}
	for k, v := range node {
		switch k {
		case "friends", RootExcludedKey:
			continue
		case "uuid":
			rec.Fields[k] = rec.ID
		default:
			rec.Fields[k] = v
		}
	}
	rec.Name, _ = node["name"].(string)

	friends, err := friendNodes(node, file, path)
	if err != nil {
		return Record{}, err
	}
	if _, ok := node["friends"]; ok {
		rec.HasFriends = true
		rec.Friends = make([]graph.Edge, 0, len(friends))
	}
	for i, f := range friends {
		fid, _ := f["uuid"].(string)
		if fid == "" {
			return Record{}, fmt.Errorf("%w: %s at %q: friend %d without uuid", ErrMalformed, file, path, i)
		}
		t, err := graph.ParseTime(f["time"])
		if err != nil {
			return Record{}, fmt.Errorf("%w: %s at %q: %v", ErrMalformed, file, path, err)
		}
		rec.Friends = append(rec.Friends, graph.Edge{ID: normalize(fid), Time: t})
	}
	return rec, nil
}

func normalize(id string) string {
	if n, err := validation.NormalizeIdentifier(id); err == nil {
		return n
	}
	return id
}
