// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hypixel

import (
	"reflect"
)

// Document is a decoded JSON object returned by the stats service.
//
// The service's payloads are large and loosely typed, so they are kept
// as generic maps and read through the path accessors below. Numbers
// decode as float64.
type Document map[string]any

// Lookup walks path through nested objects.
func (d Document) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(d)
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether path exists, even when its value is null.
func (d Document) Has(path ...string) bool {
	_, ok := d.Lookup(path...)
	return ok
}

// Object returns the nested object at path.
func (d Document) Object(path ...string) (Document, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return nil, false
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	return Document(m), true
}

// Float returns the number at path.
func (d Document) Float(path ...string) (float64, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Int returns the number at path truncated to an integer.
func (d Document) Int(path ...string) (int64, bool) {
	f, ok := d.Float(path...)
	return int64(f), ok
}

// String returns the string at path.
func (d Document) String(path ...string) (string, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the boolean at path.
func (d Document) Bool(path ...string) (bool, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Objects returns the objects of the array at path, skipping non-objects.
func (d Document) Objects(path ...string) []Document {
	v, ok := d.Lookup(path...)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Document, 0, len(arr))
	for _, item := range arr {
		if m, ok := asMap(item); ok {
			out = append(out, Document(m))
		}
	}
	return out
}

// Equal reports whether two documents are deeply equal.
func (d Document) Equal(other Document) bool {
	return reflect.DeepEqual(map[string]any(d), map[string]any(other))
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}
