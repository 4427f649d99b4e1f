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
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/hypickle/pkg/validation"
)

// millisThreshold separates epoch seconds from epoch milliseconds. Any epoch
// above it is already in milliseconds; seconds values will not reach it
// until the year 2286.
const millisThreshold = 1e10

// EdgeTime is the optional instant an edge (friendship) was formed.
//
// # Description
//
// The zero value means "absent", which is always the case for the root
// player since it has no parent edge. Set values are stored as epoch
// milliseconds regardless of the form they were built from.
//
// # Thread Safety
//
// EdgeTime is an immutable value type.
type EdgeTime struct {
	ms  int64
	set bool
}

// FromEpoch builds an EdgeTime from an epoch in seconds or milliseconds.
func FromEpoch(v float64) EdgeTime {
	if v > millisThreshold {
		return EdgeTime{ms: int64(v), set: true}
	}
	return EdgeTime{ms: int64(v * 1000), set: true}
}

// FromMillis builds an EdgeTime from epoch milliseconds.
func FromMillis(ms int64) EdgeTime {
	return EdgeTime{ms: ms, set: true}
}

// FromTime builds an EdgeTime from a time.Time. The zero time is absent.
func FromTime(t time.Time) EdgeTime {
	if t.IsZero() {
		return EdgeTime{}
	}
	return FromMillis(t.UnixMilli())
}

// FromDate builds an EdgeTime from a YYYY-MM-DD date at local midnight.
func FromDate(date string) (EdgeTime, error) {
	t, err := validation.ParseDate(date)
	if err != nil {
		return EdgeTime{}, err
	}
	return FromTime(t), nil
}

// ParseTime decodes the loosely-typed "time" value found in snapshot files.
//
// # Inputs
//
//   - v: nil, a YYYY-MM-DD string, a numeric string, a float64,
//     a json.Number, or an integer.
//
// # Outputs
//
//   - EdgeTime: Absent for nil.
//   - error: Non-nil for unsupported types or malformed strings.
func ParseTime(v any) (EdgeTime, error) {
	switch val := v.(type) {
	case nil:
		return EdgeTime{}, nil
	case EdgeTime:
		return val, nil
	case string:
		if validation.IsDateString(val) {
			return FromDate(val)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return EdgeTime{}, fmt.Errorf("parse edge time %q: %w", val, err)
		}
		return FromEpoch(f), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return EdgeTime{}, fmt.Errorf("parse edge time %q: %w", val, err)
		}
		return FromEpoch(f), nil
	case float64:
		return FromEpoch(val), nil
	case int64:
		return FromEpoch(float64(val)), nil
	case int:
		return FromEpoch(float64(val)), nil
	default:
		return EdgeTime{}, fmt.Errorf("unsupported edge time type %T", v)
	}
}

// IsSet reports whether the time is present.
func (t EdgeTime) IsSet() bool { return t.set }

// Millis returns epoch milliseconds, or 0 when absent.
func (t EdgeTime) Millis() int64 { return t.ms }

// Seconds returns epoch seconds, or 0 when absent.
func (t EdgeTime) Seconds() float64 { return float64(t.ms) / 1000 }

// Time converts to a local time.Time. Absent converts to the zero time.
func (t EdgeTime) Time() time.Time {
	if !t.set {
		return time.Time{}
	}
	return time.UnixMilli(t.ms)
}

// Date returns the YYYY-MM-DD form, or "" when absent.
func (t EdgeTime) Date() string {
	if !t.set {
		return ""
	}
	return t.Time().Format(validation.DateLayout)
}

// SortKey orders times with absent treated as the epoch.
func (t EdgeTime) SortKey() int64 {
	if !t.set {
		return 0
	}
	return t.ms
}

// MoreRecent reports whether t is strictly more recent than other.
func (t EdgeTime) MoreRecent(other EdgeTime) bool {
	return t.SortKey() > other.SortKey()
}

// Before reports whether t predates cutoff. Absent times predate every
// cutoff, because an undated edge cannot be shown to be new enough.
func (t EdgeTime) Before(cutoff EdgeTime) bool {
	if !cutoff.set {
		return false
	}
	return !t.set || t.ms < cutoff.ms
}

// String implements fmt.Stringer.
func (t EdgeTime) String() string {
	if !t.set {
		return "<none>"
	}
	return strconv.FormatInt(t.ms, 10)
}
