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
	"errors"
	"fmt"
)

// Sentinel errors for the player graph.
var (
	// ErrInvariant marks a broken data or programming contract. It is never
	// recovered from.
	ErrInvariant = errors.New("invariant violation")

	// ErrNoLoader is returned when unloaded edges are read without a loader.
	ErrNoLoader = errors.New("edges not loaded and no loader supplied")
)

// InvariantError describes which contract was broken and where.
type InvariantError struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// Unwrap returns the sentinel error.
func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

// Invariantf builds an InvariantError for op.
func Invariantf(op, format string, args ...any) error {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
