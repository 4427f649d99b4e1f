// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for player identities and
// user-supplied values.
//
// Player references arrive either as a stable identifier (a UUID, 32 or 36
// characters) or as a reassignable handle (at most 16 characters). The two
// forms are told apart purely by length and must never be confused: a handle
// can be released and claimed by a different player, an identifier cannot.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ----- Error Sentinel Values -----

var (
	// ErrEmptyInput indicates an empty player reference.
	ErrEmptyInput = errors.New("player reference cannot be empty")

	// ErrInvalidLength indicates a reference that is neither a handle nor an identifier.
	ErrInvalidLength = errors.New("invalid player reference length")

	// ErrInvalidIdentifier indicates a 32/36 character value that is not a UUID.
	ErrInvalidIdentifier = errors.New("invalid player identifier")

	// ErrInvalidHandle indicates a handle with characters the game does not allow.
	ErrInvalidHandle = errors.New("invalid player handle")

	// ErrUnsafeName indicates a display name that cannot be used in file names.
	ErrUnsafeName = errors.New("display name contains unsafe characters")

	// ErrInvalidDate indicates a date that is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")
)

const (
	// MaxHandleLength is the longest handle the game allows.
	MaxHandleLength = 16

	// CompactIdentifierLength is the length of an undashed UUID.
	CompactIdentifierLength = 32

	// DashedIdentifierLength is the length of a dashed UUID.
	DashedIdentifierLength = 36

	// DateLayout is the layout of every date accepted on the command line
	// and written to reports.
	DateLayout = "2006-01-02"
)

// handlePattern matches the characters the game permits in handles.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// IsIdentifier reports whether ref is an identifier rather than a handle.
//
// # Description
//
// Classification is by length only: 32 or 36 characters is an identifier,
// 1-16 characters is a handle. Anything else is an error rather than a guess.
//
// # Inputs
//
//   - ref: A handle or identifier.
//
// # Outputs
//
//   - bool: True for identifiers.
//   - error: ErrEmptyInput or ErrInvalidLength for unclassifiable input.
//
// # Example
//
//	isID, err := validation.IsIdentifier("Technoblade")
//	// isID == false, err == nil
func IsIdentifier(ref string) (bool, error) {
	switch n := len(ref); {
	case n == 0:
		return false, ErrEmptyInput
	case n == CompactIdentifierLength || n == DashedIdentifierLength:
		return true, nil
	case n <= MaxHandleLength:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q has %d characters", ErrInvalidLength, ref, n)
	}
}

// NormalizeIdentifier returns the canonical lower-case, undashed form of id.
//
// Identifiers are used as map keys across the crawl, so both accepted
// spellings must collapse to one.
func NormalizeIdentifier(id string) (string, error) {
	if n := len(id); n != CompactIdentifierLength && n != DashedIdentifierLength {
		return "", fmt.Errorf("%w: %q has %d characters", ErrInvalidLength, id, n)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidIdentifier, id, err)
	}
	return strings.ReplaceAll(parsed.String(), "-", ""), nil
}

// ValidateHandle checks that handle is a syntactically valid player handle.
func ValidateHandle(handle string) error {
	if handle == "" {
		return ErrEmptyInput
	}
	if !handlePattern.MatchString(handle) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return nil
}

// NormalizeRef lower-cases handles and canonicalises identifiers.
//
// # Description
//
// Returns the normalised reference together with its classification so
// callers do not classify twice.
//
// # Outputs
//
//   - string: Normalised reference.
//   - bool: True when the reference is an identifier.
//   - error: Non-nil when the reference is malformed.
func NormalizeRef(ref string) (string, bool, error) {
	ref = strings.TrimSpace(ref)
	isID, err := IsIdentifier(ref)
	if err != nil {
		return "", false, err
	}
	if isID {
		id, err := NormalizeIdentifier(ref)
		return id, true, err
	}
	if err := ValidateHandle(ref); err != nil {
		return "", false, err
	}
	return strings.ToLower(ref), false, nil
}

// SanitizeDisplayName verifies that name only uses characters that are safe
// to embed in a results file name.
//
// The name is returned unchanged; a name with any other character is rejected
// instead of silently rewritten so two players can never map to one file.
func SanitizeDisplayName(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyInput
	}
	if !handlePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return name, nil
}

// ParseDate parses a YYYY-MM-DD date in local time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, s)
	}
	return t, nil
}

// IsDateString reports whether s parses with ParseDate.
func IsDateString(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}
