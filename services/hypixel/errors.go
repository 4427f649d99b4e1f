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
	"errors"
	"fmt"
)

// ----- Error Sentinel Values -----

var (
	// ErrNotFound indicates the requested player does not exist.
	ErrNotFound = errors.New("player not found")

	// ErrService indicates the stats service rejected or failed a request.
	ErrService = errors.New("stats service error")

	// ErrInvalidKey indicates the service does not recognise an API key.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrNoKeys indicates a key ring was built without any usable key.
	ErrNoKeys = errors.New("no API keys configured")

	// ErrHandleNotAllowed indicates a handle was passed for a resource that
	// only accepts identifiers.
	ErrHandleNotAllowed = errors.New("handles are only accepted for profile lookups")
)

// NotFoundError is returned when a profile lookup yields no player.
type NotFoundError struct {
	// Target is the identifier or handle that was looked up.
	Target string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("player not found: %s", e.Target)
}

// Unwrap returns ErrNotFound for errors.Is compatibility.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ServiceError is returned for any failed response other than a missing
// player: success=false, a non-2xx status, an undecodable body or a
// transport failure.
type ServiceError struct {
	// Resource is the resource that was requested.
	Resource Resource

	// Target is the identifier or handle, empty for resources without one.
	Target string

	// Status is the HTTP status code, or 0 when no response arrived.
	Status int

	// Cause is the service's "cause" field when it sent one.
	Cause string

	// Err is the underlying transport or decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("stats service error for %s", e.Resource)
	if e.Target != "" {
		msg += fmt.Sprintf("(%s)", e.Target)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Cause != "" {
		msg += ": " + e.Cause
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrService and, when present, the underlying error.
func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrService}
	}
	return []error{ErrService, e.Err}
}
