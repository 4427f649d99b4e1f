// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"errors"
	"fmt"
	"time"
)

// ----- Error Sentinel Values -----

var (
	// ErrFileLocked indicates another holder has the file locked.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockNotHeld indicates an operation on a file this manager has not locked.
	ErrLockNotHeld = errors.New("lock not held")

	// ErrManagerClosed indicates use of a closed Manager.
	ErrManagerClosed = errors.New("lock manager closed")
)

// LockInfo is the metadata written next to a held lock.
type LockInfo struct {
	FilePath  string    `json:"file_path"`
	PID       int       `json:"pid"`
	Owner     string    `json:"owner"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

// IsExpired reports whether the lock outlived its TTL.
func (i *LockInfo) IsExpired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}

// IsStale reports whether the lock can be taken over: expired, or held by
// a process that no longer exists.
func (i *LockInfo) IsStale() bool {
	return i.IsExpired() || !IsProcessAlive(i.PID)
}

// FileLockError describes a lock conflict.
type FileLockError struct {
	Path   string
	Holder *LockInfo
	Err    error
}

// Error implements the error interface.
func (e *FileLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s: %v (pid %d since %s)",
			e.Path, e.Err, e.Holder.PID, e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *FileLockError) Unwrap() error {
	return e.Err
}

// ChangeType classifies an external change to a locked file.
type ChangeType int

const (
	ChangeWrite ChangeType = iota
	ChangeDelete
	ChangeRename
)

// String returns the change name.
func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ExternalChangeEvent reports a change to a locked file that did not come
// from this manager.
type ExternalChangeEvent struct {
	Path      string
	EventType ChangeType
}
