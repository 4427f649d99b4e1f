// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock guards the crawler's shared local files.
//
// The identity pairs file is appended to during a run and may be shared by
// several checkouts or concurrent invocations. A Manager holds an exclusive
// advisory lock on it for the whole run, performs the appends itself, and
// watches the file with fsnotify so writes from anyone else are reported.
package lock

import (
	"os"
)

// FileLocker abstracts platform-specific file locking.
//
// # Description
//
// Unix uses flock(2) through golang.org/x/sys/unix; Windows uses LockFileEx
// through golang.org/x/sys/windows. Both are non-blocking.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
type FileLocker interface {
	// Lock acquires an exclusive lock, returning ErrFileLocked when another
	// holder has it.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call when not locked.
	Unlock(f *os.File) error
}

// IsProcessAlive reports whether a process with pid is running.
//
// Used to decide whether a lock info file left behind belongs to a live
// holder or to a crashed run.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}

func newFileLocker() FileLocker {
	return newPlatformLocker()
}
