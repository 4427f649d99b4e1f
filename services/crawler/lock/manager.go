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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures a Manager.
type Config struct {
	// LockDir holds the lock info files. Created if missing.
	LockDir string

	// Owner identifies this run in lock info files.
	Owner string

	// DefaultTTL bounds how long a lock info file is honoured after its
	// holder stops refreshing it. Defaults to 24h.
	DefaultTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config rooted at lockDir.
func DefaultConfig(lockDir string) Config {
	return Config{
		LockDir:    lockDir,
		Owner:      "hypickle",
		DefaultTTL: 24 * time.Hour,
	}
}

// Manager holds exclusive locks on files for the life of a run.
//
// # Description
//
// A locked file is kept open for appending. Appends go through Append so
// the manager knows the size it expects; a write event that leaves the
// file at any other size came from somebody else and is reported to the
// registered callbacks. Removes and renames are always reported.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	lockDir string
	owner   string
	ttl     time.Duration
	locker  FileLocker
	logger  *slog.Logger

	mu        sync.Mutex
	locks     map[string]*lockEntry
	callbacks map[string][]func(ExternalChangeEvent)
	closed    bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type lockEntry struct {
	file     *os.File
	lockPath string
	info     *LockInfo
	size     int64
}

// NewManager creates a Manager and starts its watcher.
//
// Lock info files left by crashed runs are removed on creation.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.LockDir == "" {
		return nil, errors.New("lock directory is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory %s: %w", cfg.LockDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	m := &Manager{
		lockDir:   cfg.LockDir,
		owner:     cfg.Owner,
		ttl:       cfg.DefaultTTL,
		locker:    newFileLocker(),
		logger:    cfg.Logger.With(slog.String("component", "lock")),
		locks:     make(map[string]*lockEntry),
		callbacks: make(map[string][]func(ExternalChangeEvent)),
		watcher:   watcher,
		done:      make(chan struct{}),
	}
	go m.watchLoop()

	if n, err := m.CleanupStaleLocks(); err != nil {
		m.logger.Warn("stale lock cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.logger.Info("removed stale locks", slog.Int("count", n))
	}
	return m, nil
}

// Acquire locks path for appending, creating the file if it does not
// exist. Acquiring a path this manager already holds only updates the
// reason.
//
// # Outputs
//
//   - error: *FileLockError wrapping ErrFileLocked when another run holds
//     the file, ErrManagerClosed after Close, or an I/O error.
func (m *Manager) Acquire(path, reason string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if entry, ok := m.locks[absPath]; ok {
		entry.info.Reason = reason
		return nil
	}

	lockPath := m.lockPath(absPath)
	if existing, err := readLockInfo(lockPath); err == nil && existing.IsStale() {
		m.logger.Info("removing stale lock",
			slog.String("path", absPath),
			slog.Int("old_pid", existing.PID))
		_ = os.Remove(lockPath)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", absPath, err)
	}
	f, err := os.OpenFile(absPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for locking: %w", absPath, err)
	}

	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrFileLocked) {
			holder, _ := readLockInfo(lockPath)
			return &FileLockError{Path: absPath, Holder: holder, Err: ErrFileLocked}
		}
		return fmt.Errorf("lock %s: %w", absPath, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("stat %s: %w", absPath, err)
	}

	now := time.Now()
	info := &LockInfo{
		FilePath:  absPath,
		PID:       os.Getpid(),
		Owner:     m.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		Reason:    reason,
	}
	if err := writeLockInfo(lockPath, info); err != nil {
		_ = m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("write lock info: %w", err)
	}

	if err := m.watcher.Add(absPath); err != nil {
		m.logger.Warn("cannot watch locked file",
			slog.String("path", absPath),
			slog.String("error", err.Error()))
	}

	m.locks[absPath] = &lockEntry{file: f, lockPath: lockPath, info: info, size: stat.Size()}
	m.logger.Debug("acquired lock",
		slog.String("path", absPath),
		slog.String("reason", reason),
		slog.String("expires_at", info.ExpiresAt.Format(time.RFC3339)))
	return nil
}

// Append writes data to the end of a file held by this manager.
func (m *Manager) Append(path string, data []byte) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absPath]
	if !ok {
		return fmt.Errorf("append %s: %w", absPath, ErrLockNotHeld)
	}
	n, err := entry.file.Write(data)
	entry.size += int64(n)
	if err != nil {
		return fmt.Errorf("append %s: %w", absPath, err)
	}
	return nil
}

// Release unlocks path and removes its lock info file.
func (m *Manager) Release(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absPath]
	if !ok {
		return ErrLockNotHeld
	}
	return m.releaseLocked(absPath, entry)
}

// releaseLocked must be called with mu held.
func (m *Manager) releaseLocked(absPath string, entry *lockEntry) error {
	_ = m.watcher.Remove(absPath)
	delete(m.callbacks, absPath)
	delete(m.locks, absPath)

	var errs []error
	if err := m.locker.Unlock(entry.file); err != nil {
		errs = append(errs, fmt.Errorf("unlock %s: %w", absPath, err))
	}
	if err := entry.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", absPath, err))
	}
	if err := os.Remove(entry.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove lock info: %w", err))
	}

	m.logger.Debug("released lock", slog.String("path", absPath))
	return errors.Join(errs...)
}

// IsLocked reports whether path is locked by this manager or by a live
// holder elsewhere.
func (m *Manager) IsLocked(path string) (bool, *LockInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	m.mu.Lock()
	if entry, ok := m.locks[absPath]; ok {
		m.mu.Unlock()
		return true, entry.info, nil
	}
	m.mu.Unlock()

	info, err := readLockInfo(m.lockPath(absPath))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if info.IsStale() {
		return false, nil, nil
	}
	return true, info, nil
}

// CleanupStaleLocks removes lock info files whose holders are gone or
// expired, returning how many were removed.
func (m *Manager) CleanupStaleLocks() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		lockPath := filepath.Join(m.lockDir, entry.Name())
		info, err := readLockInfo(lockPath)
		if err != nil {
			m.logger.Warn("unreadable lock info",
				slog.String("path", lockPath),
				slog.String("error", err.Error()))
			continue
		}
		if !info.IsStale() {
			continue
		}
		if err := os.Remove(lockPath); err != nil {
			m.logger.Warn("cannot remove stale lock",
				slog.String("path", lockPath),
				slog.String("error", err.Error()))
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// OnExternalChange registers cb for changes to a locked path that did not
// come from Append. Callbacks are dropped when the lock is released.
func (m *Manager) OnExternalChange(path string, cb func(ExternalChangeEvent)) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[absPath] = append(m.callbacks[absPath], cb)
}

// Close releases every lock and stops the watcher. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var errs []error
	for path, entry := range m.locks {
		if err := m.releaseLocked(path, entry); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Unlock()

	if err := m.watcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close watcher: %w", err))
	}
	<-m.done
	return errors.Join(errs...)
}

// lockPath names the info file for absPath: SHA256[:16] of the path.
func (m *Manager) lockPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.lockDir, hex.EncodeToString(sum[:])[:16]+".lock")
}

func writeLockInfo(lockPath string, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(lockPath, data, 0o644)
}

func readLockInfo(lockPath string) (*LockInfo, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode %s: %w", lockPath, err)
	}
	return &info, nil
}

func (m *Manager) watchLoop() {
	defer close(m.done)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) handleEvent(event fsnotify.Event) {
	var change ChangeType
	switch {
	case event.Has(fsnotify.Write):
		change = ChangeWrite
	case event.Has(fsnotify.Remove):
		change = ChangeDelete
	case event.Has(fsnotify.Rename):
		change = ChangeRename
	default:
		return
	}

	absPath, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	m.mu.Lock()
	entry, held := m.locks[absPath]
	if !held {
		m.mu.Unlock()
		return
	}
	if change == ChangeWrite {
		if stat, err := os.Stat(absPath); err == nil {
			if stat.Size() == entry.size {
				m.mu.Unlock()
				return
			}
			entry.size = stat.Size()
		}
	}
	callbacks := append([]func(ExternalChangeEvent){}, m.callbacks[absPath]...)
	m.mu.Unlock()

	m.logger.Warn("external modification of locked file",
		slog.String("path", absPath),
		slog.String("event", change.String()))

	ev := ExternalChangeEvent{Path: absPath, EventType: change}
	for _, cb := range callbacks {
		cb(ev)
	}
}
