// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity maps player handles to stable identifiers.
//
// Handles can be abandoned and re-claimed, identifiers cannot, so every
// stored structure is keyed by identifier and handles are resolved once at
// the edge. Resolution prefers local knowledge and spends at most one
// profile request per unknown handle:
//
//  1. the pairs file (uuids.txt, one "handle identifier" per line)
//  2. pairs harvested from earlier report files
//  3. the recent cache in the embedded store, whose entries expire
//  4. one profile lookup by handle
package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/AleutianAI/hypickle/services/crawler/lock"
	storebadger "github.com/AleutianAI/hypickle/services/crawler/storage/badger"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("hypickle.identity")

// ----- Error Sentinel Values -----

var (
	// ErrIdentityMismatch indicates a cached handle now belongs to someone else.
	ErrIdentityMismatch = errors.New("cached handle no longer maps to its identifier")

	// ErrNoClient indicates a network lookup was needed without a client.
	ErrNoClient = errors.New("identity lookup needs an API client")
)

// DefaultRecentTTL is how long a fetched handle stays in the recent cache.
const DefaultRecentTTL = 30 * time.Minute

const recentNamespace = "identity.recent"

// Lookup sources, reported in metrics and logs.
const (
	SourceIdentifier = "identifier"
	SourcePairsFile  = "pairs_file"
	SourceHarvested  = "harvested"
	SourceRecent     = "recent_cache"
	SourceNetwork    = "network"
	SourceOffline    = "offline"
)

// MismatchError reports a handle whose cached identifier has moved on.
type MismatchError struct {
	// Handle is the lower-cased handle that was resolved.
	Handle string

	// CachedID is the identifier the cache held for Handle.
	CachedID string

	// CurrentName is the name the service now reports for CachedID.
	CurrentName string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("handle %q was cached as %s, which is now named %q",
		e.Handle, e.CachedID, e.CurrentName)
}

// Unwrap returns ErrIdentityMismatch.
func (e *MismatchError) Unwrap() error {
	return ErrIdentityMismatch
}

// Options tune a single resolution.
type Options struct {
	// Verify confirms a cached handle with one profile request.
	Verify bool

	// Offline never touches the network. A handle that is not cached is
	// returned lower-cased as a best effort.
	Offline bool

	// Fetched receives every profile the resolution fetched, keyed by the
	// resolved identifier. May be nil.
	Fetched func(id string, doc hypixel.Document)
}

// Config configures a Resolver.
type Config struct {
	// PairsPath is the pairs file. Empty disables it.
	PairsPath string

	// Locks guards appends to the pairs file. Nil appends without a lock,
	// which is only suitable for tests.
	Locks *lock.Manager

	// Store holds the recent cache. Nil disables it.
	Store *storebadger.DB

	// RecentTTL defaults to DefaultRecentTTL.
	RecentTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *telemetry.Metrics
}

// Resolver turns handles into identifiers.
//
// # Thread Safety
//
// Safe for concurrent use.
type Resolver struct {
	client    hypixel.Requester
	pairsPath string
	locks     *lock.Manager
	store     *storebadger.DB
	ttl       time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	mu        sync.Mutex
	pairs     map[string]string
	harvested map[string]string
	writable  bool
	locked    bool
}

type recentEntry struct {
	ID        string    `json:"id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// New loads the pairs file and takes its lock.
//
// # Description
//
// client may be nil for offline use. When another run already holds the
// pairs file lock, the resolver still reads the file but stops appending
// to it for this run.
//
// # Outputs
//
//   - *Resolver: Ready resolver. Call Close to release the lock.
//   - error: Non-nil if the pairs file exists but cannot be read.
func New(client hypixel.Requester, cfg Config) (*Resolver, error) {
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = DefaultRecentTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Resolver{
		client:    client,
		pairsPath: cfg.PairsPath,
		locks:     cfg.Locks,
		store:     cfg.Store,
		ttl:       cfg.RecentTTL,
		logger:    cfg.Logger.With(slog.String("component", "identity")),
		metrics:   cfg.Metrics,
		pairs:     make(map[string]string),
		harvested: make(map[string]string),
	}
	if r.pairsPath == "" {
		return r, nil
	}

	if err := r.loadPairs(); err != nil {
		return nil, err
	}
	r.writable = true

	if r.locks != nil {
		err := r.locks.Acquire(r.pairsPath, "identity pairs")
		switch {
		case errors.Is(err, lock.ErrFileLocked):
			r.logger.Warn("pairs file is locked by another run; new pairs will not be saved",
				slog.String("path", r.pairsPath),
				slog.String("error", err.Error()))
			r.writable = false
		case err != nil:
			return nil, fmt.Errorf("lock pairs file: %w", err)
		default:
			r.locked = true
			r.locks.OnExternalChange(r.pairsPath, func(ev lock.ExternalChangeEvent) {
				r.logger.Warn("pairs file changed by another process; keeping this run's cache",
					slog.String("path", ev.Path),
					slog.String("event", ev.EventType.String()))
			})
		}
	}
	return r, nil
}

// loadPairs reads "handle identifier" lines. Malformed lines are skipped;
// a later line for the same handle wins.
func (r *Resolver) loadPairs() error {
	f, err := os.Open(r.pairsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open pairs file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			if len(fields) != 0 {
				r.logger.Debug("skipping malformed pairs line", slog.Int("line", line))
			}
			continue
		}
		id, err := validation.NormalizeIdentifier(fields[1])
		if err != nil {
			r.logger.Debug("skipping pairs line with bad identifier", slog.Int("line", line))
			continue
		}
		r.pairs[strings.ToLower(fields[0])] = id
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pairs file: %w", err)
	}
	return nil
}

// Close releases the pairs file lock.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.locked {
		return nil
	}
	r.locked = false
	r.writable = false
	return r.locks.Release(r.pairsPath)
}

// Len returns the number of pairs known from the pairs file and this run.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// Resolve returns the identifier for a handle or identifier.
//
// # Description
//
// Identifiers are normalised and returned without any lookup. Handles are
// matched case-insensitively against the caches in order and fetched by
// handle when none has them; a fetched pair is remembered.
//
// # Outputs
//
//   - string: Normalised identifier, or the lower-cased handle in Offline
//     mode after a cache miss.
//   - error: *MismatchError when Verify finds a stale pair, a
//     hypixel.NotFoundError for an unknown handle, or validation errors.
func (r *Resolver) Resolve(ctx context.Context, ref string, opts Options) (string, error) {
	ctx, span := tracer.Start(ctx, "identity.Resolver.Resolve",
		trace.WithAttributes(attribute.String("ref", ref)))
	defer span.End()

	norm, isID, err := validation.NormalizeRef(ref)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	if isID {
		r.record(ctx, span, SourceIdentifier)
		return norm, nil
	}
	handle := norm

	if id, source, ok := r.cached(ctx, handle); ok {
		r.record(ctx, span, source)
		if opts.Verify && !opts.Offline {
			if err := r.verify(ctx, handle, id, opts.Fetched); err != nil {
				telemetry.RecordError(span, err)
				return "", err
			}
		}
		return id, nil
	}

	if opts.Offline {
		r.record(ctx, span, SourceOffline)
		return handle, nil
	}
	if r.client == nil {
		return "", fmt.Errorf("resolve %q: %w", handle, ErrNoClient)
	}

	doc, err := r.client.Request(ctx, hypixel.ResourceProfile, handle)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("resolve %q: %w", handle, err)
	}
	id, err := validation.NormalizeIdentifier(hypixel.NewProfile(doc).ID())
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("resolve %q: profile identifier: %w", handle, err)
	}
	r.record(ctx, span, SourceNetwork)
	if opts.Fetched != nil {
		opts.Fetched(id, doc)
	}

	if err := r.Remember(ctx, handle, id); err != nil {
		r.logger.Warn("could not save identity pair",
			slog.String("handle", handle),
			slog.String("error", err.Error()))
	}
	return id, nil
}

func (r *Resolver) record(ctx context.Context, span trace.Span, source string) {
	span.SetAttributes(attribute.String("source", source))
	r.metrics.RecordIdentityLookup(ctx, source)
	telemetry.SetSpanOK(span)
}

// cached looks handle up in every local source.
func (r *Resolver) cached(ctx context.Context, handle string) (id, source string, ok bool) {
	r.mu.Lock()
	if id, ok := r.pairs[handle]; ok {
		r.mu.Unlock()
		return id, SourcePairsFile, true
	}
	if id, ok := r.harvested[handle]; ok {
		r.mu.Unlock()
		return id, SourceHarvested, true
	}
	r.mu.Unlock()

	if r.store == nil {
		return "", "", false
	}
	var entry recentEntry
	found, err := r.store.GetJSON(ctx, recentNamespace, handle, &entry)
	if err != nil {
		r.logger.Warn("recent cache read failed",
			slog.String("handle", handle),
			slog.String("error", err.Error()))
		return "", "", false
	}
	if !found || entry.ID == "" {
		return "", "", false
	}
	return entry.ID, SourceRecent, true
}

// verify checks that id is still called handle.
func (r *Resolver) verify(ctx context.Context, handle, id string, fetched func(string, hypixel.Document)) error {
	if r.client == nil {
		return fmt.Errorf("verify %q: %w", handle, ErrNoClient)
	}
	doc, err := r.client.Request(ctx, hypixel.ResourceProfile, id)
	if err != nil {
		return fmt.Errorf("verify %q: %w", handle, err)
	}
	name, _ := doc.String("displayname")
	if strings.ToLower(name) != handle {
		return &MismatchError{Handle: handle, CachedID: id, CurrentName: name}
	}
	if fetched != nil {
		fetched(id, doc)
	}
	return nil
}

// Remember records a handle/identifier pair fetched from the service. New
// pairs are appended to the pairs file and written to the recent cache.
func (r *Resolver) Remember(ctx context.Context, handle, id string) error {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if err := validation.ValidateHandle(handle); err != nil {
		return err
	}
	id, err := validation.NormalizeIdentifier(id)
	if err != nil {
		return err
	}

	var errs []error
	if r.store != nil {
		entry := recentEntry{ID: id, FetchedAt: time.Now()}
		if err := r.store.PutJSON(ctx, recentNamespace, handle, entry, r.ttl); err != nil {
			errs = append(errs, fmt.Errorf("recent cache: %w", err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.pairs[handle]; ok && prev == id {
		return errors.Join(errs...)
	}
	r.pairs[handle] = id
	if r.writable {
		if err := r.appendPair(handle, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// appendPair must be called with mu held.
func (r *Resolver) appendPair(handle, id string) error {
	line := []byte(handle + " " + id + "\n")
	if r.locked {
		return r.locks.Append(r.pairsPath, line)
	}
	f, err := os.OpenFile(r.pairsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open pairs file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append pair: %w", err)
	}
	return nil
}

// Learn adds pairs harvested from earlier reports. They answer lookups for
// this run only and are never written back.
func (r *Resolver) Learn(pairs map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for handle, id := range pairs {
		handle = strings.ToLower(handle)
		norm, err := validation.NormalizeIdentifier(id)
		if err != nil || validation.ValidateHandle(handle) != nil {
			continue
		}
		if _, ok := r.harvested[handle]; ok {
			continue
		}
		r.harvested[handle] = norm
		added++
	}
	return added
}
