// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/hypickle/services/crawler/lock"
	storebadger "github.com/AleutianAI/hypickle/services/crawler/storage/badger"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	notchID = "069a79f444e94726a5befca90e38aaf5"
	jebID   = "853c80ef3c3749fdaa49938b674adae6"
)

// fakeClient serves profiles by handle (lower-cased) or identifier.
type fakeClient struct {
	byName map[string]hypixel.Document
	byID   map[string]hypixel.Document
	calls  []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		byName: map[string]hypixel.Document{},
		byID:   map[string]hypixel.Document{},
	}
}

func (f *fakeClient) add(name, id string) {
	doc := hypixel.Document{"uuid": id, "displayname": name}
	f.byName[name] = doc
	f.byID[id] = doc
}

func (f *fakeClient) Request(_ context.Context, kind hypixel.Resource, target string) (hypixel.Document, error) {
	f.calls = append(f.calls, string(kind)+":"+target)
	if doc, ok := f.byID[target]; ok {
		return doc, nil
	}
	for name, doc := range f.byName {
		if strings.EqualFold(name, target) {
			return doc, nil
		}
	}
	return nil, &hypixel.NotFoundError{Target: target}
}

func writePairs(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "uuids.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolve_IdentifierNeverCallsNetwork(t *testing.T) {
	client := newFakeClient()
	r, err := New(client, Config{})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "069A79F4-44E9-4726-A5BE-FCA90E38AAF5", Options{})
	require.NoError(t, err)
	assert.Equal(t, notchID, got)
	assert.Empty(t, client.calls)
}

func TestResolve_PairsFileHit(t *testing.T) {
	dir := t.TempDir()
	path := writePairs(t, dir, "notch "+notchID+"\nbroken line here\n\njeb_ "+jebID+"\n")
	client := newFakeClient()

	r, err := New(client, Config{PairsPath: path})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	got, err := r.Resolve(context.Background(), "Notch", Options{})
	require.NoError(t, err)
	assert.Equal(t, notchID, got)
	assert.Empty(t, client.calls)
}

func TestResolve_NetworkLookupIsRemembered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uuids.txt")
	client := newFakeClient()
	client.add("Notch", notchID)

	r, err := New(client, Config{PairsPath: path})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "notch", Options{})
	require.NoError(t, err)
	assert.Equal(t, notchID, got)
	assert.Len(t, client.calls, 1)

	_, err = r.Resolve(context.Background(), "NOTCH", Options{})
	require.NoError(t, err)
	assert.Len(t, client.calls, 1, "second resolution must come from the cache")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "notch "+notchID+"\n", string(data))
}

func TestResolve_FetchedProfilesAreHandedBack(t *testing.T) {
	tests := []struct {
		name  string
		pairs string
		opts  Options
	}{
		{"network lookup", "", Options{}},
		{"verified pair", "notch " + notchID + "\n", Options{Verify: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.add("Notch", notchID)
			cfg := Config{}
			if tt.pairs != "" {
				cfg.PairsPath = writePairs(t, t.TempDir(), tt.pairs)
			}
			r, err := New(client, cfg)
			require.NoError(t, err)

			got := map[string]hypixel.Document{}
			tt.opts.Fetched = func(id string, doc hypixel.Document) { got[id] = doc }
			_, err = r.Resolve(context.Background(), "notch", tt.opts)
			require.NoError(t, err)

			require.Contains(t, got, notchID)
			assert.Equal(t, "Notch", got[notchID]["displayname"])
		})
	}

	t.Run("cache hit fetches nothing", func(t *testing.T) {
		client := newFakeClient()
		r, err := New(client, Config{PairsPath: writePairs(t, t.TempDir(), "notch "+notchID+"\n")})
		require.NoError(t, err)

		called := false
		_, err = r.Resolve(context.Background(), "notch", Options{
			Fetched: func(string, hypixel.Document) { called = true },
		})
		require.NoError(t, err)
		assert.False(t, called)
	})
}

func TestResolve_VerifyMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writePairs(t, dir, "notch "+notchID+"\n")
	client := newFakeClient()
	client.add("SomeoneElse", notchID)

	r, err := New(client, Config{PairsPath: path})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "notch", Options{Verify: true})
	require.ErrorIs(t, err, ErrIdentityMismatch)

	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, notchID, mm.CachedID)
	assert.Equal(t, "SomeoneElse", mm.CurrentName)
}

func TestResolve_VerifyMatch(t *testing.T) {
	dir := t.TempDir()
	path := writePairs(t, dir, "notch "+notchID+"\n")
	client := newFakeClient()
	client.add("Notch", notchID)

	r, err := New(client, Config{PairsPath: path})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "notch", Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, notchID, got)
	assert.Equal(t, []string{"player:" + notchID}, client.calls)
}

func TestResolve_Offline(t *testing.T) {
	client := newFakeClient()
	r, err := New(client, Config{})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "Unknown_Guy", Options{Offline: true, Verify: true})
	require.NoError(t, err)
	assert.Equal(t, "unknown_guy", got)
	assert.Empty(t, client.calls)
}

func TestResolve_NotFound(t *testing.T) {
	r, err := New(newFakeClient(), Config{})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "ghost", Options{})
	assert.ErrorIs(t, err, hypixel.ErrNotFound)
}

func TestResolve_NoClient(t *testing.T) {
	r, err := New(nil, Config{})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "ghost", Options{})
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestResolve_RecentCache(t *testing.T) {
	store, err := storebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := newFakeClient()
	client.add("Jeb_", jebID)

	first, err := New(client, Config{Store: store})
	require.NoError(t, err)
	_, err = first.Resolve(context.Background(), "jeb_", Options{})
	require.NoError(t, err)

	// A fresh resolver without a pairs file still finds the recent pair.
	second, err := New(client, Config{Store: store})
	require.NoError(t, err)
	got, err := second.Resolve(context.Background(), "jeb_", Options{})
	require.NoError(t, err)
	assert.Equal(t, jebID, got)
	assert.Len(t, client.calls, 1)
}

func TestResolve_Harvested(t *testing.T) {
	client := newFakeClient()
	r, err := New(client, Config{})
	require.NoError(t, err)

	added := r.Learn(map[string]string{"Notch": notchID, "bad name!": jebID, "jeb_": "nope"})
	assert.Equal(t, 1, added)

	got, err := r.Resolve(context.Background(), "notch", Options{})
	require.NoError(t, err)
	assert.Equal(t, notchID, got)
	assert.Empty(t, client.calls)
}

func TestResolve_LockedPairsFileIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	path := writePairs(t, dir, "")

	holder, err := lock.NewManager(lock.DefaultConfig(filepath.Join(dir, "locks-a")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })
	require.NoError(t, holder.Acquire(path, "other run"))

	mine, err := lock.NewManager(lock.DefaultConfig(filepath.Join(dir, "locks-b")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mine.Close() })

	client := newFakeClient()
	client.add("Notch", notchID)
	r, err := New(client, Config{PairsPath: path, Locks: mine})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "notch", Options{})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(data))
}

func TestResolve_AppendsUnderLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uuids.txt")
	locks, err := lock.NewManager(lock.DefaultConfig(filepath.Join(dir, "locks")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = locks.Close() })

	client := newFakeClient()
	client.add("Notch", notchID)
	r, err := New(client, Config{PairsPath: path, Locks: locks})
	require.NoError(t, err)

	locked, _, err := locks.IsLocked(path)
	require.NoError(t, err)
	assert.True(t, locked)

	_, err = r.Resolve(context.Background(), "notch", Options{})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "notch "+notchID+"\n", string(data))
}
