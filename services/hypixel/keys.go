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
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
)

// KeyRing holds API keys sealed in memguard enclaves.
//
// # Description
//
// Keys stay encrypted at rest and are decrypted only for the duration of a
// single request. Each request uses a key chosen uniformly at random, so
// several keys spread the load across their separate request budgets.
//
// # Thread Safety
//
// Safe for concurrent use. Enclaves are immutable once created.
type KeyRing struct {
	enclaves []*memguard.Enclave
	pick     func(n int) int
}

// NewKeyRing seals keys into a ring. Blank entries and duplicates are
// skipped; ErrNoKeys is returned when nothing is left.
func NewKeyRing(keys ...string) (*KeyRing, error) {
	seen := make(map[string]struct{}, len(keys))
	ring := &KeyRing{pick: rand.IntN}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		ring.enclaves = append(ring.enclaves, memguard.NewEnclave([]byte(k)))
	}
	if len(ring.enclaves) == 0 {
		return nil, ErrNoKeys
	}
	return ring, nil
}

// Len returns the number of keys in the ring.
func (r *KeyRing) Len() int {
	return len(r.enclaves)
}

// use opens a random key and passes it to fn. The locked buffer is
// destroyed before use returns.
func (r *KeyRing) use(fn func(key string) error) error {
	enclave := r.enclaves[r.pick(len(r.enclaves))]
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	key := string(buf.Bytes())
	buf.Destroy()
	return fn(key)
}

// ReadKeyFile reads one API key per line from path. Blank lines and lines
// starting with '#' are ignored. A missing file yields no keys and no error.
func ReadKeyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return keys, nil
}

// WriteKeyFile replaces the key file at path with a single key, readable
// only by the owner.
func WriteKeyFile(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoKeys
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}
