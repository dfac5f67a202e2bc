// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package store provides the persistence seam used by quarantine, the
// classifier snapshots, rules and list storage. Keys are flat strings with
// colon-separated prefixes ("quarantine:", "model:", "rule:").
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Blobs is a minimal prefix-scannable key-value store. Implementations must
// be safe for concurrent use.
type Blobs interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for each key with the given prefix. Returning false
	// from fn stops the scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error

	// Close releases underlying resources.
	Close() error
}

// Open returns a Badger-backed store when path is non-empty, otherwise an
// in-memory store.
func Open(path string, gcInterval time.Duration) (Blobs, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return OpenBadger(path, gcInterval)
}
