// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "a:1", []byte("one")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "a:1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one" {
		t.Errorf("got %q, want %q", got, "one")
	}

	if err := s.Delete(ctx, "a:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a:1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "a:1"); err != nil {
		t.Errorf("delete of missing key: %v", err)
	}
}

func TestMemoryStoreScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, k := range []string{"rule:b", "rule:a", "other:x", "rule:c"} {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	var keys []string
	err := s.Scan(ctx, "rule:", func(key string, value []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"rule:a", "rule:b", "rule:c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("scan order: got %v, want %v", keys, want)
			break
		}
	}

	// Returning false stops the scan.
	n := 0
	_ = s.Scan(ctx, "rule:", func(key string, value []byte) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("scan did not stop early: %d calls", n)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	val := []byte("abc")
	if err := s.Set(ctx, "k", val); err != nil {
		t.Fatal(err)
	}
	val[0] = 'z'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %q", got)
	}
}
