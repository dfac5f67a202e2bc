// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package intel

import (
	"sync"
	"sync/atomic"
	"time"
)

// cacheEntry is one cached reputation report with its expiry.
type cacheEntry struct {
	report    Report
	expiresAt time.Time
}

// reputationCache is a thread-safe TTL cache for reputation reports. Reads
// are lock-free misses past expiry; a background sweep removes dead entries
// so the map does not grow unbounded between lookups.
type reputationCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop chan struct{}
}

func newReputationCache(ttl time.Duration, maxEntries int) *reputationCache {
	c := &reputationCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *reputationCache) get(key string) (Report, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		return Report{}, false
	}
	c.hits.Add(1)
	return entry.report, true
}

func (c *reputationCache) set(key string, r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked()
		// Still full after expiry eviction: drop an arbitrary entry
		// rather than grow past the cap.
		if len(c.entries) >= c.maxEntries {
			for k := range c.entries {
				delete(c.entries, k)
				c.evictions.Add(1)
				break
			}
		}
	}
	c.entries[key] = cacheEntry{report: r, expiresAt: time.Now().Add(c.ttl)}
}

func (c *reputationCache) evictExpiredLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			c.evictions.Add(1)
		}
	}
}

func (c *reputationCache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked()
			c.mu.Unlock()
		}
	}
}

func (c *reputationCache) close() { close(c.stop) }

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

func (c *reputationCache) stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   n,
	}
}
