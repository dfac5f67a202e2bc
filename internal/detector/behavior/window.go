// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package behavior

import (
	"sync"
	"time"

	"github.com/formwarden/formwarden/internal/clock"
)

// windowCounter is a bucketed sliding window counter. Time is divided into
// buckets that are summed for the count; Increment is O(1) and Count is
// O(buckets).
type windowCounter struct {
	buckets    []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

func newWindowCounter(windowSize time.Duration, numBuckets int, now time.Time) *windowCounter {
	return &windowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		numBuckets: numBuckets,
		lastUpdate: now,
	}
}

// advance rotates expired buckets out. Caller holds the owning lock.
func (w *windowCounter) advance(now time.Time) {
	elapsed := int(now.Sub(w.lastUpdate) / w.bucketSize)
	if elapsed <= 0 {
		return
	}
	if elapsed >= w.numBuckets {
		for i := range w.buckets {
			w.buckets[i] = 0
		}
		w.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			w.current = (w.current + 1) % w.numBuckets
			w.buckets[w.current] = 0
		}
	}
	w.lastUpdate = now
}

func (w *windowCounter) increment(now time.Time) {
	w.advance(now)
	w.buckets[w.current]++
}

func (w *windowCounter) count(now time.Time) int64 {
	w.advance(now)
	var total int64
	for _, c := range w.buckets {
		total += c
	}
	return total
}

// ipHistory tracks one source IP's recent submission activity.
type ipHistory struct {
	minute   *windowCounter
	hour     *windowCounter
	day      *windowCounter
	lastSeen time.Time
}

// HistoryStore tracks per-IP submission counts over minute, hour and day
// windows, with capacity-bounded eviction and retention-based cleanup.
type HistoryStore struct {
	mu        sync.Mutex
	byIP      map[string]*ipHistory
	maxIPs    int
	retention time.Duration
	clk       clock.Clock

	// fingerprint hash -> distinct source IPs seen in the hour window
	byPrint map[string]map[string]time.Time
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore(maxIPs int, retention time.Duration, clk clock.Clock) *HistoryStore {
	return &HistoryStore{
		byIP:      make(map[string]*ipHistory),
		byPrint:   make(map[string]map[string]time.Time),
		maxIPs:    maxIPs,
		retention: retention,
		clk:       clk,
	}
}

// Record registers one submission and returns the updated minute, hour and
// day counts for the IP, including this submission.
func (h *HistoryStore) Record(ip string) (minuteCount, hourCount, dayCount int64) {
	now := h.clk.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	hist, ok := h.byIP[ip]
	if !ok {
		if len(h.byIP) >= h.maxIPs {
			h.evictOldestLocked()
		}
		hist = &ipHistory{
			minute: newWindowCounter(time.Minute, 12, now),
			hour:   newWindowCounter(time.Hour, 60, now),
			day:    newWindowCounter(24*time.Hour, 24, now),
		}
		h.byIP[ip] = hist
	}
	hist.lastSeen = now
	hist.minute.increment(now)
	hist.hour.increment(now)
	hist.day.increment(now)
	return hist.minute.count(now), hist.hour.count(now), hist.day.count(now)
}

// RecordFingerprint notes a device fingerprint seen from an IP and returns
// how many distinct IPs used that fingerprint within the hour.
func (h *HistoryStore) RecordFingerprint(print, ip string) int {
	if print == "" {
		return 0
	}
	now := h.clk.Now()
	cutoff := now.Add(-time.Hour)

	h.mu.Lock()
	defer h.mu.Unlock()

	ips, ok := h.byPrint[print]
	if !ok {
		ips = make(map[string]time.Time)
		h.byPrint[print] = ips
	}
	ips[ip] = now
	n := 0
	for addr, seen := range ips {
		if seen.Before(cutoff) {
			delete(ips, addr)
			continue
		}
		n++
	}
	return n
}

// evictOldestLocked drops the least recently seen IP.
func (h *HistoryStore) evictOldestLocked() {
	var oldestIP string
	var oldest time.Time
	for ip, hist := range h.byIP {
		if oldestIP == "" || hist.lastSeen.Before(oldest) {
			oldestIP = ip
			oldest = hist.lastSeen
		}
	}
	if oldestIP != "" {
		delete(h.byIP, oldestIP)
	}
}

// Cleanup removes IPs and fingerprints idle past the retention period and
// returns how many were removed.
func (h *HistoryStore) Cleanup() int {
	cutoff := h.clk.Now().Add(-h.retention)
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for ip, hist := range h.byIP {
		if hist.lastSeen.Before(cutoff) {
			delete(h.byIP, ip)
			removed++
		}
	}
	for print, ips := range h.byPrint {
		for addr, seen := range ips {
			if seen.Before(cutoff) {
				delete(ips, addr)
			}
		}
		if len(ips) == 0 {
			delete(h.byPrint, print)
			removed++
		}
	}
	return removed
}

// TrackedIPs returns how many IPs are currently tracked.
func (h *HistoryStore) TrackedIPs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byIP)
}
