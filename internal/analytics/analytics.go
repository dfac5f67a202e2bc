// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package analytics aggregates detection outcomes: Prometheus metrics for
// scraping plus an in-memory rolling window backing the stats endpoint and
// the report generator.
package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/threat"
)

// record is one decision kept in the rolling window.
type record struct {
	at         time.Time
	action     threat.Action
	confidence float64
	ip         string
	types      []threat.Type
	duration   time.Duration
}

// Collector keeps the last WindowSize decisions in a ring buffer and
// cumulative counters since start.
type Collector struct {
	cfg config.AnalyticsConfig

	mu      sync.Mutex
	ring    []record
	next    int
	filled  bool
	started time.Time

	totalByAction map[threat.Action]int64
	totalByType   map[threat.Type]int64
	flaggedByIP   map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector(cfg config.AnalyticsConfig) *Collector {
	return &Collector{
		cfg:           cfg,
		ring:          make([]record, cfg.WindowSize),
		started:       time.Now(),
		totalByAction: make(map[threat.Action]int64),
		totalByType:   make(map[threat.Type]int64),
		flaggedByIP:   make(map[string]int64),
	}
}

// Record registers one pipeline decision in both the Prometheus metrics and
// the rolling window.
func (c *Collector) Record(sub *threat.Submission, res *threat.ValidationResult) {
	SubmissionsTotal.WithLabelValues(string(res.Action)).Inc()
	for _, t := range res.Threats {
		ThreatsTotal.WithLabelValues(string(t.Type)).Inc()
	}
	PipelineDuration.Observe(res.ProcessingTime.Seconds())

	types := make([]threat.Type, 0, len(res.Threats))
	for _, t := range res.Threats {
		types = append(types, t.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ring[c.next] = record{
		at:         time.Now(),
		action:     res.Action,
		confidence: res.Confidence,
		ip:         sub.IP,
		types:      types,
		duration:   res.ProcessingTime,
	}
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.filled = true
	}

	c.totalByAction[res.Action]++
	for _, t := range types {
		c.totalByType[t]++
	}
	if res.Action != threat.ActionAllow && sub.IP != "" {
		c.flaggedByIP[sub.IP]++
		// Bounded: keep only the heaviest offenders once the map grows.
		if len(c.flaggedByIP) > 10*c.cfg.WindowSize {
			c.pruneIPsLocked()
		}
	}
}

func (c *Collector) pruneIPsLocked() {
	type kv struct {
		ip string
		n  int64
	}
	all := make([]kv, 0, len(c.flaggedByIP))
	for ip, n := range c.flaggedByIP {
		all = append(all, kv{ip, n})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].n > all[j].n })
	keep := len(all) / 2
	c.flaggedByIP = make(map[string]int64, keep)
	for _, e := range all[:keep] {
		c.flaggedByIP[e.ip] = e.n
	}
}

// IPCount is one entry of the top-offender list.
type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	Uptime          string                  `json:"uptime"`
	Total           int64                   `json:"total"`
	ByAction        map[threat.Action]int64 `json:"by_action"`
	ByThreatType    map[threat.Type]int64   `json:"by_threat_type"`
	WindowSize      int                     `json:"window_size"`
	ConfidenceP50   float64                 `json:"confidence_p50"`
	ConfidenceP90   float64                 `json:"confidence_p90"`
	ConfidenceP99   float64                 `json:"confidence_p99"`
	AvgProcessingMs float64                 `json:"avg_processing_ms"`
	TopFlaggedIPs   []IPCount               `json:"top_flagged_ips"`
}

// Snapshot computes the current stats.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Uptime:       time.Since(c.started).Round(time.Second).String(),
		ByAction:     make(map[threat.Action]int64, len(c.totalByAction)),
		ByThreatType: make(map[threat.Type]int64, len(c.totalByType)),
	}
	for a, n := range c.totalByAction {
		s.ByAction[a] = n
		s.Total += n
	}
	for t, n := range c.totalByType {
		s.ByThreatType[t] = n
	}

	window := c.windowLocked()
	s.WindowSize = len(window)
	if len(window) > 0 {
		confidences := make([]float64, 0, len(window))
		var totalDur time.Duration
		for _, r := range window {
			confidences = append(confidences, r.confidence)
			totalDur += r.duration
		}
		sort.Float64s(confidences)
		s.ConfidenceP50 = percentile(confidences, 0.50)
		s.ConfidenceP90 = percentile(confidences, 0.90)
		s.ConfidenceP99 = percentile(confidences, 0.99)
		s.AvgProcessingMs = float64(totalDur.Milliseconds()) / float64(len(window))
	}

	s.TopFlaggedIPs = c.topIPsLocked(c.cfg.TopIPCount)
	return s
}

func (c *Collector) windowLocked() []record {
	if c.filled {
		return c.ring
	}
	return c.ring[:c.next]
}

func (c *Collector) topIPsLocked(n int) []IPCount {
	out := make([]IPCount, 0, len(c.flaggedByIP))
	for ip, count := range c.flaggedByIP {
		out = append(out, IPCount{IP: ip, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// percentile reads the p-th percentile from an ascending-sorted slice using
// nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
