// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/threat"
)

func newTestCollector(windowSize int) *Collector {
	cfg := config.Default().Analytics
	cfg.WindowSize = windowSize
	return NewCollector(cfg)
}

func decision(action threat.Action, confidence float64, types ...threat.Type) *threat.ValidationResult {
	res := &threat.ValidationResult{
		Action:         action,
		Confidence:     confidence,
		ProcessingTime: 2 * time.Millisecond,
	}
	for _, t := range types {
		res.Threats = append(res.Threats, threat.Threat{Type: t, Confidence: confidence})
	}
	return res
}

func TestSnapshotCountsAndPercentiles(t *testing.T) {
	c := newTestCollector(100)
	sub := &threat.Submission{IP: "203.0.113.1"}

	for i := 0; i < 8; i++ {
		c.Record(sub, decision(threat.ActionAllow, 0.1))
	}
	c.Record(sub, decision(threat.ActionQuarantine, 0.75, threat.TypeSpamContent))
	c.Record(sub, decision(threat.ActionBlock, 0.95, threat.TypeSQLInjection))

	s := c.Snapshot()
	if s.Total != 10 {
		t.Errorf("total %d, want 10", s.Total)
	}
	if s.ByAction[threat.ActionAllow] != 8 || s.ByAction[threat.ActionBlock] != 1 {
		t.Errorf("by action = %v", s.ByAction)
	}
	if s.ByThreatType[threat.TypeSpamContent] != 1 {
		t.Errorf("by type = %v", s.ByThreatType)
	}
	if s.ConfidenceP50 != 0.1 {
		t.Errorf("p50 = %.2f, want 0.10", s.ConfidenceP50)
	}
	if s.ConfidenceP99 != 0.95 {
		t.Errorf("p99 = %.2f, want 0.95", s.ConfidenceP99)
	}
	if s.AvgProcessingMs != 2 {
		t.Errorf("avg processing %.1fms, want 2", s.AvgProcessingMs)
	}
}

func TestRingWrapKeepsTotals(t *testing.T) {
	c := newTestCollector(4)
	sub := &threat.Submission{IP: "203.0.113.1"}

	for i := 0; i < 10; i++ {
		c.Record(sub, decision(threat.ActionAllow, 0.2))
	}
	s := c.Snapshot()
	if s.Total != 10 {
		t.Errorf("cumulative total %d, want 10", s.Total)
	}
	if s.WindowSize != 4 {
		t.Errorf("window size %d, want ring capacity 4", s.WindowSize)
	}
}

func TestTopFlaggedIPs(t *testing.T) {
	c := newTestCollector(100)

	for i := 0; i < 5; i++ {
		c.Record(&threat.Submission{IP: "203.0.113.7"}, decision(threat.ActionBlock, 0.95))
	}
	for i := 0; i < 2; i++ {
		c.Record(&threat.Submission{IP: "203.0.113.8"}, decision(threat.ActionQuarantine, 0.75))
	}
	// Allowed traffic never enters the offender list.
	c.Record(&threat.Submission{IP: "203.0.113.9"}, decision(threat.ActionAllow, 0.1))

	top := c.Snapshot().TopFlaggedIPs
	if len(top) != 2 {
		t.Fatalf("got %d flagged IPs, want 2", len(top))
	}
	if top[0].IP != "203.0.113.7" || top[0].Count != 5 {
		t.Errorf("top offender = %+v", top[0])
	}
	if top[1].IP != "203.0.113.8" {
		t.Errorf("second offender = %+v", top[1])
	}
}

func TestBuildReportFormats(t *testing.T) {
	c := newTestCollector(100)
	c.Record(&threat.Submission{IP: "203.0.113.1"},
		decision(threat.ActionBlock, 0.95, threat.TypeSpamContent))

	body, ct, err := c.BuildReport(FormatJSON)
	if err != nil {
		t.Fatalf("json report: %v", err)
	}
	if ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if r.Stats.Total != 1 {
		t.Errorf("report total %d, want 1", r.Stats.Total)
	}

	body, ct, err = c.BuildReport(FormatMarkdown)
	if err != nil {
		t.Fatalf("markdown report: %v", err)
	}
	if !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type %q", ct)
	}
	if !strings.Contains(string(body), "| block | 1 |") {
		t.Errorf("markdown missing decision row:\n%s", body)
	}

	body, ct, err = c.BuildReport(FormatHTML)
	if err != nil {
		t.Fatalf("html report: %v", err)
	}
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type %q", ct)
	}
	if !strings.Contains(string(body), "<html") {
		t.Error("html report has no html element")
	}

	if _, _, err := c.BuildReport("yaml"); err == nil {
		t.Error("unknown format accepted")
	}
}
