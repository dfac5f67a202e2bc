// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package threat

import (
	"strings"
	"testing"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Level
	}{
		{0.0, LevelNone},
		{0.29, LevelNone},
		{0.3, LevelLow},
		{0.49, LevelLow},
		{0.5, LevelMedium},
		{0.69, LevelMedium},
		{0.7, LevelHigh},
		{0.89, LevelHigh},
		{0.9, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.confidence, 0.9, 0.7); got != tt.want {
			t.Errorf("LevelFor(%v) = %v, want %v", tt.confidence, got, tt.want)
		}
	}

	// The block and quarantine cutoffs follow the configured thresholds.
	if got := LevelFor(0.8, 0.8, 0.6); got != LevelCritical {
		t.Errorf("LevelFor(0.8) with 0.8 block threshold = %v, want critical", got)
	}
	if got := LevelFor(0.65, 0.8, 0.6); got != LevelHigh {
		t.Errorf("LevelFor(0.65) with 0.6 quarantine threshold = %v, want high", got)
	}
}

func TestNewClampsConfidence(t *testing.T) {
	if got := New(TypeSpamContent, "", 1.7, "x", SeverityHigh).Confidence; got != 1 {
		t.Errorf("confidence above 1 not clamped: %v", got)
	}
	if got := New(TypeSpamContent, "", -0.3, "x", SeverityLow).Confidence; got != 0 {
		t.Errorf("confidence below 0 not clamped: %v", got)
	}
}

func TestTruncateEvidence(t *testing.T) {
	long := strings.Repeat("a", 500)
	ev := TruncateEvidence([]string{long, "b", "c", "d", "e", "f"})
	if len(ev) != 4 {
		t.Fatalf("evidence not bounded: got %d items", len(ev))
	}
	if len([]rune(ev[0])) > 130 {
		t.Errorf("evidence snippet not truncated: %d runes", len([]rune(ev[0])))
	}
	if TruncateEvidence(nil) != nil {
		t.Error("empty evidence should stay nil")
	}
}

func TestMaxConfidence(t *testing.T) {
	threats := []Threat{
		{Confidence: 0.3},
		{Confidence: 0.95},
		{Confidence: 0.5},
	}
	if got := MaxConfidence(threats); got != 0.95 {
		t.Errorf("MaxConfidence = %v, want 0.95 (max, never average)", got)
	}
	if got := MaxConfidence(nil); got != 0 {
		t.Errorf("MaxConfidence(nil) = %v, want 0", got)
	}
}

func TestSubmissionFieldValue(t *testing.T) {
	sub := &Submission{Fields: []Field{
		{Name: "name", Value: "Ada"},
		{Name: "message", Value: "hello"},
	}}
	if v, ok := sub.FieldValue("message"); !ok || v != "hello" {
		t.Errorf("FieldValue(message) = %q, %v", v, ok)
	}
	if _, ok := sub.FieldValue("missing"); ok {
		t.Error("FieldValue(missing) should not be found")
	}
	if got := sub.AllText(); got != "Ada hello" {
		t.Errorf("AllText = %q", got)
	}
}
