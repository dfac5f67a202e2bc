// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/formwarden/formwarden/internal/clock"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/threat"
)

func newTestAnalyzer(clk clock.Clock) *Analyzer {
	cfg := config.Default().Behavior
	history := NewHistoryStore(1000, 2*time.Hour, clk)
	return New(cfg, history, nil)
}

func analyze(t *testing.T, a *Analyzer, sub *threat.Submission) *threat.Analysis {
	t.Helper()
	res, err := a.Analyze(context.Background(), sub)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return res
}

func hasType(a *threat.Analysis, typ threat.Type) bool {
	for _, th := range a.Threats {
		if th.Type == typ {
			return true
		}
	}
	return false
}

func humanSub(ip string) *threat.Submission {
	return &threat.Submission{
		IP:        ip,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		Fields: []threat.Field{
			{Name: "name", Value: "Dana Reyes"},
			{Name: "message", Value: "Hello, I have a question about your opening hours."},
		},
	}
}

func TestHoneypotTriggered(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	sub := humanSub("203.0.113.1")
	sub.Fields = append(sub.Fields, threat.Field{Name: "website", Value: "http://spam.example"})

	res := analyze(t, a, sub)
	if !hasType(res, threat.TypeHoneypotTriggered) {
		t.Fatal("filled honeypot field not flagged")
	}
	if res.Confidence < 0.95 {
		t.Errorf("honeypot confidence %.2f, want >= 0.95", res.Confidence)
	}
}

func TestHoneypotEmptyIsClean(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	sub := humanSub("203.0.113.1")
	sub.Fields = append(sub.Fields, threat.Field{Name: "website", Value: "  "})

	if res := analyze(t, a, sub); hasType(res, threat.TypeHoneypotTriggered) {
		t.Error("whitespace-only honeypot value flagged")
	}
}

func TestRapidSubmission(t *testing.T) {
	fake := clock.NewFake(time.Now())
	a := newTestAnalyzer(fake)

	var res *threat.Analysis
	for i := 0; i < 5; i++ {
		res = analyze(t, a, humanSub("203.0.113.9"))
		fake.Advance(2 * time.Second)
	}
	if !hasType(res, threat.TypeRapidSubmission) {
		t.Fatal("5 submissions in 10s not flagged as rapid")
	}

	// Confidence must not drop as the count keeps climbing.
	prev := res.Confidence
	for i := 0; i < 3; i++ {
		res = analyze(t, a, humanSub("203.0.113.9"))
		fake.Advance(time.Second)
		if c := res.Confidence; c < prev {
			t.Fatalf("confidence dropped from %.2f to %.2f on later submission", prev, c)
		}
	}
}

func TestRateWindowExpires(t *testing.T) {
	fake := clock.NewFake(time.Now())
	a := newTestAnalyzer(fake)

	for i := 0; i < 4; i++ {
		analyze(t, a, humanSub("203.0.113.10"))
	}
	fake.Advance(90 * time.Second)

	if res := analyze(t, a, humanSub("203.0.113.10")); hasType(res, threat.TypeRapidSubmission) {
		t.Error("submission flagged after minute window expired")
	}
}

func TestHourlyRateLimit(t *testing.T) {
	fake := clock.NewFake(time.Now())
	a := newTestAnalyzer(fake)

	var res *threat.Analysis
	for i := 0; i < 12; i++ {
		res = analyze(t, a, humanSub("203.0.113.11"))
		fake.Advance(4 * time.Minute)
	}
	if !hasType(res, threat.TypeRateLimitExceeded) {
		t.Error("12 submissions inside an hour not flagged")
	}
	if hasType(res, threat.TypeRapidSubmission) {
		t.Error("spaced submissions flagged as rapid burst")
	}
}

func TestTimingAnomaly(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	fill := int64(300)
	sub := humanSub("203.0.113.2")
	sub.Metadata.SubmissionTimeMs = &fill

	if res := analyze(t, a, sub); !hasType(res, threat.TypeTimingAnomaly) {
		t.Error("300ms fill with real content not flagged")
	}

	slow := int64(45000)
	sub = humanSub("203.0.113.3")
	sub.Metadata.SubmissionTimeMs = &slow
	if res := analyze(t, a, sub); hasType(res, threat.TypeTimingAnomaly) {
		t.Error("45s fill flagged as timing anomaly")
	}
}

func TestZeroInteractionBot(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	zero := 0
	sub := humanSub("203.0.113.4")
	sub.Metadata.MouseMovements = &zero
	sub.Metadata.Keystrokes = &zero

	if res := analyze(t, a, sub); !hasType(res, threat.TypeBotBehavior) {
		t.Error("content with zero mouse and keyboard activity not flagged")
	}
}

func TestZeroMouseMovementBot(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	fill := int64(500)
	zero := 0
	sub := humanSub("203.0.113.40")
	sub.Metadata.SubmissionTimeMs = &fill
	sub.Metadata.MouseMovements = &zero

	res := analyze(t, a, sub)
	if !hasType(res, threat.TypeBotBehavior) {
		t.Fatal("content with zero mouse movement not flagged")
	}
	found := false
	for _, th := range res.Threats {
		if th.Type == threat.TypeBotBehavior && th.Confidence >= 0.8 {
			found = true
		}
	}
	if !found {
		t.Errorf("zero mouse movement confidence below 0.8: %+v", res.Threats)
	}
}

func TestLowInteractionCounters(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	moves := 1
	sub := humanSub("203.0.113.41")
	sub.Metadata.MouseMovements = &moves
	if res := analyze(t, a, sub); !hasType(res, threat.TypeBotBehavior) {
		t.Error("1 mouse movement for a full message not flagged")
	}

	moves = 25
	sub = humanSub("203.0.113.42")
	sub.Metadata.MouseMovements = &moves
	if res := analyze(t, a, sub); hasType(res, threat.TypeBotBehavior) {
		t.Error("normal mouse activity flagged")
	}
}

func TestDailyRateLimit(t *testing.T) {
	fake := clock.NewFake(time.Now())
	a := newTestAnalyzer(fake)
	a.cfg.MaxPerDay = 12

	var res *threat.Analysis
	for i := 0; i < 14; i++ {
		res = analyze(t, a, humanSub("203.0.113.43"))
		fake.Advance(90 * time.Minute)
	}
	if !hasType(res, threat.TypeRateLimitExceeded) {
		t.Error("14 submissions inside a day not flagged")
	}
	if hasType(res, threat.TypeRapidSubmission) {
		t.Error("widely spaced submissions flagged as rapid burst")
	}
}

func TestAbsentTelemetryNotPenalized(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	res := analyze(t, a, humanSub("203.0.113.5"))
	if hasType(res, threat.TypeBotBehavior) || hasType(res, threat.TypeTimingAnomaly) {
		t.Error("submission without telemetry penalized")
	}
}

func TestFocusOrderMismatch(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	sub := humanSub("203.0.113.6")
	sub.Metadata.FocusOrder = []string{"message", "name"}

	if res := analyze(t, a, sub); !hasType(res, threat.TypeBotBehavior) {
		t.Error("reversed focus order not flagged")
	}

	sub = humanSub("203.0.113.7")
	sub.Metadata.FocusOrder = []string{"name", "captcha_token", "message"}
	if res := analyze(t, a, sub); hasType(res, threat.TypeBotBehavior) {
		t.Error("in-order focus with unknown field flagged")
	}
}

func TestUserAgentChecks(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	sub := humanSub("203.0.113.8")
	sub.UserAgent = ""
	if res := analyze(t, a, sub); !hasType(res, threat.TypeSuspiciousUserAgent) {
		t.Error("missing user agent not flagged")
	}

	sub = humanSub("203.0.113.12")
	sub.UserAgent = "python-requests/2.31.0"
	if res := analyze(t, a, sub); !hasType(res, threat.TypeSuspiciousUserAgent) {
		t.Error("automation user agent not flagged")
	}
}

func TestFingerprintRotation(t *testing.T) {
	fake := clock.NewFake(time.Now())
	a := newTestAnalyzer(fake)

	var res *threat.Analysis
	for i, ip := range []string{"203.0.113.20", "203.0.113.21", "203.0.113.22", "203.0.113.23"} {
		sub := humanSub(ip)
		sub.Metadata.CanvasHash = "cafebabe01"
		res = analyze(t, a, sub)
		fake.Advance(time.Duration(i) * time.Minute)
	}
	if !hasType(res, threat.TypeFingerprintMismatch) {
		t.Error("fingerprint across 4 IPs not flagged")
	}
}

func TestHistoryEviction(t *testing.T) {
	fake := clock.NewFake(time.Now())
	h := NewHistoryStore(3, time.Hour, fake)

	for _, ip := range []string{"a", "b", "c", "d", "e"} {
		h.Record(ip)
		fake.Advance(time.Second)
	}
	if n := h.TrackedIPs(); n > 3 {
		t.Errorf("history holds %d IPs, want <= 3", n)
	}
}

func TestHistoryCleanup(t *testing.T) {
	fake := clock.NewFake(time.Now())
	h := NewHistoryStore(100, time.Hour, fake)

	h.Record("203.0.113.30")
	h.Record("203.0.113.31")
	fake.Advance(2 * time.Hour)
	h.Record("203.0.113.32")

	if removed := h.Cleanup(); removed != 2 {
		t.Errorf("Cleanup removed %d entries, want 2", removed)
	}
	if n := h.TrackedIPs(); n != 1 {
		t.Errorf("%d IPs tracked after cleanup, want 1", n)
	}
}

func TestEnvironmentChecks(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	depth := 13
	sub := humanSub("203.0.113.20")
	sub.Metadata.ColorDepth = &depth
	if res := analyze(t, a, sub); !hasType(res, threat.TypeSessionAnomaly) {
		t.Error("color depth 13 not flagged")
	}

	depth = 24
	sub = humanSub("203.0.113.21")
	sub.Metadata.ColorDepth = &depth
	if res := analyze(t, a, sub); hasType(res, threat.TypeSessionAnomaly) {
		t.Error("standard color depth flagged")
	}

	sub = humanSub("203.0.113.22")
	sub.Metadata.Platform = "Win32"
	if res := analyze(t, a, sub); hasType(res, threat.TypeSessionAnomaly) {
		t.Error("unmapped platform string flagged")
	}

	sub = humanSub("203.0.113.23")
	sub.Metadata.Platform = "win"
	if res := analyze(t, a, sub); !hasType(res, threat.TypeSessionAnomaly) {
		t.Error("windows platform with linux user agent not flagged")
	}
}

func TestMissingFingerprintWithTelemetry(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	moves, keys := 40, 120
	sub := humanSub("203.0.113.24")
	sub.Metadata.MouseMovements = &moves
	sub.Metadata.Keystrokes = &keys
	sub.Metadata.ScreenResolution = "1920x1080"
	if res := analyze(t, a, sub); !hasType(res, threat.TypeBotBehavior) {
		t.Error("full telemetry without rendering fingerprint not flagged")
	}

	sub = humanSub("203.0.113.25")
	sub.Metadata.MouseMovements = &moves
	sub.Metadata.Keystrokes = &keys
	sub.Metadata.ScreenResolution = "1920x1080"
	sub.Metadata.CanvasHash = "cafebabe01"
	if res := analyze(t, a, sub); hasType(res, threat.TypeBotBehavior) {
		t.Error("telemetry with canvas fingerprint flagged")
	}
}

func TestExcessivePaste(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	paste := 6
	sub := humanSub("203.0.113.26")
	sub.Metadata.PasteCount = &paste
	if res := analyze(t, a, sub); !hasType(res, threat.TypeBotBehavior) {
		t.Error("6 paste events across 2 fields not flagged")
	}

	paste = 2
	sub = humanSub("203.0.113.27")
	sub.Metadata.PasteCount = &paste
	if res := analyze(t, a, sub); hasType(res, threat.TypeBotBehavior) {
		t.Error("2 paste events flagged")
	}
}

func TestOutdatedUserAgent(t *testing.T) {
	a := newTestAnalyzer(clock.NewFake(time.Now()))

	sub := humanSub("203.0.113.28")
	sub.UserAgent = "Mozilla/5.0 (compatible; MSIE 9.0; Windows NT 6.1; Trident/5.0)"
	if res := analyze(t, a, sub); !hasType(res, threat.TypeSuspiciousUserAgent) {
		t.Error("internet explorer user agent not flagged")
	}

	sub = humanSub("203.0.113.29")
	sub.UserAgent = "Mozilla/5.0 (Windows NT 10.0) Chrome/45.0.2454.85 Safari/537.36"
	if res := analyze(t, a, sub); !hasType(res, threat.TypeSuspiciousUserAgent) {
		t.Error("chrome 45 user agent not flagged")
	}

	if res := analyze(t, a, humanSub("203.0.113.30")); hasType(res, threat.TypeSuspiciousUserAgent) {
		t.Error("current firefox user agent flagged")
	}
}
