// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package behavior implements the behavioral analyzer: submission velocity,
// interaction telemetry, honeypot and user-agent checks. It is the only
// detector that keeps cross-request state (per-IP history).
package behavior

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/threat"
)

// IPReputation is the slice of the intel service the analyzer needs for
// session consistency checks.
type IPReputation interface {
	IsAnonymized(ip string) bool
}

// botUASubstrings flags automation tooling in the user agent.
var botUASubstrings = []string{
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client",
	"java/", "okhttp", "scrapy", "phantomjs", "headlesschrome", "selenium",
	"puppeteer", "playwright", "bot", "crawler", "spider",
}

// Analyzer implements the behavioral detection module.
type Analyzer struct {
	cfg     config.BehaviorConfig
	history *HistoryStore
	intel   IPReputation

	mu      sync.RWMutex
	enabled bool
}

// New creates the analyzer. intel may be nil, which disables the session
// consistency check.
func New(cfg config.BehaviorConfig, history *HistoryStore, intel IPReputation) *Analyzer {
	return &Analyzer{cfg: cfg, history: history, intel: intel, enabled: true}
}

func (a *Analyzer) Name() string { return "behavior" }

func (a *Analyzer) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

func (a *Analyzer) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
}

// History exposes the underlying store for the cleanup service and stats.
func (a *Analyzer) History() *HistoryStore { return a.history }

// Analyze records the submission in the rate history and runs every
// behavioral check. Recording happens even for submissions that end up
// blocked, so repeat offenders keep climbing the rate windows.
func (a *Analyzer) Analyze(_ context.Context, sub *threat.Submission) (*threat.Analysis, error) {
	var threats []threat.Threat

	if t, ok := a.checkHoneypot(sub); ok {
		threats = append(threats, t)
	}
	threats = append(threats, a.checkRate(sub)...)
	threats = append(threats, a.checkTelemetry(sub)...)
	threats = append(threats, a.checkEnvironment(sub)...)
	if t, ok := a.checkUserAgent(sub); ok {
		threats = append(threats, t)
	}
	if t, ok := a.checkFingerprint(sub); ok {
		threats = append(threats, t)
	}
	if t, ok := a.checkSession(sub); ok {
		threats = append(threats, t)
	}

	return threat.NewAnalysis(threats), nil
}

// checkHoneypot flags any value in the hidden trap field. Humans never see
// it; autofill bots complete every input.
func (a *Analyzer) checkHoneypot(sub *threat.Submission) (threat.Threat, bool) {
	if a.cfg.HoneypotField == "" {
		return threat.Threat{}, false
	}
	v, ok := sub.FieldValue(a.cfg.HoneypotField)
	if !ok || strings.TrimSpace(v) == "" {
		return threat.Threat{}, false
	}
	return threat.New(threat.TypeHoneypotTriggered, a.cfg.HoneypotField, 0.95,
		"hidden field was filled", threat.SeverityCritical), true
}

// checkRate updates the per-IP windows and flags burst and sustained
// velocity. Confidence is constant above each limit so repeated submissions
// never score lower than earlier ones.
func (a *Analyzer) checkRate(sub *threat.Submission) []threat.Threat {
	if sub.IP == "" {
		return nil
	}
	minuteCount, hourCount, dayCount := a.history.Record(sub.IP)

	var out []threat.Threat
	if minuteCount > int64(a.cfg.MaxPerMinute) {
		out = append(out, threat.New(threat.TypeRapidSubmission, "", 0.95,
			fmt.Sprintf("%d submissions in the last minute (limit %d)", minuteCount, a.cfg.MaxPerMinute),
			threat.SeverityCritical, sub.IP))
	}
	if hourCount > int64(a.cfg.MaxPerHour) {
		out = append(out, threat.New(threat.TypeRateLimitExceeded, "", 0.9,
			fmt.Sprintf("%d submissions in the last hour (limit %d)", hourCount, a.cfg.MaxPerHour),
			threat.SeverityHigh, sub.IP))
	}
	if a.cfg.MaxPerDay > 0 && dayCount > int64(a.cfg.MaxPerDay) {
		out = append(out, threat.New(threat.TypeRateLimitExceeded, "", 0.9,
			fmt.Sprintf("%d submissions in the last day (limit %d)", dayCount, a.cfg.MaxPerDay),
			threat.SeverityHigh, sub.IP))
	}
	return out
}

// checkTelemetry inspects client interaction counters. Absent telemetry is
// never penalized; only present-and-implausible values are.
func (a *Analyzer) checkTelemetry(sub *threat.Submission) []threat.Threat {
	m := sub.Metadata
	var out []threat.Threat

	contentLen := len(sub.AllText())

	if m.SubmissionTimeMs != nil {
		fill := time.Duration(*m.SubmissionTimeMs) * time.Millisecond
		if fill < a.cfg.MinFillTime && contentLen > 40 {
			out = append(out, threat.New(threat.TypeTimingAnomaly, "", 0.85,
				fmt.Sprintf("form filled in %s with %d characters of content", fill, contentLen),
				threat.SeverityHigh))
		}
	}

	zeroMouse := m.MouseMovements != nil && *m.MouseMovements == 0
	zeroKeys := m.Keystrokes != nil && *m.Keystrokes == 0

	switch {
	case zeroMouse && zeroKeys && contentLen > 0:
		out = append(out, threat.New(threat.TypeBotBehavior, "", 0.85,
			"content submitted with zero recorded interaction", threat.SeverityHigh))
	case zeroMouse && contentLen > 0:
		out = append(out, threat.New(threat.TypeBotBehavior, "", 0.8,
			"form completed without any mouse movement", threat.SeverityHigh))
	case m.MouseMovements != nil && *m.MouseMovements < a.cfg.MinMouseMovements && contentLen > 40:
		out = append(out, threat.New(threat.TypeBotBehavior, "", 0.6,
			fmt.Sprintf("only %d mouse movements recorded", *m.MouseMovements),
			threat.SeverityMedium))
	}

	if m.Keystrokes != nil && !zeroMouse && *m.Keystrokes < a.cfg.MinKeystrokes && contentLen > 100 {
		paste := 0
		if m.PasteCount != nil {
			paste = *m.PasteCount
		}
		if paste == 0 {
			out = append(out, threat.New(threat.TypeBotBehavior, "", 0.75,
				fmt.Sprintf("%d characters of content with %d keystrokes and no paste events",
					contentLen, *m.Keystrokes),
				threat.SeverityMedium))
		}
	}

	if len(m.FocusOrder) > 1 && focusOrderMismatch(m.FocusOrder, sub.Fields) {
		out = append(out, threat.New(threat.TypeBotBehavior, "", 0.6,
			"field focus order does not match form layout", threat.SeverityMedium))
	}

	return out
}

// focusOrderMismatch reports whether the recorded focus sequence visits
// known fields out of their form order. Unknown field names are ignored.
func focusOrderMismatch(focus []string, fields []threat.Field) bool {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}
	last := -1
	for _, name := range focus {
		i, ok := index[name]
		if !ok {
			continue
		}
		if i < last {
			return true
		}
		last = i
	}
	return false
}

// standardColorDepths are the values real display stacks report.
var standardColorDepths = map[int]bool{8: true, 15: true, 16: true, 24: true, 30: true, 32: true, 48: true}

// platformUATokens maps reported platforms to the substring a matching user
// agent carries.
var platformUATokens = map[string]string{
	"win":     "windows",
	"windows": "windows",
	"mac":     "mac os",
	"macos":   "mac os",
	"linux":   "linux",
	"android": "android",
	"iphone":  "iphone",
	"ipad":    "ipad",
}

// checkEnvironment cross-checks the reported client environment for values
// no real browser produces. Each check fires only when the relevant
// telemetry is present; headless stacks and spoofed fingerprints tend to
// get at least one of these wrong.
func (a *Analyzer) checkEnvironment(sub *threat.Submission) []threat.Threat {
	m := sub.Metadata
	var out []threat.Threat

	if m.ColorDepth != nil && !standardColorDepths[*m.ColorDepth] {
		out = append(out, threat.New(threat.TypeSessionAnomaly, "", 0.5,
			fmt.Sprintf("non-standard color depth %d", *m.ColorDepth),
			threat.SeverityMedium))
	}

	if m.Platform != "" && sub.UserAgent != "" {
		ua := strings.ToLower(sub.UserAgent)
		if token, ok := platformUATokens[strings.ToLower(strings.TrimSpace(m.Platform))]; ok && !strings.Contains(ua, token) {
			out = append(out, threat.New(threat.TypeSessionAnomaly, "", 0.6,
				fmt.Sprintf("platform %q does not match the user agent", m.Platform),
				threat.SeverityMedium, sub.UserAgent))
		}
	}

	// Interaction counters without any rendering fingerprint suggests a
	// script that fakes the cheap telemetry and skips the expensive kind.
	if m.CanvasHash == "" && m.WebGLHash == "" &&
		m.MouseMovements != nil && m.Keystrokes != nil && m.ScreenResolution != "" {
		out = append(out, threat.New(threat.TypeBotBehavior, "", 0.5,
			"interaction telemetry present but no rendering fingerprint",
			threat.SeverityMedium))
	}

	if m.PasteCount != nil && *m.PasteCount > len(sub.Fields) && *m.PasteCount >= 4 {
		out = append(out, threat.New(threat.TypeBotBehavior, "", 0.5,
			fmt.Sprintf("%d paste events across %d fields", *m.PasteCount, len(sub.Fields)),
			threat.SeverityMedium))
	}

	return out
}

func (a *Analyzer) checkUserAgent(sub *threat.Submission) (threat.Threat, bool) {
	ua := strings.ToLower(strings.TrimSpace(sub.UserAgent))
	if ua == "" {
		return threat.New(threat.TypeSuspiciousUserAgent, "", 0.7,
			"missing user agent", threat.SeverityMedium), true
	}
	for _, sig := range botUASubstrings {
		if strings.Contains(ua, sig) {
			return threat.New(threat.TypeSuspiciousUserAgent, "", 0.85,
				"automation tool user agent", threat.SeverityHigh, sub.UserAgent), true
		}
	}
	if outdatedUA(ua) {
		return threat.New(threat.TypeSuspiciousUserAgent, "", 0.6,
			"user agent claims a long-retired browser", threat.SeverityMedium, sub.UserAgent), true
	}
	return threat.Threat{}, false
}

// oldBrowserRegexp catches major versions no live install still reports.
// Spam kits recycle ancient user-agent strings long after real traffic
// moved on.
var oldBrowserRegexp = regexp.MustCompile(`(?:chrome|firefox)/([0-9]{1,2})\.`)

func outdatedUA(ua string) bool {
	if strings.Contains(ua, "msie ") || strings.Contains(ua, "trident/") {
		return true
	}
	if m := oldBrowserRegexp.FindStringSubmatch(ua); m != nil {
		major, err := strconv.Atoi(m[1])
		return err == nil && major < 60
	}
	return false
}

// checkFingerprint flags one device fingerprint rotating across many IPs.
func (a *Analyzer) checkFingerprint(sub *threat.Submission) (threat.Threat, bool) {
	print := sub.Metadata.CanvasHash
	if print == "" {
		print = sub.Metadata.WebGLHash
	}
	n := a.history.RecordFingerprint(print, sub.IP)
	if n <= 3 {
		return threat.Threat{}, false
	}
	return threat.New(threat.TypeFingerprintMismatch, "", 0.8,
		fmt.Sprintf("fingerprint seen from %d IPs within the hour", n),
		threat.SeverityHigh), true
}

// checkSession flags anonymized sources that still present full browser
// telemetry, a common trait of proxy-routed automation.
func (a *Analyzer) checkSession(sub *threat.Submission) (threat.Threat, bool) {
	if a.intel == nil || sub.IP == "" {
		return threat.Threat{}, false
	}
	m := sub.Metadata
	if m.Timezone == "" || !a.intel.IsAnonymized(sub.IP) {
		return threat.Threat{}, false
	}
	return threat.New(threat.TypeSessionAnomaly, "", 0.6,
		"full client telemetry over an anonymized source", threat.SeverityMedium,
		m.Timezone), true
}
