// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package threat defines the data model shared by every detection module:
// submissions, threats, validation results and the Detector interface.
//
// Values of these types flow through the whole pipeline, so the rules are
// strict: a Submission is immutable once constructed, a Threat is created by
// exactly one detector and never mutated afterwards, and the orchestrator
// only aggregates threat records.
package threat

import (
	"context"
	"strings"
	"time"
)

// Type identifies the category of a detected threat.
type Type string

// Threat types, grouped by detection class.
const (
	// Financial scam
	TypeCryptoScam      Type = "CRYPTO_SCAM"
	TypeCryptoAddress   Type = "CRYPTO_ADDRESS"
	TypeInvestmentFraud Type = "INVESTMENT_FRAUD"
	TypeAdvanceFeeFraud Type = "ADVANCE_FEE_FRAUD"

	// Content anomaly
	TypeExcessiveURLs    Type = "EXCESSIVE_URLS"
	TypeSuspiciousURL    Type = "SUSPICIOUS_URL"
	TypeURLInName        Type = "URL_IN_NAME"
	TypeKeywordStuffing  Type = "KEYWORD_STUFFING"
	TypeGibberishContent Type = "GIBBERISH_CONTENT"
	TypeAIGeneratedText  Type = "AI_GENERATED_TEXT"
	TypeAnomalousContent Type = "ANOMALOUS_CONTENT"
	TypeSpamContent      Type = "SPAM_CONTENT"

	// Contact validation
	TypeEmailMismatch    Type = "EMAIL_MISMATCH"
	TypeSuspiciousEmail  Type = "SUSPICIOUS_EMAIL"
	TypeDisposableEmail  Type = "DISPOSABLE_EMAIL"
	TypeMultiplePhones   Type = "MULTIPLE_PHONES"
	TypeGeoInconsistency Type = "GEO_INCONSISTENCY"

	// Behavioral
	TypeRapidSubmission     Type = "RAPID_SUBMISSION"
	TypeRateLimitExceeded   Type = "RATE_LIMIT_EXCEEDED"
	TypeBotBehavior         Type = "BOT_BEHAVIOR"
	TypeHoneypotTriggered   Type = "HONEYPOT_TRIGGERED"
	TypeTimingAnomaly       Type = "TIMING_ANOMALY"
	TypeFingerprintMismatch Type = "FINGERPRINT_MISMATCH"
	TypeSuspiciousUserAgent Type = "SUSPICIOUS_USER_AGENT"
	TypeSessionAnomaly      Type = "SESSION_ANOMALY"

	// Social engineering
	TypeUrgencyManipulation    Type = "URGENCY_MANIPULATION"
	TypeAuthorityImpersonation Type = "AUTHORITY_IMPERSONATION"
	TypeFearTactics            Type = "FEAR_TACTICS"
	TypeTooGoodToBeTrue        Type = "TOO_GOOD_TO_BE_TRUE"
	TypeEmotionalManipulation  Type = "EMOTIONAL_MANIPULATION"

	// Technical injection
	TypeXSSAttempt       Type = "XSS_ATTEMPT"
	TypeSQLInjection     Type = "SQL_INJECTION"
	TypeCommandInjection Type = "COMMAND_INJECTION"
	TypePathTraversal    Type = "PATH_TRAVERSAL"

	// Reputation
	TypeBadReputation     Type = "BAD_REPUTATION"
	TypeBlacklistedSource Type = "BLACKLISTED_SOURCE"
	TypeVPNProxyDetected  Type = "VPN_PROXY_DETECTED"
	TypeTorExitNode       Type = "TOR_EXIT_NODE"

	// Rule engine
	TypeRuleMatch Type = "RULE_MATCH"
)

// Severity indicates how serious a single threat is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level is the discretized risk bucket for a whole submission, derived from
// the fused confidence score via fixed thresholds.
type Level string

const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Action is the decision dispatched for a submission.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionQuarantine Action = "quarantine"
	ActionBlock      Action = "block"
)

// LevelFor discretizes a fused confidence score into a risk bucket. The
// critical and high cutoffs are the pipeline's block and quarantine
// thresholds; the medium and low cutoffs are fixed.
func LevelFor(confidence, blockThreshold, quarantineThreshold float64) Level {
	switch {
	case confidence >= blockThreshold:
		return LevelCritical
	case confidence >= quarantineThreshold:
		return LevelHigh
	case confidence >= 0.5:
		return LevelMedium
	case confidence >= 0.3:
		return LevelLow
	default:
		return LevelNone
	}
}

// maxEvidenceItems bounds the evidence list on a threat so that raw payloads
// are never echoed back in full.
const maxEvidenceItems = 4

// maxEvidenceLen truncates individual evidence snippets.
const maxEvidenceLen = 120

// Field is a single named form field value. Fields keep their submission
// order, which the behavioral analyzer compares against focus order.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata carries client-supplied interaction telemetry. Every field is
// optional and may be spoofed; pointer fields distinguish "absent" from a
// legitimate zero (zero mouse movements is a signal, missing telemetry is
// not).
type Metadata struct {
	SubmissionTimeMs *int64   `json:"submission_time_ms,omitempty"`
	MouseMovements   *int     `json:"mouse_movements,omitempty"`
	Keystrokes       *int     `json:"keystrokes,omitempty"`
	PasteCount       *int     `json:"paste_count,omitempty"`
	FocusOrder       []string `json:"focus_order,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	Language         string   `json:"language,omitempty"`
	ScreenResolution string   `json:"screen_resolution,omitempty"`
	ColorDepth       *int     `json:"color_depth,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	Plugins          []string `json:"plugins,omitempty"`
	CanvasHash       string   `json:"canvas_hash,omitempty"`
	WebGLHash        string   `json:"webgl_hash,omitempty"`
}

// Submission is one inbound form submission. It is immutable once created
// and owned by the request scope; detectors read it concurrently.
type Submission struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Fields    []Field   `json:"fields"`
	Metadata  Metadata  `json:"metadata"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
}

// FieldValue returns the value of the named field and whether it is present.
func (s *Submission) FieldValue(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// AllText returns the concatenation of all field values separated by spaces.
// Used for cross-field checks and the "any" field selector in rules.
func (s *Submission) AllText() string {
	var b strings.Builder
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Value)
	}
	return b.String()
}

// Threat is one finding produced by a detector. Confidence is always within
// [0,1] and evidence is bounded and truncated.
type Threat struct {
	Type        Type     `json:"type"`
	Field       string   `json:"field,omitempty"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	Severity    Severity `json:"severity"`
}

// New constructs a threat, clamping confidence to [0,1] and bounding the
// evidence list.
func New(typ Type, field string, confidence float64, description string, severity Severity, evidence ...string) Threat {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Threat{
		Type:        typ,
		Field:       field,
		Confidence:  confidence,
		Description: description,
		Severity:    severity,
		Evidence:    TruncateEvidence(evidence),
	}
}

// TruncateEvidence bounds an evidence list to maxEvidenceItems entries of at
// most maxEvidenceLen runes each.
func TruncateEvidence(evidence []string) []string {
	if len(evidence) == 0 {
		return nil
	}
	if len(evidence) > maxEvidenceItems {
		evidence = evidence[:maxEvidenceItems]
	}
	out := make([]string, len(evidence))
	for i, e := range evidence {
		runes := []rune(e)
		if len(runes) > maxEvidenceLen {
			e = string(runes[:maxEvidenceLen]) + "..."
		}
		out[i] = e
	}
	return out
}

// Analysis is the output of one detector run: its threats and the maximum
// confidence among them.
type Analysis struct {
	Threats    []Threat `json:"threats"`
	Confidence float64  `json:"confidence"`
}

// NewAnalysis builds an Analysis from a threat list, computing the max
// confidence. A single high-confidence hit must never be diluted by many
// low-confidence ones, so confidence is a maximum, not an average.
func NewAnalysis(threats []Threat) *Analysis {
	return &Analysis{Threats: threats, Confidence: MaxConfidence(threats)}
}

// MaxConfidence returns the highest confidence among threats, or 0.
func MaxConfidence(threats []Threat) float64 {
	max := 0.0
	for _, t := range threats {
		if t.Confidence > max {
			max = t.Confidence
		}
	}
	return max
}

// ValidationResult is the terminal output of the pipeline for one submission.
type ValidationResult struct {
	Valid          bool          `json:"valid"`
	Threats        []Threat      `json:"threats"`
	Confidence     float64       `json:"confidence"`
	ThreatLevel    Level         `json:"threat_level"`
	Action         Action        `json:"action"`
	Flagged        bool          `json:"flagged,omitempty"`
	Message        string        `json:"message"`
	QuarantineID   string        `json:"quarantine_id,omitempty"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
}

// Detector is the interface every detection module implements. Analyze must
// be safe for concurrent use; any module-internal failure is returned as an
// error and isolated by the orchestrator, never aborting the pipeline.
type Detector interface {
	// Name returns the module name used in config toggles and logs.
	Name() string

	// Analyze evaluates a submission and returns the module's findings.
	Analyze(ctx context.Context, sub *Submission) (*Analysis, error)

	// Enabled returns whether this module is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the module.
	SetEnabled(enabled bool)
}
