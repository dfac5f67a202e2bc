// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package guard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/formwarden/formwarden/internal/analytics"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/intel"
	"github.com/formwarden/formwarden/internal/quarantine"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

// stubDetector emits a fixed analysis, error or panic.
type stubDetector struct {
	name    string
	threats []threat.Threat
	err     error
	panics  bool

	mu      sync.RWMutex
	enabled bool
}

func newStub(name string, threats ...threat.Threat) *stubDetector {
	return &stubDetector{name: name, threats: threats, enabled: true}
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *stubDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

func (d *stubDetector) Analyze(context.Context, *threat.Submission) (*threat.Analysis, error) {
	if d.panics {
		panic("stub detector exploded")
	}
	if d.err != nil {
		return nil, d.err
	}
	return threat.NewAnalysis(d.threats), nil
}

// stubQuarantine records admissions, optionally failing them.
type stubQuarantine struct {
	addErr error
	added  int
}

func (q *stubQuarantine) Add(context.Context, *threat.Submission, []threat.Threat, float64) (string, error) {
	if q.addErr != nil {
		return "", q.addErr
	}
	q.added++
	return "q-1", nil
}

func (q *stubQuarantine) Counts() map[quarantine.State]int { return nil }

// brokenQuarantine faults instead of failing cleanly.
type brokenQuarantine struct{}

func (brokenQuarantine) Add(context.Context, *threat.Submission, []threat.Threat, float64) (string, error) {
	panic("quarantine store corrupted")
}

func (brokenQuarantine) Counts() map[quarantine.State]int { return nil }

func newTestGuard(t *testing.T, detectors []threat.Detector, q Quarantiner) (*Guard, *intel.Lists) {
	t.Helper()
	lists, err := intel.NewLists(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	collector := analytics.NewCollector(cfg.Analytics)
	if q == nil {
		q = &stubQuarantine{}
	}
	return New(cfg.Detection, detectors, lists, q, nil, collector), lists
}

func submission() *threat.Submission {
	return &threat.Submission{
		IP:     "203.0.113.1",
		Fields: []threat.Field{{Name: "message", Value: "hello"}},
	}
}

func TestCleanSubmissionAllowed(t *testing.T) {
	g, _ := newTestGuard(t, []threat.Detector{newStub("calm")}, nil)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Action != threat.ActionAllow {
		t.Errorf("clean submission got %s, valid=%v", res.Action, res.Valid)
	}
	if res.ThreatLevel != threat.LevelNone {
		t.Errorf("threat level %s, want none", res.ThreatLevel)
	}
}

func TestBlockThreshold(t *testing.T) {
	det := newStub("hot", threat.New(threat.TypeHoneypotTriggered, "website", 0.95,
		"hidden field filled", threat.SeverityCritical))
	g, _ := newTestGuard(t, []threat.Detector{det}, nil)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionBlock || res.Valid {
		t.Errorf("0.95 confidence got action %s", res.Action)
	}
}

func TestQuarantineBand(t *testing.T) {
	det := newStub("warm", threat.New(threat.TypeSpamContent, "message", 0.75,
		"likely spam", threat.SeverityMedium))
	q := &stubQuarantine{}
	g, _ := newTestGuard(t, []threat.Detector{det}, q)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionQuarantine {
		t.Fatalf("0.75 confidence got action %s", res.Action)
	}
	if res.QuarantineID == "" || q.added != 1 {
		t.Error("submission was not admitted to quarantine")
	}
}

func TestQuarantineFailureEscalatesToBlock(t *testing.T) {
	det := newStub("warm", threat.New(threat.TypeSpamContent, "message", 0.75,
		"likely spam", threat.SeverityMedium))
	q := &stubQuarantine{addErr: errors.New("store down")}
	g, _ := newTestGuard(t, []threat.Detector{det}, q)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionBlock {
		t.Errorf("failed quarantine admission got action %s, want block", res.Action)
	}
}

func TestPipelineFaultFailsOpen(t *testing.T) {
	det := newStub("warm", threat.New(threat.TypeSpamContent, "message", 0.75,
		"likely spam", threat.SeverityMedium))
	g, _ := newTestGuard(t, []threat.Detector{det}, brokenQuarantine{})

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Action != threat.ActionAllow {
		t.Errorf("pipeline fault got action %s, valid=%v, want fail-open allow", res.Action, res.Valid)
	}
}

func TestFusionTakesMaximum(t *testing.T) {
	g, _ := newTestGuard(t, []threat.Detector{
		newStub("a", threat.New(threat.TypeSpamContent, "", 0.3, "weak", threat.SeverityLow)),
		newStub("b", threat.New(threat.TypeSQLInjection, "", 0.92, "strong", threat.SeverityCritical)),
		newStub("c", threat.New(threat.TypeSuspiciousEmail, "", 0.2, "weak", threat.SeverityLow)),
	}, nil)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 0.92 {
		t.Errorf("fused confidence %.2f, want the 0.92 maximum", res.Confidence)
	}
	if res.Action != threat.ActionBlock {
		t.Errorf("action %s, want block", res.Action)
	}
	if len(res.Threats) != 3 {
		t.Errorf("got %d threats, want all 3 preserved", len(res.Threats))
	}
}

func TestFailingModulesAreIsolated(t *testing.T) {
	broken := newStub("broken")
	broken.err = errors.New("upstream timeout")
	panicky := newStub("panicky")
	panicky.panics = true
	healthy := newStub("healthy", threat.New(threat.TypeSpamContent, "", 0.95,
		"spam", threat.SeverityCritical))

	g, _ := newTestGuard(t, []threat.Detector{broken, panicky, healthy}, nil)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionBlock {
		t.Errorf("healthy module verdict lost: action %s", res.Action)
	}
}

func TestAllModulesFailingFailsOpen(t *testing.T) {
	broken := newStub("broken")
	broken.err = errors.New("down")
	panicky := newStub("panicky")
	panicky.panics = true

	g, _ := newTestGuard(t, []threat.Detector{broken, panicky}, nil)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionAllow {
		t.Errorf("fully degraded pipeline got %s, want allow", res.Action)
	}
}

func TestDisabledModuleSkipped(t *testing.T) {
	det := newStub("noisy", threat.New(threat.TypeSpamContent, "", 0.99,
		"spam", threat.SeverityCritical))
	det.SetEnabled(false)
	g, _ := newTestGuard(t, []threat.Detector{det}, nil)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionAllow {
		t.Errorf("disabled module still contributed: action %s", res.Action)
	}
}

func TestConfiguredDisabledModules(t *testing.T) {
	det := newStub("behavior", threat.New(threat.TypeBotBehavior, "", 0.99,
		"bot", threat.SeverityCritical))
	lists, err := intel.NewLists(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Detection.DisabledModules = []string{"behavior"}
	g := New(cfg.Detection, []threat.Detector{det}, lists, &stubQuarantine{}, nil, analytics.NewCollector(cfg.Analytics))

	if det.Enabled() {
		t.Fatal("configured module not disabled at assembly")
	}
	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionAllow {
		t.Errorf("disabled-by-config module contributed: %s", res.Action)
	}
}

func TestWhitelistBeatsEverything(t *testing.T) {
	det := newStub("hot", threat.New(threat.TypeHoneypotTriggered, "", 0.95,
		"trap", threat.SeverityCritical))
	g, lists := newTestGuard(t, []threat.Detector{det}, nil)
	ctx := context.Background()

	if err := lists.Add(ctx, intel.Blacklist, intel.KindIP, "203.0.113.1", "listed"); err != nil {
		t.Fatal(err)
	}
	if err := lists.Add(ctx, intel.Whitelist, intel.KindIP, "203.0.113.1", "partner"); err != nil {
		t.Fatal(err)
	}

	res, err := g.Validate(ctx, submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionAllow || !res.Valid {
		t.Errorf("whitelisted source got %s", res.Action)
	}
	if len(res.Threats) != 0 {
		t.Error("whitelisted source still ran detection modules")
	}
}

func TestBlacklistBlocksBeforeDetection(t *testing.T) {
	det := newStub("calm")
	g, lists := newTestGuard(t, []threat.Detector{det}, nil)
	ctx := context.Background()

	if err := lists.Add(ctx, intel.Blacklist, intel.KindIP, "203.0.113.1", "abuser"); err != nil {
		t.Fatal(err)
	}

	res, err := g.Validate(ctx, submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionBlock {
		t.Fatalf("blacklisted source got %s", res.Action)
	}
	if res.Confidence != 1.0 {
		t.Errorf("blacklist confidence %.2f, want 1.0", res.Confidence)
	}
	if len(res.Threats) != 1 || res.Threats[0].Type != threat.TypeBlacklistedSource {
		t.Errorf("threats = %+v", res.Threats)
	}
}

func TestValidateFillsIdentity(t *testing.T) {
	g, _ := newTestGuard(t, []threat.Detector{newStub("calm")}, nil)

	sub := submission()
	if _, err := g.Validate(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	if sub.ID == "" {
		t.Error("submission ID not assigned")
	}
	if sub.Timestamp.IsZero() {
		t.Error("submission timestamp not assigned")
	}
}

func TestMediumRiskStrictMode(t *testing.T) {
	det := newStub("mild", threat.New(threat.TypeSpamContent, "message", 0.55,
		"somewhat spammy", threat.SeverityMedium))
	q := &stubQuarantine{}
	g, _ := newTestGuard(t, []threat.Detector{det}, q)

	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionAllow || !res.Flagged {
		t.Fatalf("medium risk without strict mode got action %s flagged=%v", res.Action, res.Flagged)
	}
	if res.ThreatLevel != threat.LevelMedium {
		t.Errorf("threat level %s, want medium", res.ThreatLevel)
	}
	if q.added != 0 {
		t.Error("medium risk was quarantined without strict mode")
	}

	g.SetStrictMode(true)
	res, err = g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionQuarantine {
		t.Fatalf("medium risk in strict mode got action %s", res.Action)
	}
	if q.added != 1 {
		t.Error("strict mode did not admit the submission to quarantine")
	}
}

func TestRuntimeThresholds(t *testing.T) {
	det := newStub("warm", threat.New(threat.TypeSpamContent, "message", 0.75,
		"likely spam", threat.SeverityMedium))
	g, _ := newTestGuard(t, []threat.Detector{det}, nil)

	if err := g.SetThresholds(0.7, 0.9); err == nil {
		t.Error("inverted thresholds accepted")
	}
	if err := g.SetThresholds(1.2, 0.5); err == nil {
		t.Error("out-of-range threshold accepted")
	}

	if err := g.SetThresholds(0.7, 0.6); err != nil {
		t.Fatal(err)
	}
	res, err := g.Validate(context.Background(), submission())
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != threat.ActionBlock {
		t.Errorf("0.75 confidence with 0.7 block threshold got %s", res.Action)
	}
}

// recordingLearner captures feedback calls.
type recordingLearner struct {
	calls int
}

func (l *recordingLearner) Learn(*threat.Submission, bool) { l.calls++ }

func TestFeedbackGatedByLearningMode(t *testing.T) {
	lists, err := intel.NewLists(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	learner := &recordingLearner{}
	g := New(cfg.Detection, nil, lists, &stubQuarantine{}, learner, analytics.NewCollector(cfg.Analytics))

	g.ProvideFeedback(submission(), true)
	if learner.calls != 1 {
		t.Fatalf("feedback calls = %d, want 1", learner.calls)
	}

	g.SetLearningMode(false)
	g.ProvideFeedback(submission(), true)
	if learner.calls != 1 {
		t.Error("feedback reached the learner with learning mode off")
	}
}
