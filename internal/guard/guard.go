// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package guard orchestrates the detection pipeline: list short-circuits,
// module fan-out with failure isolation, confidence fusion and the final
// decision. The pipeline fails open: a broken module degrades coverage,
// never availability.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formwarden/formwarden/internal/analytics"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/intel"
	"github.com/formwarden/formwarden/internal/logging"
	"github.com/formwarden/formwarden/internal/quarantine"
	"github.com/formwarden/formwarden/internal/threat"
)

// Learner receives labeled feedback for online training.
type Learner interface {
	Learn(sub *threat.Submission, isSpam bool)
}

// Quarantiner admits submissions for review.
type Quarantiner interface {
	Add(ctx context.Context, sub *threat.Submission, threats []threat.Threat, confidence float64) (string, error)
	Counts() map[quarantine.State]int
}

// Guard is the pipeline orchestrator.
type Guard struct {
	cfg        config.DetectionConfig
	detectors  []threat.Detector
	lists      *intel.Lists
	quarantine Quarantiner
	learner    Learner
	collector  *analytics.Collector

	// Tunables adjustable at runtime through the config endpoint.
	mu            sync.RWMutex
	blockThr      float64
	quarantineThr float64
	strict        bool
	learning      bool
}

// New assembles the guard. Module order is the order threats appear in
// results; detectors named in cfg.DisabledModules start disabled.
func New(cfg config.DetectionConfig, detectors []threat.Detector, lists *intel.Lists, q Quarantiner, learner Learner, collector *analytics.Collector) *Guard {
	for _, d := range detectors {
		for _, name := range cfg.DisabledModules {
			if d.Name() == name {
				d.SetEnabled(false)
			}
		}
	}
	return &Guard{
		cfg:           cfg,
		detectors:     detectors,
		lists:         lists,
		quarantine:    q,
		learner:       learner,
		collector:     collector,
		blockThr:      cfg.BlockThreshold,
		quarantineThr: cfg.QuarantineThreshold,
		strict:        cfg.StrictMode,
		learning:      cfg.LearningMode,
	}
}

// Detectors returns the pipeline's modules for runtime toggling.
func (g *Guard) Detectors() []threat.Detector { return g.detectors }

// SetThresholds adjusts the score bands at runtime. Values outside (0, 1] or
// an inverted pair are rejected.
func (g *Guard) SetThresholds(block, quarantine float64) error {
	if block <= 0 || block > 1 || quarantine <= 0 || quarantine > 1 {
		return fmt.Errorf("thresholds must be in (0, 1]: block=%v quarantine=%v", block, quarantine)
	}
	if quarantine >= block {
		return fmt.Errorf("quarantine threshold %v must be below block threshold %v", quarantine, block)
	}
	g.mu.Lock()
	g.blockThr, g.quarantineThr = block, quarantine
	g.mu.Unlock()
	return nil
}

// Thresholds returns the current block and quarantine thresholds.
func (g *Guard) Thresholds() (block, quarantine float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blockThr, g.quarantineThr
}

// SetStrictMode switches how medium-risk submissions are handled.
func (g *Guard) SetStrictMode(on bool) {
	g.mu.Lock()
	g.strict = on
	g.mu.Unlock()
}

// StrictMode reports whether medium-risk submissions are quarantined.
func (g *Guard) StrictMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.strict
}

// SetLearningMode toggles whether review outcomes and feedback feed the
// classifier.
func (g *Guard) SetLearningMode(on bool) {
	g.mu.Lock()
	g.learning = on
	g.mu.Unlock()
}

// LearningMode reports whether feedback reaches the classifier.
func (g *Guard) LearningMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.learning
}

// Validate runs the full pipeline for one submission and returns the
// decision. The error return is reserved for request-level problems; module
// failures are absorbed, and a fault anywhere else in the pipeline degrades
// to an allow rather than an outage.
func (g *Guard) Validate(ctx context.Context, sub *threat.Submission) (res *threat.ValidationResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("submission", sub.ID).
				Interface("panic", r).
				Msg("validation pipeline panicked")
			res = &threat.ValidationResult{
				Valid:          true,
				ThreatLevel:    threat.LevelNone,
				Action:         threat.ActionAllow,
				Message:        "ok",
				ProcessingTime: time.Since(start),
			}
			err = nil
		}
	}()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Timestamp.IsZero() {
		sub.Timestamp = time.Now().UTC()
	}

	// Whitelist wins over everything, including the blacklist.
	if entry, ok := g.lists.Match(intel.Whitelist, sub); ok {
		res := &threat.ValidationResult{
			Valid:          true,
			Confidence:     0,
			ThreatLevel:    threat.LevelNone,
			Action:         threat.ActionAllow,
			Message:        fmt.Sprintf("source whitelisted (%s)", entry.Kind),
			ProcessingTime: time.Since(start),
		}
		g.record(sub, res)
		return res, nil
	}

	if entry, ok := g.lists.Match(intel.Blacklist, sub); ok {
		res := &threat.ValidationResult{
			Valid: false,
			Threats: []threat.Threat{threat.New(
				threat.TypeBlacklistedSource, "", 1.0,
				fmt.Sprintf("source blacklisted (%s)", entry.Kind),
				threat.SeverityCritical, entry.Value,
			)},
			Confidence:     1.0,
			ThreatLevel:    threat.LevelCritical,
			Action:         threat.ActionBlock,
			Message:        g.cfg.BlockMessage,
			ProcessingTime: time.Since(start),
		}
		g.record(sub, res)
		return res, nil
	}

	var threats []threat.Threat
	for _, d := range g.detectors {
		if !d.Enabled() {
			continue
		}
		analysis := g.runDetector(ctx, d, sub)
		if analysis != nil {
			threats = append(threats, analysis.Threats...)
		}
	}

	res = g.decide(ctx, sub, threats)
	res.ProcessingTime = time.Since(start)
	g.record(sub, res)
	return res, nil
}

// runDetector executes one module with panic and error isolation.
func (g *Guard) runDetector(ctx context.Context, d threat.Detector, sub *threat.Submission) (analysis *threat.Analysis) {
	started := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			analysis = nil
			logging.Error().
				Str("module", d.Name()).
				Interface("panic", r).
				Msg("detection module panicked")
		}
		analytics.ObserveDetector(d.Name(), time.Since(started), err)
	}()

	analysis, err = d.Analyze(ctx, sub)
	if err != nil {
		logging.Warn().Err(err).Str("module", d.Name()).Msg("detection module failed")
		return nil
	}
	return analysis
}

// decide fuses threats into the final action. Confidence is the maximum
// across all findings so one strong signal is never averaged away; the score
// is bucketed into a risk level against the configured thresholds and the
// level dispatches the action. Medium risk quarantines only in strict mode,
// otherwise the submission passes flagged for the operator to inspect.
func (g *Guard) decide(ctx context.Context, sub *threat.Submission, threats []threat.Threat) *threat.ValidationResult {
	confidence := threat.MaxConfidence(threats)
	g.mu.RLock()
	blockThr, quarantineThr, strict := g.blockThr, g.quarantineThr, g.strict
	g.mu.RUnlock()

	level := threat.LevelFor(confidence, blockThr, quarantineThr)

	res := &threat.ValidationResult{
		Threats:     threats,
		Confidence:  confidence,
		ThreatLevel: level,
	}

	switch {
	case level == threat.LevelCritical:
		res.Valid = false
		res.Action = threat.ActionBlock
		res.Message = g.cfg.BlockMessage
	case level == threat.LevelHigh || (level == threat.LevelMedium && strict):
		res.Valid = false
		res.Action = threat.ActionQuarantine
		res.Message = g.cfg.QuarantineMessage
		id, err := g.quarantine.Add(ctx, sub, threats, confidence)
		if err != nil {
			// Holding failed; keep the submission out rather than let
			// a storage fault wave it through.
			logging.Error().Err(err).Str("submission", sub.ID).Msg("quarantine admission failed")
			res.Action = threat.ActionBlock
			res.Message = g.cfg.BlockMessage
		} else {
			res.QuarantineID = id
		}
	default:
		res.Valid = true
		res.Action = threat.ActionAllow
		res.Flagged = level == threat.LevelMedium || level == threat.LevelLow
		res.Message = "ok"
	}
	return res
}

func (g *Guard) record(sub *threat.Submission, res *threat.ValidationResult) {
	g.collector.Record(sub, res)
	if counts := g.quarantine.Counts(); counts != nil {
		analytics.QuarantinePending.Set(float64(counts[quarantine.StatePending]))
	}

	evt := logging.Info()
	if res.Action != threat.ActionAllow {
		evt = logging.Warn()
	}
	evt.
		Str("submission", sub.ID).
		Str("ip", sub.IP).
		Str("action", string(res.Action)).
		Float64("confidence", res.Confidence).
		Int("threats", len(res.Threats)).
		Dur("took", res.ProcessingTime).
		Msg("submission validated")
}

// ProvideFeedback forwards a labeled example to the classifier. Dropped when
// learning mode is off.
func (g *Guard) ProvideFeedback(sub *threat.Submission, isSpam bool) {
	if g.learner == nil || !g.LearningMode() {
		return
	}
	g.learner.Learn(sub, isSpam)
}
