// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package classifier implements the online scoring classifier: a logistic
// model over content features that learns from reviewer feedback. Training
// happens in the background on a bounded sample buffer; Analyze only ever
// reads the current model pointer.
package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/logging"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

// maxModelConfidence caps what the learned model alone can assert. Blocking
// outright stays reserved for deterministic signals.
const maxModelConfidence = 0.9

// Classifier implements threat.Detector with online learning.
type Classifier struct {
	cfg   config.ClassifierConfig
	blobs store.Blobs

	mu      sync.RWMutex
	m       *model
	version int
	trained int // total samples the current model has seen
	enabled bool

	bufMu      sync.Mutex
	buffer     []sample // bounded at cfg.BufferCap, oldest dropped first
	sinceTrain int
	training   bool
}

// New creates the classifier, restoring the last persisted model snapshot
// when one exists. An unreadable snapshot is not fatal: detection continues
// on the seed weights and the next retrain overwrites the bad record.
func New(ctx context.Context, cfg config.ClassifierConfig, blobs store.Blobs) *Classifier {
	c := &Classifier{
		cfg:     cfg,
		blobs:   blobs,
		m:       newDefaultModel(),
		enabled: true,
	}
	snap, ok, err := loadSnapshot(ctx, blobs)
	switch {
	case err != nil:
		logging.Warn().Err(err).Msg("classifier snapshot unreadable, starting from seed weights")
	case ok:
		c.m = &model{Weights: snap.Weights, Bias: snap.Bias, Means: snap.Means, Stddevs: snap.Stddevs}
		c.version = snap.Version
		c.trained = snap.SampleCount
		logging.Info().
			Int("version", snap.Version).
			Int("samples", snap.SampleCount).
			Time("trained_at", snap.TrainedAt).
			Msg("classifier model restored")
	}
	return c
}

func (c *Classifier) Name() string { return "classifier" }

func (c *Classifier) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

func (c *Classifier) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// Analyze scores the submission with the current model and reports spam,
// anomaly and generated-text findings.
func (c *Classifier) Analyze(_ context.Context, sub *threat.Submission) (*threat.Analysis, error) {
	features := Extract(sub)

	c.mu.RLock()
	m := c.m
	c.mu.RUnlock()

	// The learned score and the threshold-rule anomaly score are
	// independent signals; the stronger one wins.
	p := m.predict(features)
	if a := anomalyScore(features); a > p {
		p = a
	}

	var threats []threat.Threat
	if p >= c.cfg.SpamThreshold {
		confidence := p
		if confidence > maxModelConfidence {
			confidence = maxModelConfidence
		}
		severity := threat.SeverityMedium
		if p >= 0.85 {
			severity = threat.SeverityHigh
		}
		threats = append(threats, threat.New(threat.TypeSpamContent, "", confidence,
			fmt.Sprintf("content scored %.2f spam probability", p), severity))
	}

	// Individual feature extremes are reported even when the combined
	// score stays under the threshold.
	if features[9] >= 0.66 {
		threats = append(threats, threat.New(threat.TypeAIGeneratedText, "", 0.65,
			"multiple generated-text phrasings", threat.SeverityMedium))
	}
	if features[8] >= 0.7 {
		threats = append(threats, threat.New(threat.TypeAnomalousContent, "", 0.6,
			"heavily repeated vocabulary", threat.SeverityMedium))
	}

	return threat.NewAnalysis(threats), nil
}

// Learn records one labeled example from reviewer feedback. Every
// RetrainEvery samples a background retrain runs over the most recent
// RetrainEvery examples.
func (c *Classifier) Learn(sub *threat.Submission, isSpam bool) {
	s := sample{Features: Extract(sub), Spam: isSpam}

	c.bufMu.Lock()
	c.buffer = append(c.buffer, s)
	if len(c.buffer) > c.cfg.BufferCap {
		c.buffer = c.buffer[len(c.buffer)-c.cfg.BufferCap:]
	}
	c.sinceTrain++
	shouldTrain := c.sinceTrain >= c.cfg.RetrainEvery && !c.training
	if shouldTrain {
		c.sinceTrain = 0
		c.training = true
	}
	c.bufMu.Unlock()

	if shouldTrain {
		go c.retrain()
	}
}

// retrain fits a successor model on the newest window of the buffer and
// swaps it in. Runs on its own goroutine; at most one retrain is in flight.
func (c *Classifier) retrain() {
	defer func() {
		c.bufMu.Lock()
		c.training = false
		c.bufMu.Unlock()
	}()

	c.bufMu.Lock()
	window := c.cfg.RetrainEvery
	if window > len(c.buffer) {
		window = len(c.buffer)
	}
	samples := make([]sample, window)
	copy(samples, c.buffer[len(c.buffer)-window:])
	all := make([]sample, len(c.buffer))
	copy(all, c.buffer)
	c.bufMu.Unlock()

	if len(samples) == 0 {
		return
	}

	c.mu.RLock()
	cur := c.m
	c.mu.RUnlock()

	// Normalization statistics come from the whole buffer, not just the
	// training window, so they shift slowly as traffic changes.
	means, stddevs := featureStats(all)
	base := &model{Weights: cur.Weights, Bias: cur.Bias, Means: means, Stddevs: stddevs}

	next := base.train(samples, c.cfg.LearningRate, c.cfg.Epochs)

	c.mu.Lock()
	c.m = next
	c.version++
	c.trained += len(samples)
	snap := Snapshot{
		Version:      c.version,
		Weights:      next.Weights,
		Bias:         next.Bias,
		Means:        next.Means,
		Stddevs:      next.Stddevs,
		SampleCount:  c.trained,
		TrainedAt:    time.Now().UTC(),
		FeatureCount: featureCount,
	}
	c.mu.Unlock()

	logging.Info().
		Int("version", snap.Version).
		Int("window", len(samples)).
		Msg("classifier retrained")

	if !c.cfg.SnapshotEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := saveSnapshot(ctx, c.blobs, snap); err != nil {
		logging.Warn().Err(err).Msg("classifier snapshot save failed")
	}
}

// Stats reports the live model state for the stats endpoint.
type Stats struct {
	Version         int `json:"version"`
	TrainedSamples  int `json:"trained_samples"`
	BufferedSamples int `json:"buffered_samples"`
}

func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	version, trained := c.version, c.trained
	c.mu.RUnlock()
	c.bufMu.Lock()
	buffered := len(c.buffer)
	c.bufMu.Unlock()
	return Stats{Version: version, TrainedSamples: trained, BufferedSamples: buffered}
}
