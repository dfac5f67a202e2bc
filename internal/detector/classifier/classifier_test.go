// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package classifier

import (
	"context"
	"testing"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

func messageSub(text string) *threat.Submission {
	return &threat.Submission{
		Fields: []threat.Field{{Name: "message", Value: text}},
	}
}

const spamText = "CONGRATULATIONS WINNER!!! You are GUARANTEED a FREE prize! " +
	"Click http://win.example http://cash.example http://prize.example NOW " +
	"to claim your FREE BITCOIN million dollar prize!!! Urgent: click now!!!"

const cleanText = "Hi, I visited your shop last weekend and wanted to ask whether " +
	"the ceramic mugs from the window display are still available. Could you " +
	"let me know the price and whether you ship to Portland? Thanks, Dana"

func newTestClassifier(t *testing.T, cfg config.ClassifierConfig) *Classifier {
	t.Helper()
	return New(context.Background(), cfg, store.NewMemory())
}

func spamConfidence(t *testing.T, c *Classifier, text string) float64 {
	t.Helper()
	a, err := c.Analyze(context.Background(), messageSub(text))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, th := range a.Threats {
		if th.Type == threat.TypeSpamContent {
			return th.Confidence
		}
	}
	return 0
}

func TestDefaultModelSeparatesSpam(t *testing.T) {
	c := newTestClassifier(t, config.Default().Classifier)

	if conf := spamConfidence(t, c, spamText); conf == 0 {
		t.Error("obvious spam not flagged by seed model")
	} else if conf > maxModelConfidence {
		t.Errorf("model confidence %.2f exceeds cap %.2f", conf, maxModelConfidence)
	}

	if conf := spamConfidence(t, c, cleanText); conf != 0 {
		t.Errorf("plain inquiry flagged as spam with confidence %.2f", conf)
	}
}

func TestGeneratedTextTells(t *testing.T) {
	c := newTestClassifier(t, config.Default().Classifier)

	text := "I hope this message finds you well. Furthermore, our services can " +
		"help you delve into new markets. Moreover, we offer a complete suite."
	a, err := c.Analyze(context.Background(), messageSub(text))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, th := range a.Threats {
		if th.Type == threat.TypeAIGeneratedText {
			found = true
		}
	}
	if !found {
		t.Error("stacked generated-text phrasings not reported")
	}
}

func TestRepeatedVocabulary(t *testing.T) {
	c := newTestClassifier(t, config.Default().Classifier)

	text := ""
	for i := 0; i < 20; i++ {
		text += "best deal best deal "
	}
	a, err := c.Analyze(context.Background(), messageSub(text))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, th := range a.Threats {
		if th.Type == threat.TypeAnomalousContent {
			found = true
		}
	}
	if !found {
		t.Error("heavily repeated vocabulary not reported")
	}
}

func TestLearnBufferBounded(t *testing.T) {
	cfg := config.Default().Classifier
	cfg.BufferCap = 5
	cfg.RetrainEvery = 1000 // keep training out of this test
	c := newTestClassifier(t, cfg)

	for i := 0; i < 20; i++ {
		c.Learn(messageSub(cleanText), false)
	}
	if n := c.Stats().BufferedSamples; n != 5 {
		t.Errorf("buffer holds %d samples, want 5", n)
	}
}

func TestRetrainImprovesSeparation(t *testing.T) {
	cfg := config.Default().Classifier
	cfg.RetrainEvery = 1000 // trigger retrain manually below
	cfg.SnapshotEnabled = true
	blobs := store.NewMemory()

	c := New(context.Background(), cfg, blobs)

	for i := 0; i < 20; i++ {
		c.Learn(messageSub(spamText), true)
		c.Learn(messageSub(cleanText), false)
	}
	c.retrain()

	stats := c.Stats()
	if stats.Version != 1 {
		t.Errorf("model version %d after retrain, want 1", stats.Version)
	}
	if stats.TrainedSamples != 40 {
		t.Errorf("trained sample count %d, want 40", stats.TrainedSamples)
	}

	spamP := c.m.predict(Extract(messageSub(spamText)))
	cleanP := c.m.predict(Extract(messageSub(cleanText)))
	if spamP <= cleanP {
		t.Errorf("trained model scores spam %.3f <= clean %.3f", spamP, cleanP)
	}

	// A new classifier over the same store restores the trained model,
	// normalization statistics included.
	restored := New(context.Background(), cfg, blobs)
	if restored.Stats().Version != 1 {
		t.Errorf("restored version %d, want 1", restored.Stats().Version)
	}
	if len(restored.m.Means) != featureCount || len(restored.m.Stddevs) != featureCount {
		t.Error("restored model lost its normalization statistics")
	}
}

func TestSnapshotWidthMismatchDiscarded(t *testing.T) {
	blobs := store.NewMemory()
	snap := Snapshot{Version: 7, Weights: []float64{1, 2}, Bias: 0.5, FeatureCount: 2}
	if err := saveSnapshot(context.Background(), blobs, snap); err != nil {
		t.Fatal(err)
	}

	c := New(context.Background(), config.Default().Classifier, blobs)
	if c.Stats().Version != 0 {
		t.Error("incompatible snapshot was not discarded")
	}
}

func TestCorruptSnapshotFallsBackToSeed(t *testing.T) {
	blobs := store.NewMemory()
	if err := blobs.Set(context.Background(), modelKey, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	c := New(context.Background(), config.Default().Classifier, blobs)
	if c.Stats().Version != 0 {
		t.Errorf("version %d after corrupt snapshot, want 0", c.Stats().Version)
	}
	if conf := spamConfidence(t, c, spamText); conf == 0 {
		t.Error("seed model inactive after corrupt snapshot")
	}
}

func TestAnomalyScoreBacksUpColdModel(t *testing.T) {
	c := newTestClassifier(t, config.Default().Classifier)

	// A model zeroed out (as after heavy mistraining) must not silence the
	// threshold rules.
	c.mu.Lock()
	c.m = &model{Weights: make([]float64, featureCount), Bias: -10}
	c.mu.Unlock()

	if conf := spamConfidence(t, c, spamText); conf < config.Default().Classifier.SpamThreshold {
		t.Errorf("anomaly fallback confidence %.2f below threshold", conf)
	}
	if conf := spamConfidence(t, c, cleanText); conf != 0 {
		t.Errorf("anomaly fallback flagged a plain inquiry at %.2f", conf)
	}
}

func TestFeatureStats(t *testing.T) {
	samples := []sample{
		{Features: []float64{0.2, 0.4, 0, 0, 0, 0, 0, 0, 0, 0}},
		{Features: []float64{0.6, 0.4, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	means, stddevs := featureStats(samples)
	if means[0] != 0.4 {
		t.Errorf("mean %v, want 0.4", means[0])
	}
	if stddevs[0] != 0.2 {
		t.Errorf("stddev %v, want 0.2", stddevs[0])
	}
	// Constant features must not produce a zero divisor.
	if stddevs[1] != 1 {
		t.Errorf("constant-feature stddev %v, want 1", stddevs[1])
	}
}
