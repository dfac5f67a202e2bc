// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/formwarden/formwarden/internal/store"
)

// modelKey is where the current model snapshot lives in the blob store.
const modelKey = "model:current"

// defaultWeights seed the model before any feedback has arrived. They mirror
// the heuristic importance of each feature so a cold-start model is already
// a usable prior rather than a coin flip.
var defaultWeights = []float64{0.3, 0.8, 1.2, 1.5, 1.0, 0.8, 2.5, 1.0, 1.2, 1.8}

const defaultBias = -2.0

// model is a logistic regression over the fixed feature vector, with
// per-feature normalization statistics learned from the training buffer. It
// is an immutable value: training builds a new model and the owner swaps the
// pointer under its own lock.
type model struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means,omitempty"`
	Stddevs []float64 `json:"stddevs,omitempty"`
}

func newDefaultModel() *model {
	w := make([]float64, len(defaultWeights))
	copy(w, defaultWeights)
	return &model{Weights: w, Bias: defaultBias}
}

// normalize standardizes one feature. A model without statistics (the seed
// model, or one restored from an old snapshot) passes features through raw.
func (m *model) normalize(i int, f float64) float64 {
	if i < len(m.Means) && i < len(m.Stddevs) && m.Stddevs[i] > 0 {
		return (f - m.Means[i]) / m.Stddevs[i]
	}
	return f
}

// predict returns the spam probability for one feature vector.
func (m *model) predict(features []float64) float64 {
	z := m.Bias
	for i, f := range features {
		if i >= len(m.Weights) {
			break
		}
		z += m.Weights[i] * m.normalize(i, f)
	}
	return sigmoid(z)
}

// sample is one labeled training example.
type sample struct {
	Features []float64 `json:"features"`
	Spam     bool      `json:"spam"`
}

// train runs batch gradient descent from the current model and returns the
// trained successor. The receiver is not modified; the successor carries the
// receiver's normalization statistics.
func (m *model) train(samples []sample, learningRate float64, epochs int) *model {
	next := &model{
		Weights: make([]float64, len(m.Weights)),
		Bias:    m.Bias,
		Means:   m.Means,
		Stddevs: m.Stddevs,
	}
	copy(next.Weights, m.Weights)
	if len(samples) == 0 {
		return next
	}

	n := float64(len(samples))
	for epoch := 0; epoch < epochs; epoch++ {
		gradW := make([]float64, len(next.Weights))
		gradB := 0.0
		for _, s := range samples {
			p := next.predict(s.Features)
			target := 0.0
			if s.Spam {
				target = 1.0
			}
			err := p - target
			for i, f := range s.Features {
				if i < len(gradW) {
					gradW[i] += err * next.normalize(i, f)
				}
			}
			gradB += err
		}
		for i := range next.Weights {
			next.Weights[i] -= learningRate * gradW[i] / n
		}
		next.Bias -= learningRate * gradB / n
	}
	return next
}

// featureStats computes per-feature mean and standard deviation over a
// sample set. Features with no variance get a unit stddev so normalization
// never divides by zero.
func featureStats(samples []sample) (means, stddevs []float64) {
	means = make([]float64, featureCount)
	stddevs = make([]float64, featureCount)
	if len(samples) == 0 {
		for i := range stddevs {
			stddevs[i] = 1
		}
		return means, stddevs
	}

	n := float64(len(samples))
	for _, s := range samples {
		for i, f := range s.Features {
			if i < featureCount {
				means[i] += f
			}
		}
	}
	for i := range means {
		means[i] /= n
	}
	for _, s := range samples {
		for i, f := range s.Features {
			if i < featureCount {
				d := f - means[i]
				stddevs[i] += d * d
			}
		}
	}
	for i := range stddevs {
		stddevs[i] = math.Sqrt(stddevs[i] / n)
		if stddevs[i] < 1e-6 {
			stddevs[i] = 1
		}
	}
	return means, stddevs
}

// Snapshot is the persisted form of a trained model. Version increments on
// every save so operators can correlate behavior changes with retrains.
type Snapshot struct {
	Version      int       `json:"version"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Means        []float64 `json:"means,omitempty"`
	Stddevs      []float64 `json:"stddevs,omitempty"`
	SampleCount  int       `json:"sample_count"`
	TrainedAt    time.Time `json:"trained_at"`
	FeatureCount int       `json:"feature_count"`
}

// saveSnapshot persists the model to the blob store.
func saveSnapshot(ctx context.Context, blobs store.Blobs, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal model snapshot: %w", err)
	}
	if err := blobs.Set(ctx, modelKey, data); err != nil {
		return fmt.Errorf("persist model snapshot: %w", err)
	}
	return nil
}

// loadSnapshot restores the latest snapshot, returning ok=false when none
// exists or the stored vector width no longer matches.
func loadSnapshot(ctx context.Context, blobs store.Blobs) (Snapshot, bool, error) {
	data, err := blobs.Get(ctx, modelKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("load model snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal model snapshot: %w", err)
	}
	if snap.FeatureCount != featureCount || len(snap.Weights) != featureCount {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}
