// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package analytics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formwarden_submissions_total",
			Help: "Total submissions processed, by decision",
		},
		[]string{"action"},
	)

	ThreatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formwarden_threats_total",
			Help: "Total threats detected, by type",
		},
		[]string{"type"},
	)

	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formwarden_detector_duration_seconds",
			Help:    "Per-module analysis duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"module"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formwarden_detector_errors_total",
			Help: "Module failures isolated by the pipeline",
		},
		[]string{"module"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formwarden_pipeline_duration_seconds",
			Help:    "End-to-end validation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QuarantinePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "formwarden_quarantine_pending",
			Help: "Entries currently awaiting review",
		},
	)

	ClassifierVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "formwarden_classifier_model_version",
			Help: "Version of the active classifier model",
		},
	)
)

// ObserveDetector records one module run.
func ObserveDetector(module string, d time.Duration, err error) {
	DetectorDuration.WithLabelValues(module).Observe(d.Seconds())
	if err != nil {
		DetectorErrors.WithLabelValues(module).Inc()
	}
}
