// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package supervisor builds the suture supervision tree. Background work
// (quarantine sweep, feed refresh, history cleanup) is isolated from the
// API layer so a crashing maintenance loop never takes the HTTP server
// down with it.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tuning. Zero values take suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
}

// Tree is the two-layer supervision tree: a root holding the API server
// directly and a background child supervisor for maintenance services.
type Tree struct {
	root       *suture.Supervisor
	background *suture.Supervisor
}

// NewTree creates the tree.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}

	hook := (&sutureslog.Handler{Logger: logger}).MustHook()
	spec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
	}

	t := &Tree{
		root:       suture.New("formwarden", spec),
		background: suture.New("background", spec),
	}
	t.root.Add(t.background)
	return t
}

// AddAPI registers a service on the root layer.
func (t *Tree) AddAPI(svc suture.Service) { t.root.Add(svc) }

// AddBackground registers a service on the background layer.
func (t *Tree) AddBackground(svc suture.Service) { t.background.Add(svc) }

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
