// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Command server runs the FormWarden detection service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/formwarden/formwarden/internal/analytics"
	"github.com/formwarden/formwarden/internal/api"
	"github.com/formwarden/formwarden/internal/clock"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/detector/behavior"
	"github.com/formwarden/formwarden/internal/detector/classifier"
	"github.com/formwarden/formwarden/internal/detector/pattern"
	"github.com/formwarden/formwarden/internal/guard"
	"github.com/formwarden/formwarden/internal/intel"
	"github.com/formwarden/formwarden/internal/logging"
	"github.com/formwarden/formwarden/internal/quarantine"
	"github.com/formwarden/formwarden/internal/rules"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/supervisor"
	"github.com/formwarden/formwarden/internal/threat"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := store.Open(cfg.Store.Path, cfg.Store.GCInterval)
	if err != nil {
		return err
	}
	defer blobs.Close()

	// Runtime overrides set through the API outlive restarts; layer them
	// over the file configuration before wiring anything.
	if data, err := blobs.Get(ctx, config.OverridesKey); err == nil {
		var overrides config.Overrides
		if err := json.Unmarshal(data, &overrides); err != nil {
			logging.Warn().Err(err).Msg("stored config overrides unreadable, using file configuration")
		} else {
			cfg.ApplyOverrides(&overrides)
		}
	}

	clk := clock.Real{}

	lists, err := intel.NewLists(ctx, blobs)
	if err != nil {
		return err
	}
	intelSvc := intel.NewService(cfg.Intel)
	defer intelSvc.Close()

	history := behavior.NewHistoryStore(cfg.Behavior.MaxTrackedIPs, cfg.Behavior.HistoryRetention, clk)
	behaviorDet := behavior.New(cfg.Behavior, history, intelSvc)

	patternDet := pattern.New(cfg.Pattern, pattern.NewRegistry())

	cls := classifier.New(ctx, cfg.Classifier, blobs)

	ruleEngine, err := rules.NewEngine(ctx, cfg.Rules, blobs, clk)
	if err != nil {
		return err
	}

	// The guard does not exist yet when the quarantine manager is built;
	// the review callback closes over the variable and fires only after
	// the supervision tree starts.
	var g *guard.Guard
	qm, err := quarantine.NewManager(ctx, cfg.Quarantine, blobs, clk, func(e *quarantine.Entry, approved bool) {
		g.ProvideFeedback(&e.Submission, !approved)
	})
	if err != nil {
		return err
	}
	qm.SetNotifier(func(e *quarantine.Entry) {
		logging.Info().
			Str("entry", e.ID).
			Str("ip", e.Submission.IP).
			Float64("confidence", e.Confidence).
			Msg("submission held for review")
	})

	collector := analytics.NewCollector(cfg.Analytics)

	detectors := []threat.Detector{patternDet, behaviorDet, cls, ruleEngine, intelSvc}
	g = guard.New(cfg.Detection, detectors, lists, qm, cls, collector)

	server := api.NewServer(cfg.Server, g, ruleEngine, lists, qm, collector, intelSvc, cls, blobs)

	tree := supervisor.NewTree(slog.New(slog.NewJSONHandler(os.Stderr, nil)), supervisor.TreeConfig{})
	tree.AddAPI(server)
	tree.AddBackground(qm)
	tree.AddBackground(intel.NewFeedFetcher(cfg.Intel, intelSvc))
	tree.AddBackground(supervisor.NewHistoryCleaner(history, cfg.Behavior.HistoryRetention/4))

	logging.Info().
		Int("port", cfg.Server.Port).
		Int("modules", len(detectors)).
		Msg("formwarden starting")

	return tree.Serve(ctx)
}
