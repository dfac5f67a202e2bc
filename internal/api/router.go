// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package api exposes the HTTP surface: validation, feedback, rule and list
// management, quarantine review and operational endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/formwarden/formwarden/internal/analytics"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/detector/classifier"
	"github.com/formwarden/formwarden/internal/guard"
	"github.com/formwarden/formwarden/internal/intel"
	"github.com/formwarden/formwarden/internal/logging"
	"github.com/formwarden/formwarden/internal/quarantine"
	"github.com/formwarden/formwarden/internal/rules"
	"github.com/formwarden/formwarden/internal/store"
)

// Server wires the HTTP layer to the pipeline components.
type Server struct {
	cfg        config.ServerConfig
	guard      *guard.Guard
	rules      *rules.Engine
	lists      *intel.Lists
	quarantine *quarantine.Manager
	collector  *analytics.Collector
	intel      *intel.Service
	classifier *classifier.Classifier
	blobs      store.Blobs
	validate   *validator.Validate

	httpServer *http.Server
}

// NewServer builds the server and its router.
func NewServer(
	cfg config.ServerConfig,
	g *guard.Guard,
	ruleEngine *rules.Engine,
	lists *intel.Lists,
	qm *quarantine.Manager,
	collector *analytics.Collector,
	intelSvc *intel.Service,
	cls *classifier.Classifier,
	blobs store.Blobs,
) *Server {
	s := &Server{
		cfg:        cfg,
		guard:      g,
		rules:      ruleEngine,
		lists:      lists,
		quarantine: qm,
		collector:  collector,
		intel:      intelSvc,
		classifier: cls,
		blobs:      blobs,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByRealIP(s.cfg.RequestsPerMin, time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/feedback", s.handleFeedback)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Route("/lists/{list}", func(r chi.Router) {
			r.Get("/", s.handleListEntries)
			r.Post("/", s.handleAddListEntry)
			r.Delete("/", s.handleRemoveListEntry)
		})

		r.Route("/quarantine", func(r chi.Router) {
			r.Get("/", s.handleListQuarantine)
			r.Post("/bulk-review", s.handleBulkReview)
			r.Get("/{id}", s.handleGetQuarantine)
			r.Post("/{id}/review", s.handleReview)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/report", s.handleReport)
		r.Get("/config", s.handleConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Patch("/modules/{name}", s.handleToggleModule)
	})

	return r
}

// Serve runs the HTTP server until the context is cancelled. It satisfies
// the suture service contract.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) String() string { return "http-server" }
