// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package api

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/formwarden/formwarden/internal/analytics"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/intel"
	"github.com/formwarden/formwarden/internal/logging"
	"github.com/formwarden/formwarden/internal/quarantine"
	"github.com/formwarden/formwarden/internal/rules"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

// fieldPayload is one submitted form field.
type fieldPayload struct {
	Name  string `json:"name" validate:"required,max=128"`
	Value string `json:"value" validate:"max=65536"`
}

// validateRequest is the submission payload.
type validateRequest struct {
	SessionID string          `json:"session_id" validate:"omitempty,max=128"`
	Fields    []fieldPayload  `json:"fields" validate:"required,min=1,max=64,dive"`
	Metadata  threat.Metadata `json:"metadata"`
	IP        string          `json:"ip" validate:"omitempty,ip"`
	UserAgent string          `json:"user_agent" validate:"omitempty,max=512"`
	Referrer  string          `json:"referrer" validate:"omitempty,max=2048"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	sub := &threat.Submission{
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Referrer:  req.Referrer,
		Timestamp: time.Now().UTC(),
	}
	for _, f := range req.Fields {
		sub.Fields = append(sub.Fields, threat.Field{Name: f.Name, Value: f.Value})
	}
	// Fall back to the transport source when the proxy did not supply one.
	if sub.IP == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			sub.IP = host
		} else {
			sub.IP = r.RemoteAddr
		}
	}
	if sub.UserAgent == "" {
		sub.UserAgent = r.UserAgent()
	}

	res, err := s.guard.Validate(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// feedbackRequest labels a submission for online learning.
type feedbackRequest struct {
	Fields    []fieldPayload  `json:"fields" validate:"required,min=1,max=64,dive"`
	Metadata  threat.Metadata `json:"metadata"`
	IP        string          `json:"ip" validate:"omitempty,ip"`
	UserAgent string          `json:"user_agent" validate:"omitempty,max=512"`
	Spam      *bool           `json:"spam" validate:"required"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	sub := &threat.Submission{Metadata: req.Metadata, IP: req.IP, UserAgent: req.UserAgent}
	for _, f := range req.Fields {
		sub.Fields = append(sub.Fields, threat.Field{Name: f.Name, Value: f.Value})
	}
	s.guard.ProvideFeedback(sub, *req.Spam)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rules.List())
}

// rulePayload is the write shape for rules.
type rulePayload struct {
	Name        string            `json:"name" validate:"required,max=128"`
	Description string            `json:"description" validate:"max=1024"`
	Enabled     bool              `json:"enabled"`
	Priority    int               `json:"priority" validate:"min=0,max=100"`
	Action      rules.RuleAction  `json:"action" validate:"required,oneof=flag quarantine block"`
	Conditions  []rules.Condition `json:"conditions" validate:"required,min=1,max=16"`
}

func (p *rulePayload) toRule() rules.Rule {
	return rules.Rule{
		Name:        p.Name,
		Description: p.Description,
		Enabled:     p.Enabled,
		Priority:    p.Priority,
		Action:      p.Action,
		Conditions:  p.Conditions,
	}
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req rulePayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	rule, err := s.rules.Add(r.Context(), req.toRule())
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req rulePayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	rule := req.toRule()
	rule.ID = chi.URLParam(r, "id")
	updated, err := s.rules.Update(r.Context(), rule)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listNameParam(r *http.Request) (intel.ListName, bool) {
	switch chi.URLParam(r, "list") {
	case "whitelist":
		return intel.Whitelist, true
	case "blacklist":
		return intel.Blacklist, true
	}
	return "", false
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	name, ok := listNameParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown list")
		return
	}
	writeJSON(w, http.StatusOK, s.lists.Entries(name))
}

// listEntryPayload is the write shape for list entries.
type listEntryPayload struct {
	Kind   intel.EntryKind `json:"kind" validate:"required,oneof=ip email domain hash"`
	Value  string          `json:"value" validate:"required,max=256"`
	Reason string          `json:"reason" validate:"max=512"`
}

func (s *Server) handleAddListEntry(w http.ResponseWriter, r *http.Request) {
	name, ok := listNameParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown list")
		return
	}
	var req listEntryPayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.lists.Add(r.Context(), name, req.Kind, req.Value, req.Reason); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveListEntry(w http.ResponseWriter, r *http.Request) {
	name, ok := listNameParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown list")
		return
	}
	var req listEntryPayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.lists.Remove(r.Context(), name, req.Kind, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	state := quarantine.State(r.URL.Query().Get("state"))
	switch state {
	case "", quarantine.StatePending, quarantine.StateApproved, quarantine.StateRejected, quarantine.StateExpired:
	default:
		writeError(w, http.StatusBadRequest, "unknown state %q", state)
		return
	}
	writeJSON(w, http.StatusOK, s.quarantine.List(state))
}

func (s *Server) handleGetQuarantine(w http.ResponseWriter, r *http.Request) {
	entry, err := s.quarantine.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// reviewPayload settles one quarantined entry.
type reviewPayload struct {
	Approve  *bool  `json:"approve" validate:"required"`
	Reviewer string `json:"reviewer" validate:"omitempty,max=128"`
	Note     string `json:"note" validate:"max=1024"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewPayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	entry, err := s.quarantine.Review(r.Context(), chi.URLParam(r, "id"), *req.Approve, req.Reviewer, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, quarantine.ErrNotFound):
			writeError(w, http.StatusNotFound, "entry not found")
		case errors.Is(err, quarantine.ErrAlreadyReviewed):
			writeError(w, http.StatusConflict, "%v", err)
		default:
			writeError(w, http.StatusInternalServerError, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// bulkReviewPayload settles many entries with one verdict.
type bulkReviewPayload struct {
	IDs      []string `json:"ids" validate:"required,min=1,max=500"`
	Approve  *bool    `json:"approve" validate:"required"`
	Reviewer string   `json:"reviewer" validate:"omitempty,max=128"`
	Note     string   `json:"note" validate:"max=1024"`
}

func (s *Server) handleBulkReview(w http.ResponseWriter, r *http.Request) {
	var req bulkReviewPayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	results := s.quarantine.BulkReview(r.Context(), req.IDs, *req.Approve, req.Reviewer, req.Note)
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline":   s.collector.Snapshot(),
		"quarantine": s.quarantine.Counts(),
		"classifier": s.classifier.Stats(),
		"intel":      s.intel.CacheStats(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := analytics.ReportFormat(r.URL.Query().Get("format"))
	body, contentType, err := s.collector.BuildReport(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// moduleState reports one detection module's toggle.
type moduleState struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configView())
}

// configView reports the live detection settings, which may differ from the
// file configuration after runtime overrides.
func (s *Server) configView() map[string]any {
	modules := make([]moduleState, 0)
	for _, d := range s.guard.Detectors() {
		modules = append(modules, moduleState{Name: d.Name(), Enabled: d.Enabled()})
	}
	block, quarantineThr := s.guard.Thresholds()
	return map[string]any{
		"block_threshold":      block,
		"quarantine_threshold": quarantineThr,
		"strict_mode":          s.guard.StrictMode(),
		"learning_mode":        s.guard.LearningMode(),
		"modules":              modules,
	}
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req config.Overrides
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	block, quarantineThr := s.guard.Thresholds()
	if req.BlockThreshold != nil {
		block = *req.BlockThreshold
	}
	if req.QuarantineThreshold != nil {
		quarantineThr = *req.QuarantineThreshold
	}
	if err := s.guard.SetThresholds(block, quarantineThr); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.StrictMode != nil {
		s.guard.SetStrictMode(*req.StrictMode)
	}
	if req.LearningMode != nil {
		s.guard.SetLearningMode(*req.LearningMode)
	}
	if req.DisabledModules != nil {
		disabled := make(map[string]bool, len(req.DisabledModules))
		for _, name := range req.DisabledModules {
			disabled[name] = true
		}
		for _, d := range s.guard.Detectors() {
			d.SetEnabled(!disabled[d.Name()])
		}
	}

	// Merge onto any previously persisted overrides so a field set in an
	// earlier request survives this one.
	merged := config.Overrides{}
	if data, err := s.blobs.Get(r.Context(), config.OverridesKey); err == nil {
		if err := json.Unmarshal(data, &merged); err != nil {
			merged = config.Overrides{}
		}
	}
	if req.BlockThreshold != nil {
		merged.BlockThreshold = req.BlockThreshold
	}
	if req.QuarantineThreshold != nil {
		merged.QuarantineThreshold = req.QuarantineThreshold
	}
	if req.StrictMode != nil {
		merged.StrictMode = req.StrictMode
	}
	if req.LearningMode != nil {
		merged.LearningMode = req.LearningMode
	}
	if req.DisabledModules != nil {
		merged.DisabledModules = req.DisabledModules
	}
	if data, err := json.Marshal(merged); err == nil {
		if err := s.blobs.Set(r.Context(), config.OverridesKey, data); err != nil {
			logging.Error().Err(err).Msg("persisting config overrides failed")
		}
	}

	writeJSON(w, http.StatusOK, s.configView())
}

// togglePayload enables or disables one module at runtime.
type togglePayload struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Server) handleToggleModule(w http.ResponseWriter, r *http.Request) {
	var req togglePayload
	if !s.decodeBody(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	for _, d := range s.guard.Detectors() {
		if d.Name() == name {
			d.SetEnabled(*req.Enabled)
			writeJSON(w, http.StatusOK, moduleState{Name: name, Enabled: d.Enabled()})
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown module %q", name)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
