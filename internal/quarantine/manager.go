// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package quarantine holds suspicious submissions for human review. Entries
// move through a one-way state machine: pending to approved, rejected or
// expired. A reviewed or expired entry can never change state again.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/formwarden/formwarden/internal/clock"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/logging"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

// Expected failures callers branch on.
var (
	ErrNotFound        = errors.New("quarantine: entry not found")
	ErrAlreadyReviewed = errors.New("quarantine: entry already reviewed")
)

const entryKeyPrefix = "quarantine:"

// State is the review state of a quarantined entry.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Entry is one held submission with the evidence that put it there.
type Entry struct {
	ID         string            `json:"id"`
	Submission threat.Submission `json:"submission"`
	Threats    []threat.Threat   `json:"threats"`
	Confidence float64           `json:"confidence"`
	State      State             `json:"state"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty"`
	Reviewer   string            `json:"reviewer,omitempty"`
	Note       string            `json:"note,omitempty"`
}

// ReviewFunc is notified after a successful review so the classifier can
// learn from the verdict. approved=true means the content was legitimate.
type ReviewFunc func(e *Entry, approved bool)

// Manager owns the quarantine store: admission, review, expiry and
// capacity eviction. All entries are kept in memory and written through to
// the blob store.
type Manager struct {
	cfg      config.QuarantineConfig
	blobs    store.Blobs
	clk      clock.Clock
	onReview ReviewFunc
	onAdmit  NotifyFunc

	mu      sync.Mutex
	entries map[string]*Entry
}

// NotifyFunc is called after a submission is admitted, outside the manager
// lock. Implementations must not call back into the manager synchronously.
type NotifyFunc func(e *Entry)

// SetNotifier installs the admission callback. Call before the manager
// starts serving.
func (m *Manager) SetNotifier(fn NotifyFunc) { m.onAdmit = fn }

// NewManager creates the manager and restores persisted entries. onReview
// may be nil.
func NewManager(ctx context.Context, cfg config.QuarantineConfig, blobs store.Blobs, clk clock.Clock, onReview ReviewFunc) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		blobs:    blobs,
		clk:      clk,
		onReview: onReview,
		entries:  make(map[string]*Entry),
	}
	err := blobs.Scan(ctx, entryKeyPrefix, func(key string, value []byte) bool {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return true // skip corrupt record
		}
		m.entries[e.ID] = &e
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("load quarantine entries: %w", err)
	}
	return m, nil
}

// Add admits a submission into quarantine and returns the new entry ID.
// When the store is at capacity, expired entries are evicted first, then the
// oldest reviewed ones, then the oldest pending ones.
func (m *Manager) Add(ctx context.Context, sub *threat.Submission, threats []threat.Threat, confidence float64) (string, error) {
	now := m.clk.Now().UTC()
	e := &Entry{
		ID:         uuid.NewString(),
		Submission: *sub,
		Threats:    threats,
		Confidence: confidence,
		State:      StatePending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.TTL),
	}

	m.mu.Lock()
	m.expireDueLocked(ctx, now)
	for len(m.entries) >= m.cfg.MaxEntries {
		if !m.evictOneLocked(ctx) {
			break
		}
	}
	m.entries[e.ID] = e
	m.mu.Unlock()

	if err := m.persist(ctx, e); err != nil {
		return "", err
	}
	if m.onAdmit != nil {
		snapshot := *e
		m.onAdmit(&snapshot)
	}
	return e.ID, nil
}

// Get returns one entry by ID.
func (m *Manager) Get(id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

// List returns entries filtered by state (empty state means all), newest
// first.
func (m *Manager) List(state State) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if state != "" && e.State != state {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Review settles a pending entry. Approving releases the submission as
// legitimate; rejecting confirms it as abuse. Reviewing an entry that is
// not pending returns ErrAlreadyReviewed no matter how often it is retried.
func (m *Manager) Review(ctx context.Context, id string, approve bool, reviewer, note string) (Entry, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	if e.State != StatePending {
		m.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: state %s", ErrAlreadyReviewed, e.State)
	}

	now := m.clk.Now().UTC()
	if now.After(e.ExpiresAt) {
		e.State = StateExpired
		snapshot := *e
		m.mu.Unlock()
		m.persistBestEffort(ctx, &snapshot)
		return Entry{}, fmt.Errorf("%w: state %s", ErrAlreadyReviewed, StateExpired)
	}

	if approve {
		e.State = StateApproved
	} else {
		e.State = StateRejected
	}
	e.ReviewedAt = &now
	e.Reviewer = reviewer
	e.Note = note
	snapshot := *e
	m.mu.Unlock()

	if err := m.persist(ctx, &snapshot); err != nil {
		return Entry{}, err
	}
	if m.onReview != nil {
		m.onReview(&snapshot, approve)
	}
	return snapshot, nil
}

// BulkReviewResult reports one item of a bulk review.
type BulkReviewResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// BulkReview reviews many entries with the same verdict. Failures are
// isolated per entry; one bad ID never aborts the rest.
func (m *Manager) BulkReview(ctx context.Context, ids []string, approve bool, reviewer, note string) []BulkReviewResult {
	out := make([]BulkReviewResult, 0, len(ids))
	for _, id := range ids {
		res := BulkReviewResult{ID: id}
		if _, err := m.Review(ctx, id, approve, reviewer, note); err != nil {
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out
}

// ExpireDue transitions every overdue pending entry to expired and returns
// how many changed.
func (m *Manager) ExpireDue(ctx context.Context) int {
	m.mu.Lock()
	expired := m.expireDueLocked(ctx, m.clk.Now().UTC())
	m.mu.Unlock()
	return expired
}

// expireDueLocked flips overdue pending entries. Persistence is best effort
// inside the sweep; the in-memory state is authoritative.
func (m *Manager) expireDueLocked(ctx context.Context, now time.Time) int {
	n := 0
	for _, e := range m.entries {
		if e.State == StatePending && now.After(e.ExpiresAt) {
			e.State = StateExpired
			m.persistBestEffort(ctx, e)
			n++
		}
	}
	return n
}

// evictOneLocked removes the best eviction candidate: any expired entry,
// else the oldest reviewed entry, else the oldest pending entry. Returns
// false when the store is empty.
func (m *Manager) evictOneLocked(ctx context.Context) bool {
	var victim *Entry
	rank := func(e *Entry) int {
		switch e.State {
		case StateExpired:
			return 0
		case StateApproved, StateRejected:
			return 1
		default:
			return 2
		}
	}
	for _, e := range m.entries {
		if victim == nil {
			victim = e
			continue
		}
		re, rv := rank(e), rank(victim)
		if re < rv || (re == rv && e.CreatedAt.Before(victim.CreatedAt)) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	delete(m.entries, victim.ID)
	if err := m.blobs.Delete(ctx, entryKeyPrefix+victim.ID); err != nil {
		logging.Warn().Err(err).Str("id", victim.ID).Msg("quarantine eviction delete failed")
	}
	return true
}

// Counts returns entry counts per state.
func (m *Manager) Counts() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[State]int, 4)
	for _, e := range m.entries {
		out[e.State]++
	}
	return out
}

// Serve runs the expiry sweep until the context is cancelled. It satisfies
// the suture service contract.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.ExpireDue(ctx); n > 0 {
				logging.Debug().Int("expired", n).Msg("quarantine sweep")
			}
		}
	}
}

func (m *Manager) String() string { return "quarantine-manager" }

func (m *Manager) persist(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal quarantine entry: %w", err)
	}
	if err := m.blobs.Set(ctx, entryKeyPrefix+e.ID, data); err != nil {
		return fmt.Errorf("persist quarantine entry: %w", err)
	}
	return nil
}

func (m *Manager) persistBestEffort(ctx context.Context, e *Entry) {
	if err := m.persist(ctx, e); err != nil {
		logging.Warn().Err(err).Str("id", e.ID).Msg("quarantine persist failed")
	}
}
