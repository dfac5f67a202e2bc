// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/formwarden/formwarden/internal/clock"
	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

const ruleKeyPrefix = "rule:"

// maxRuleConfidence caps what any rule match can assert.
const maxRuleConfidence = 0.95

// youngRuleDiscount reduces confidence for rules newer than the configured
// age, so a freshly added rule cannot immediately hard-block traffic at
// full strength.
const youngRuleDiscount = 0.9

// actionFloor is the minimum confidence a matching rule asserts, keyed by
// the action it requests.
var actionFloor = map[RuleAction]float64{
	ActionBlock:      0.9,
	ActionQuarantine: 0.7,
	ActionFlag:       0.5,
}

// compiledRule is a rule plus its prepared matchers and live hit state.
// lastHit holds unix nanoseconds; zero means never matched.
type compiledRule struct {
	rule       Rule
	conditions []compiledCondition
	hits       atomic.Int64
	lastHit    atomic.Int64
}

// snapshotHits copies the live counters into a Rule value for callers.
func (cr *compiledRule) snapshotHits() Rule {
	r := cr.rule
	r.HitCount = cr.hits.Load()
	if ns := cr.lastHit.Load(); ns > 0 {
		r.LastHit = time.Unix(0, ns).UTC()
	}
	return r
}

// Engine evaluates operator rules as a detection module. Rule mutations are
// persisted write-through and recompile the evaluation list atomically.
type Engine struct {
	cfg   config.RulesConfig
	blobs store.Blobs
	clk   clock.Clock

	mu      sync.RWMutex
	rules   []*compiledRule // sorted by priority descending
	enabled bool
}

// NewEngine creates the engine and loads persisted rules.
func NewEngine(ctx context.Context, cfg config.RulesConfig, blobs store.Blobs, clk clock.Clock) (*Engine, error) {
	e := &Engine{cfg: cfg, blobs: blobs, clk: clk, enabled: true}
	if err := e.load(ctx); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return e, nil
}

func (e *Engine) Name() string { return "rules" }

func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

func (e *Engine) load(ctx context.Context) error {
	var compiled []*compiledRule
	err := e.blobs.Scan(ctx, ruleKeyPrefix, func(key string, value []byte) bool {
		var r Rule
		if err := json.Unmarshal(value, &r); err != nil {
			return true // skip corrupt record
		}
		cr, err := compileRule(r)
		if err != nil {
			return true // rule validated on write; tolerate drift
		}
		cr.hits.Store(r.HitCount)
		if !r.LastHit.IsZero() {
			cr.lastHit.Store(r.LastHit.UnixNano())
		}
		compiled = append(compiled, cr)
		return true
	})
	if err != nil {
		return err
	}

	sortRules(compiled)
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

func compileRule(r Rule) (*compiledRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cr := &compiledRule{rule: r}
	for _, c := range r.Conditions {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		cr.conditions = append(cr.conditions, cc)
	}
	return cr, nil
}

func sortRules(rules []*compiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].rule.Priority > rules[j].rule.Priority
	})
}

// Analyze evaluates all enabled rules in priority order. A matching
// block-action rule short-circuits: lower-priority rules are not consulted.
func (e *Engine) Analyze(_ context.Context, sub *threat.Submission) (*threat.Analysis, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	now := e.clk.Now()
	var threats []threat.Threat

	for _, cr := range rules {
		if !cr.rule.Enabled {
			continue
		}
		evidence, matched := e.matchAll(cr, sub)
		if !matched {
			continue
		}
		cr.hits.Add(1)
		cr.lastHit.Store(now.UnixNano())

		threats = append(threats, threat.New(
			threat.TypeRuleMatch,
			"",
			e.ruleConfidence(&cr.rule, now),
			fmt.Sprintf("rule %q matched", cr.rule.Name),
			ruleSeverity(cr.rule.Action),
			evidence...,
		))

		if cr.rule.Action == ActionBlock {
			break
		}
	}

	return threat.NewAnalysis(threats), nil
}

// matchAll requires every condition to match, collecting up to three
// evidence snippets.
func (e *Engine) matchAll(cr *compiledRule, sub *threat.Submission) ([]string, bool) {
	var evidence []string
	for i := range cr.conditions {
		ev, ok := cr.conditions[i].match(sub)
		if !ok {
			return nil, false
		}
		if len(evidence) < 3 && ev != "" {
			evidence = append(evidence, ev)
		}
	}
	return evidence, true
}

// ruleConfidence derives the asserted confidence from the rule's priority
// and action floor, discounted while the rule is young and then capped.
func (e *Engine) ruleConfidence(r *Rule, now time.Time) float64 {
	c := float64(r.Priority) / 100
	if floor := actionFloor[r.Action]; floor > c {
		c = floor
	}
	if e.cfg.YoungRuleAge > 0 && now.Sub(r.CreatedAt) < e.cfg.YoungRuleAge {
		c *= youngRuleDiscount
	}
	if c > maxRuleConfidence {
		c = maxRuleConfidence
	}
	return c
}

func ruleSeverity(a RuleAction) threat.Severity {
	switch a {
	case ActionBlock:
		return threat.SeverityCritical
	case ActionQuarantine:
		return threat.SeverityHigh
	default:
		return threat.SeverityMedium
	}
}

// Add validates, persists and activates a new rule. The returned rule has
// its generated ID and timestamps set.
func (e *Engine) Add(ctx context.Context, r Rule) (Rule, error) {
	e.mu.RLock()
	count := len(e.rules)
	e.mu.RUnlock()
	if count >= e.cfg.MaxRules {
		return Rule{}, fmt.Errorf("rule limit %d reached", e.cfg.MaxRules)
	}

	r.ID = uuid.NewString()
	r.CreatedAt = e.clk.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	r.HitCount = 0

	cr, err := compileRule(r)
	if err != nil {
		return Rule{}, err
	}
	if err := e.persist(ctx, r); err != nil {
		return Rule{}, err
	}

	e.mu.Lock()
	e.rules = append(e.rules, cr)
	sortRules(e.rules)
	e.mu.Unlock()
	return r, nil
}

// Update replaces an existing rule, preserving its creation time and hits.
func (e *Engine) Update(ctx context.Context, r Rule) (Rule, error) {
	e.mu.RLock()
	var existing *compiledRule
	for _, cr := range e.rules {
		if cr.rule.ID == r.ID {
			existing = cr
			break
		}
	}
	e.mu.RUnlock()
	if existing == nil {
		return Rule{}, store.ErrNotFound
	}

	r.CreatedAt = existing.rule.CreatedAt
	r.UpdatedAt = e.clk.Now().UTC()
	r.HitCount = existing.hits.Load()
	if ns := existing.lastHit.Load(); ns > 0 {
		r.LastHit = time.Unix(0, ns).UTC()
	}

	cr, err := compileRule(r)
	if err != nil {
		return Rule{}, err
	}
	cr.hits.Store(r.HitCount)
	if !r.LastHit.IsZero() {
		cr.lastHit.Store(r.LastHit.UnixNano())
	}
	if err := e.persist(ctx, r); err != nil {
		return Rule{}, err
	}

	e.mu.Lock()
	for i := range e.rules {
		if e.rules[i].rule.ID == r.ID {
			e.rules[i] = cr
			break
		}
	}
	sortRules(e.rules)
	e.mu.Unlock()
	return r, nil
}

// Delete removes a rule.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.blobs.Delete(ctx, ruleKeyPrefix+id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].rule.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// List returns all rules with live hit state, highest priority first.
func (e *Engine) List() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, cr := range e.rules {
		out = append(out, cr.snapshotHits())
	}
	return out
}

// Get returns one rule by ID.
func (e *Engine) Get(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cr := range e.rules {
		if cr.rule.ID == id {
			return cr.snapshotHits(), nil
		}
	}
	return Rule{}, store.ErrNotFound
}

func (e *Engine) persist(ctx context.Context, r Rule) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	if err := e.blobs.Set(ctx, ruleKeyPrefix+r.ID, data); err != nil {
		return fmt.Errorf("persist rule: %w", err)
	}
	return nil
}
