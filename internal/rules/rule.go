// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package rules implements the operator-defined rule engine. Rules are
// persisted as JSON, validated and compiled at load, and evaluated in
// priority order against each submission.
package rules

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/formwarden/formwarden/internal/threat"
)

// AnyField is the field selector matching the concatenation of all fields.
const AnyField = "any"

// ConditionKind discriminates the condition variants. Each kind uses a
// fixed subset of the Condition payload; Compile rejects anything else.
type ConditionKind string

const (
	KindContains     ConditionKind = "contains"       // Field, Value (substring)
	KindEquals       ConditionKind = "equals"         // Field, Value
	KindRegex        ConditionKind = "regex"          // Field, Pattern
	KindGreater      ConditionKind = "greater"        // Field, Threshold (float parse)
	KindLess         ConditionKind = "less"           // Field, Threshold (float parse)
	KindIn           ConditionKind = "in"             // Field, Values (set membership)
	KindNotIn        ConditionKind = "not_in"         // Field, Values (set exclusion)
	KindLengthOver   ConditionKind = "length_over"    // Field, Threshold
	KindFieldEmpty   ConditionKind = "field_empty"    // Field
	KindIPInCIDR     ConditionKind = "ip_in_cidr"     // Value (CIDR)
	KindEmailDomain  ConditionKind = "email_domain"   // Value (domain)
	KindURLCountOver ConditionKind = "url_count_over" // Field, Threshold
)

// Condition is one tagged-variant predicate of a rule. Text comparisons are
// case-insensitive unless CaseSensitive is set.
type Condition struct {
	Kind          ConditionKind `json:"kind"`
	Field         string        `json:"field,omitempty"`
	Value         string        `json:"value,omitempty"`
	Values        []string      `json:"values,omitempty"`
	Pattern       string        `json:"pattern,omitempty"`
	Threshold     float64       `json:"threshold,omitempty"`
	CaseSensitive bool          `json:"case_sensitive,omitempty"`
}

// RuleAction is what a matching rule requests.
type RuleAction string

const (
	ActionFlag       RuleAction = "flag"
	ActionQuarantine RuleAction = "quarantine"
	ActionBlock      RuleAction = "block"
)

// Rule is the persisted operator-defined rule.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Enabled     bool        `json:"enabled"`
	Priority    int         `json:"priority"` // 0-100, higher evaluates first
	Action      RuleAction  `json:"action"`
	Conditions  []Condition `json:"conditions"` // all must match
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	HitCount    int64       `json:"hit_count"`
	LastHit     time.Time   `json:"last_hit"`
}

// compiledCondition pairs a condition with its prepared matcher state.
type compiledCondition struct {
	cond  Condition
	re    *regexp.Regexp
	ipnet *net.IPNet
}

var ruleURLRegexp = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)

// compileCondition validates a condition and prepares its matcher.
func compileCondition(c Condition) (compiledCondition, error) {
	cc := compiledCondition{cond: c}
	switch c.Kind {
	case KindContains, KindEquals:
		if c.Field == "" || c.Value == "" {
			return cc, fmt.Errorf("%s condition requires field and value", c.Kind)
		}
	case KindRegex:
		if c.Field == "" || c.Pattern == "" {
			return cc, fmt.Errorf("regex condition requires field and pattern")
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return cc, fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
		}
		cc.re = re
	case KindGreater, KindLess:
		if c.Field == "" || c.Field == AnyField {
			return cc, fmt.Errorf("%s condition requires a concrete field", c.Kind)
		}
	case KindIn, KindNotIn:
		if c.Field == "" || len(c.Values) == 0 {
			return cc, fmt.Errorf("%s condition requires field and values", c.Kind)
		}
	case KindLengthOver, KindURLCountOver:
		if c.Field == "" || c.Threshold <= 0 {
			return cc, fmt.Errorf("%s condition requires field and positive threshold", c.Kind)
		}
	case KindFieldEmpty:
		if c.Field == "" || c.Field == AnyField {
			return cc, fmt.Errorf("field_empty condition requires a concrete field")
		}
	case KindIPInCIDR:
		_, ipnet, err := net.ParseCIDR(c.Value)
		if err != nil {
			return cc, fmt.Errorf("invalid CIDR %q: %w", c.Value, err)
		}
		cc.ipnet = ipnet
	case KindEmailDomain:
		if c.Value == "" {
			return cc, fmt.Errorf("email_domain condition requires a value")
		}
	default:
		return cc, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return cc, nil
}

// match evaluates the condition and returns a short evidence snippet on
// success.
func (cc *compiledCondition) match(sub *threat.Submission) (string, bool) {
	c := cc.cond
	switch c.Kind {
	case KindContains:
		text := fieldText(sub, c.Field)
		if idx := strings.Index(cc.fold(text), cc.fold(c.Value)); idx >= 0 {
			return snippet(text, idx, len(c.Value)), true
		}
	case KindEquals:
		if v, ok := sub.FieldValue(c.Field); ok && cc.fold(strings.TrimSpace(v)) == cc.fold(c.Value) {
			return v, true
		}
	case KindRegex:
		text := fieldText(sub, c.Field)
		if m := cc.re.FindString(text); m != "" {
			return m, true
		}
	case KindGreater, KindLess:
		v, ok := sub.FieldValue(c.Field)
		if !ok {
			return "", false
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return "", false
		}
		if (c.Kind == KindGreater && n > c.Threshold) || (c.Kind == KindLess && n < c.Threshold) {
			return fmt.Sprintf("%s = %v", c.Field, v), true
		}
	case KindIn, KindNotIn:
		v, ok := sub.FieldValue(c.Field)
		if !ok {
			return "", false
		}
		member := false
		for _, candidate := range c.Values {
			if cc.fold(strings.TrimSpace(v)) == cc.fold(candidate) {
				member = true
				break
			}
		}
		if member == (c.Kind == KindIn) {
			return v, true
		}
	case KindLengthOver:
		text := fieldText(sub, c.Field)
		if float64(len(text)) > c.Threshold {
			return fmt.Sprintf("%s length %d", c.Field, len(text)), true
		}
	case KindFieldEmpty:
		v, ok := sub.FieldValue(c.Field)
		if !ok || strings.TrimSpace(v) == "" {
			return c.Field + " empty", true
		}
	case KindIPInCIDR:
		if ip := net.ParseIP(sub.IP); ip != nil && cc.ipnet.Contains(ip) {
			return sub.IP, true
		}
	case KindEmailDomain:
		for _, f := range sub.Fields {
			if !strings.Contains(strings.ToLower(f.Name), "email") {
				continue
			}
			if _, domain, ok := strings.Cut(strings.ToLower(f.Value), "@"); ok &&
				strings.TrimSpace(domain) == strings.ToLower(c.Value) {
				return f.Value, true
			}
		}
	case KindURLCountOver:
		text := fieldText(sub, c.Field)
		if n := len(ruleURLRegexp.FindAllString(text, -1)); float64(n) > c.Threshold {
			return fmt.Sprintf("%d URLs", n), true
		}
	}
	return "", false
}

// fold lowers text for comparison unless the condition is case sensitive.
func (cc *compiledCondition) fold(s string) string {
	if cc.cond.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func fieldText(sub *threat.Submission, field string) string {
	if field == AnyField {
		return sub.AllText()
	}
	v, _ := sub.FieldValue(field)
	return v
}

// snippet returns the matched span with up to 20 bytes of context on each
// side, widened to rune boundaries so multi-byte characters never split.
func snippet(text string, idx, n int) string {
	start := idx - 20
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	end := idx + n + 20
	if end > len(text) {
		end = len(text)
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return text[start:end]
}

// Validate checks a rule before compilation.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return fmt.Errorf("rule priority must be 0-100, got %d", r.Priority)
	}
	switch r.Action {
	case ActionFlag, ActionQuarantine, ActionBlock:
	default:
		return fmt.Errorf("unknown rule action %q", r.Action)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule needs at least one condition")
	}
	return nil
}
