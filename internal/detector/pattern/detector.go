// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package pattern

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/threat"
)

var (
	urlRegexp   = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+|\bwww\.[a-z0-9][a-z0-9.-]+\.[a-z]{2,}\b`)
	emailRegexp = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phoneRegexp = regexp.MustCompile(`\+?\d[\d\s().-]{7,14}\d`)
	wordRegexp  = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// minEntropyLen is the minimum field length entropy is computed over; short
// values have too little signal.
const minEntropyLen = 24

// Detector is the pattern threat detector. It is stateless per request and
// safe for concurrent use.
type Detector struct {
	cfg      config.PatternConfig
	registry *Registry
	keywords []string

	mu      sync.RWMutex
	enabled bool
}

// New creates a pattern detector with the shared compiled registry.
func New(cfg config.PatternConfig, reg *Registry) *Detector {
	keywords := make([]string, 0, len(cfg.CustomKeywords))
	for _, k := range cfg.CustomKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Detector{cfg: cfg, registry: reg, keywords: keywords, enabled: true}
}

func (d *Detector) Name() string { return "pattern" }

func (d *Detector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Analyze runs every content check over each field value. No per-submission
// state is kept, so the error return is always nil; it exists to satisfy the
// Detector contract.
func (d *Detector) Analyze(_ context.Context, sub *threat.Submission) (*threat.Analysis, error) {
	var threats []threat.Threat

	for _, f := range sub.Fields {
		threats = append(threats, d.matchRegistry(f)...)
		threats = append(threats, d.checkURLs(f)...)
		threats = append(threats, d.checkFieldMismatch(f)...)
		if t, ok := d.checkEntropy(f); ok {
			threats = append(threats, t)
		}
		if t, ok := d.checkKeywordStuffing(f); ok {
			threats = append(threats, t)
		}
	}

	if t, ok := d.checkMultiplePhones(sub); ok {
		threats = append(threats, t)
	}
	if t, ok := d.checkGeoConsistency(sub); ok {
		threats = append(threats, t)
	}

	return threat.NewAnalysis(threats), nil
}

// matchRegistry applies every registered pattern to one field, reporting at
// most one threat per pattern per field.
func (d *Detector) matchRegistry(f threat.Field) []threat.Threat {
	var out []threat.Threat
	for _, p := range d.registry.All() {
		matches := p.Regex.FindAllString(f.Value, 3)
		if len(matches) == 0 {
			continue
		}
		confidence := p.Confidence
		if len(matches) > 1 {
			// Repeated hits of the same pattern harden the finding.
			confidence = math.Min(confidence+0.05*float64(len(matches)-1), 0.95)
		}
		out = append(out, threat.New(p.Type, f.Name, confidence, p.Description, p.Severity, matches...))
	}
	return out
}

// checkURLs counts links in a field and flags link-bearing identity fields.
func (d *Detector) checkURLs(f threat.Field) []threat.Threat {
	urls := urlRegexp.FindAllString(f.Value, -1)
	if len(urls) == 0 {
		return nil
	}

	var out []threat.Threat
	if isNameField(f.Name) {
		out = append(out, threat.New(threat.TypeURLInName, f.Name, 0.85,
			"URL placed in an identity field", threat.SeverityHigh, urls...))
	}
	if d.cfg.MaxURLsPerField > 0 && len(urls) > d.cfg.MaxURLsPerField {
		over := len(urls) - d.cfg.MaxURLsPerField
		confidence := math.Min(0.6+0.1*float64(over), 0.9)
		out = append(out, threat.New(threat.TypeExcessiveURLs, f.Name, confidence,
			fmt.Sprintf("%d URLs in one field (limit %d)", len(urls), d.cfg.MaxURLsPerField),
			threat.SeverityMedium, urls...))
	}

	var punycode, deepSubdomain []string
	for _, u := range urls {
		host := urlHost(u)
		if host == "" {
			continue
		}
		for _, label := range strings.Split(host, ".") {
			if strings.HasPrefix(label, "xn--") {
				punycode = append(punycode, u)
				break
			}
		}
		if strings.Count(host, ".") >= 4 {
			deepSubdomain = append(deepSubdomain, u)
		}
	}
	if len(punycode) > 0 {
		out = append(out, threat.New(threat.TypeSuspiciousURL, f.Name, 0.7,
			"punycode hostname, a common homograph-attack vehicle",
			threat.SeverityMedium, punycode...))
	}
	if len(deepSubdomain) > 0 {
		out = append(out, threat.New(threat.TypeSuspiciousURL, f.Name, 0.6,
			"deeply nested subdomains", threat.SeverityMedium, deepSubdomain...))
	}
	return out
}

// urlHost extracts the bare hostname from a matched URL string.
func urlHost(raw string) string {
	s := strings.ToLower(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	for _, sep := range []byte{'/', '?', '#'} {
		if i := strings.IndexByte(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, ".")
}

// checkFieldMismatch flags contact data appearing in fields of another kind.
func (d *Detector) checkFieldMismatch(f threat.Field) []threat.Threat {
	var out []threat.Threat
	if !isEmailField(f.Name) && !isMessageField(f.Name) {
		if emails := emailRegexp.FindAllString(f.Value, 2); len(emails) > 0 {
			out = append(out, threat.New(threat.TypeEmailMismatch, f.Name, 0.65,
				"email address in a non-email field", threat.SeverityMedium, emails...))
		}
	}
	return out
}

// checkEntropy flags fields whose Shannon entropy exceeds the configured
// threshold, which catches random-token filler.
func (d *Detector) checkEntropy(f threat.Field) (threat.Threat, bool) {
	v := strings.TrimSpace(f.Value)
	if len(v) < minEntropyLen || isEmailField(f.Name) {
		return threat.Threat{}, false
	}
	h := Entropy(v)
	if h <= d.cfg.EntropyThreshold {
		return threat.Threat{}, false
	}
	excess := h - d.cfg.EntropyThreshold
	confidence := math.Min(0.6+excess*0.2, 0.9)
	return threat.New(threat.TypeGibberishContent, f.Name, confidence,
		fmt.Sprintf("field entropy %.2f exceeds %.2f", h, d.cfg.EntropyThreshold),
		threat.SeverityMedium), true
}

// checkKeywordStuffing measures how much of a field is configured spam
// keywords.
func (d *Detector) checkKeywordStuffing(f threat.Field) (threat.Threat, bool) {
	if len(d.keywords) == 0 || !isMessageField(f.Name) {
		return threat.Threat{}, false
	}
	words := wordRegexp.FindAllString(strings.ToLower(f.Value), -1)
	if len(words) < 5 {
		return threat.Threat{}, false
	}
	hits := 0
	for _, w := range words {
		for _, k := range d.keywords {
			if w == k {
				hits++
				break
			}
		}
	}
	density := 100 * float64(hits) / float64(len(words))
	if density < d.cfg.KeywordDensityPct {
		return threat.Threat{}, false
	}
	confidence := math.Min(0.55+density/200, 0.9)
	return threat.New(threat.TypeKeywordStuffing, f.Name, confidence,
		fmt.Sprintf("%.0f%% of words are flagged keywords", density),
		threat.SeverityMedium), true
}

// checkMultiplePhones flags submissions carrying several distinct phone
// numbers across all fields.
func (d *Detector) checkMultiplePhones(sub *threat.Submission) (threat.Threat, bool) {
	seen := make(map[string]struct{})
	for _, f := range sub.Fields {
		if isPhoneField(f.Name) {
			continue // one number belongs there
		}
		for _, m := range phoneRegexp.FindAllString(f.Value, -1) {
			seen[normalizePhone(m)] = struct{}{}
		}
	}
	if len(seen) < 2 {
		return threat.Threat{}, false
	}
	return threat.New(threat.TypeMultiplePhones, "", 0.6,
		fmt.Sprintf("%d distinct phone numbers in message body", len(seen)),
		threat.SeverityMedium), true
}

// freeTLDs are registries handing out free or near-free names, heavily
// favored by throwaway spam infrastructure.
var freeTLDs = map[string]bool{
	"ru": true, "su": true, "cn": true, "tk": true, "ml": true,
	"ga": true, "cf": true, "gq": true, "top": true, "xyz": true,
}

// checkGeoConsistency flags a North American phone number paired with an
// email on a throwaway foreign TLD. Either alone is unremarkable; together
// they rarely describe a real correspondent.
func (d *Detector) checkGeoConsistency(sub *threat.Submission) (threat.Threat, bool) {
	var usPhone, foreignEmail string
	for _, f := range sub.Fields {
		if usPhone == "" {
			for _, m := range phoneRegexp.FindAllString(f.Value, -1) {
				digits := normalizePhone(m)
				if len(digits) == 11 && digits[0] == '1' {
					usPhone = m
					break
				}
			}
		}
		if foreignEmail == "" {
			for _, m := range emailRegexp.FindAllString(f.Value, 4) {
				domain := m[strings.LastIndexByte(m, '@')+1:]
				tld := domain[strings.LastIndexByte(domain, '.')+1:]
				if freeTLDs[strings.ToLower(tld)] {
					foreignEmail = m
					break
				}
			}
		}
	}
	if usPhone == "" || foreignEmail == "" {
		return threat.Threat{}, false
	}
	return threat.New(threat.TypeGeoInconsistency, "", 0.6,
		"US phone number alongside a throwaway foreign email domain",
		threat.SeverityMedium, usPhone, foreignEmail), true
}

func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isNameField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "name") && !strings.Contains(n, "username")
}

func isEmailField(name string) bool {
	return strings.Contains(strings.ToLower(name), "email")
}

func isPhoneField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "phone") || strings.Contains(n, "tel")
}

func isMessageField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "message") || strings.Contains(n, "comment") ||
		strings.Contains(n, "body") || strings.Contains(n, "description")
}

// Entropy returns the Shannon entropy of s in bits per character.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	h := 0.0
	for _, n := range freq {
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
