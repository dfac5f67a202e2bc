// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package pattern implements content-based threat detection over form field
// values. All regexes are compiled once at registry construction and shared
// across requests; per-request work is matching only.
package pattern

import (
	"regexp"

	"github.com/formwarden/formwarden/internal/threat"
)

// Pattern holds a compiled regex with its threat metadata.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Type        threat.Type
	Severity    threat.Severity
	Confidence  float64
	Description string
}

// Registry holds all compiled patterns grouped by threat type.
type Registry struct {
	byType map[threat.Type][]*Pattern
	all    []*Pattern
}

// NewRegistry compiles and returns the full pattern set.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[threat.Type][]*Pattern)}
	r.registerFinancialScamPatterns()
	r.registerURLPatterns()
	r.registerContactPatterns()
	r.registerSocialEngineeringPatterns()
	r.registerInjectionPatterns()
	return r
}

func (r *Registry) add(p *Pattern) {
	r.byType[p.Type] = append(r.byType[p.Type], p)
	r.all = append(r.all, p)
}

// ByType returns patterns for one threat type.
func (r *Registry) ByType(t threat.Type) []*Pattern { return r.byType[t] }

// All returns every registered pattern.
func (r *Registry) All() []*Pattern { return r.all }

func (r *Registry) registerFinancialScamPatterns() {
	r.add(&Pattern{
		Name:        "crypto_investment_pitch",
		Regex:       regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|crypto(currency)?|binary\s+options?|forex)\b.{0,80}\b(invest(ment|or)?|profit|returns?|earn(ings?)?|double|triple|multiply)\b`),
		Type:        threat.TypeCryptoScam,
		Severity:    threat.SeverityHigh,
		Confidence:  0.85,
		Description: "cryptocurrency investment solicitation",
	})
	r.add(&Pattern{
		Name:        "guaranteed_returns",
		Regex:       regexp.MustCompile(`(?i)\b(guaranteed|risk[\s-]?free|passive)\s+(income|profits?|returns?)\b`),
		Type:        threat.TypeInvestmentFraud,
		Severity:    threat.SeverityHigh,
		Confidence:  0.8,
		Description: "guaranteed-return investment language",
	})
	r.add(&Pattern{
		Name:        "daily_percentage_returns",
		Regex:       regexp.MustCompile(`(?i)\b\d{1,3}\s?%\s*(daily|weekly|per\s+(day|week))\b`),
		Type:        threat.TypeInvestmentFraud,
		Severity:    threat.SeverityHigh,
		Confidence:  0.85,
		Description: "implausible periodic return rate",
	})
	r.add(&Pattern{
		Name:        "btc_address",
		Regex:       regexp.MustCompile(`\b(bc1[a-z0-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
		Type:        threat.TypeCryptoAddress,
		Severity:    threat.SeverityHigh,
		Confidence:  0.75,
		Description: "bitcoin wallet address",
	})
	r.add(&Pattern{
		Name:        "eth_address",
		Regex:       regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`),
		Type:        threat.TypeCryptoAddress,
		Severity:    threat.SeverityHigh,
		Confidence:  0.75,
		Description: "ethereum wallet address",
	})
	r.add(&Pattern{
		Name:        "advance_fee",
		Regex:       regexp.MustCompile(`(?i)\b(processing|transfer|release|upfront|administration)\s+fee\b.{0,80}\b(million|inheritance|funds?|lottery|beneficiary)\b`),
		Type:        threat.TypeAdvanceFeeFraud,
		Severity:    threat.SeverityHigh,
		Confidence:  0.85,
		Description: "advance-fee fraud narrative",
	})
	r.add(&Pattern{
		Name:        "inheritance_claim",
		Regex:       regexp.MustCompile(`(?i)\b(unclaimed|inheritance|next\s+of\s+kin|deceased\s+client)\b.{0,80}\b(\$|usd|million|funds?)\b`),
		Type:        threat.TypeAdvanceFeeFraud,
		Severity:    threat.SeverityHigh,
		Confidence:  0.8,
		Description: "inheritance or unclaimed funds claim",
	})
}

func (r *Registry) registerURLPatterns() {
	r.add(&Pattern{
		Name:        "url_shortener",
		Regex:       regexp.MustCompile(`(?i)\bhttps?://(bit\.ly|tinyurl\.com|t\.co|goo\.gl|is\.gd|cutt\.ly|rb\.gy|shorturl\.at)/\S+`),
		Type:        threat.TypeExcessiveURLs,
		Severity:    threat.SeverityHigh,
		Confidence:  0.8,
		Description: "shortened URL hides destination",
	})
	r.add(&Pattern{
		Name:        "suspicious_tld",
		Regex:       regexp.MustCompile(`(?i)\bhttps?://[a-z0-9.-]+\.(tk|ml|ga|cf|gq|top|xyz|click|loan|work|racing)\b\S*`),
		Type:        threat.TypeSuspiciousURL,
		Severity:    threat.SeverityMedium,
		Confidence:  0.65,
		Description: "URL on a high-abuse TLD",
	})
	r.add(&Pattern{
		Name:        "ip_literal_url",
		Regex:       regexp.MustCompile(`(?i)\bhttps?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b\S*`),
		Type:        threat.TypeSuspiciousURL,
		Severity:    threat.SeverityMedium,
		Confidence:  0.7,
		Description: "URL addressed by raw IP",
	})
}

func (r *Registry) registerContactPatterns() {
	r.add(&Pattern{
		Name:        "suspicious_email_local",
		Regex:       regexp.MustCompile(`(?i)\b[a-z]{1,3}\d{5,}@`),
		Type:        threat.TypeSuspiciousEmail,
		Severity:    threat.SeverityMedium,
		Confidence:  0.6,
		Description: "machine-generated email local part",
	})
	r.add(&Pattern{
		Name:        "disposable_email_domain",
		Regex:       regexp.MustCompile(`(?i)@(mailinator\.com|guerrillamail\.com|10minutemail\.com|tempmail\.(com|org|net)|throwaway\.email|yopmail\.com|sharklasers\.com|trashmail\.com)\b`),
		Type:        threat.TypeDisposableEmail,
		Severity:    threat.SeverityMedium,
		Confidence:  0.75,
		Description: "disposable email provider",
	})
}

func (r *Registry) registerSocialEngineeringPatterns() {
	r.add(&Pattern{
		Name:        "urgency",
		Regex:       regexp.MustCompile(`(?i)\b(act\s+now|urgent(ly)?|immediate(ly)?\s+(action|response)|expires?\s+(today|soon|in\s+\d+)|last\s+chance|limited\s+time|don'?t\s+(wait|delay)|time[\s-]sensitive)\b`),
		Type:        threat.TypeUrgencyManipulation,
		Severity:    threat.SeverityMedium,
		Confidence:  0.6,
		Description: "urgency pressure language",
	})
	r.add(&Pattern{
		Name:        "authority_impersonation",
		Regex:       regexp.MustCompile(`(?i)\b(on\s+behalf\s+of|official\s+(notice|notification)|(irs|fbi|interpol|government|federal)\s+(agent|official|department)|legal\s+department|compliance\s+office)\b`),
		Type:        threat.TypeAuthorityImpersonation,
		Severity:    threat.SeverityHigh,
		Confidence:  0.7,
		Description: "claims institutional authority",
	})
	r.add(&Pattern{
		Name:        "fear_tactics",
		Regex:       regexp.MustCompile(`(?i)\b(account\s+((has\s+been|is|was)\s+)?(suspended|compromised|locked|terminated)|legal\s+action|lawsuit|arrest(ed)?\s+warrant|penalt(y|ies)|your\s+(account|data)\s+(is|has\s+been)\s+at\s+risk)\b`),
		Type:        threat.TypeFearTactics,
		Severity:    threat.SeverityMedium,
		Confidence:  0.65,
		Description: "threat or consequence pressure",
	})
	r.add(&Pattern{
		Name:        "too_good_to_be_true",
		Regex:       regexp.MustCompile(`(?i)\b(you\s+(have\s+)?won|congratulations.{0,40}(selected|winner)|free\s+(money|gift|prize|iphone)|claim\s+your\s+(prize|reward)|no\s+strings\s+attached)\b`),
		Type:        threat.TypeTooGoodToBeTrue,
		Severity:    threat.SeverityMedium,
		Confidence:  0.7,
		Description: "prize or windfall bait",
	})
	r.add(&Pattern{
		Name:        "emotional_appeal",
		Regex:       regexp.MustCompile(`(?i)\b(dying\s+(wish|request)|orphan(age|s)?|widow(ed)?|cancer\s+(patient|treatment)|desperately\s+need|god\s+(bless|fearing))\b.{0,80}\b(help|assist|donat|transfer|funds?)`),
		Type:        threat.TypeEmotionalManipulation,
		Severity:    threat.SeverityMedium,
		Confidence:  0.65,
		Description: "emotional manipulation narrative",
	})
}

func (r *Registry) registerInjectionPatterns() {
	r.add(&Pattern{
		Name:        "xss_script_tag",
		Regex:       regexp.MustCompile(`(?i)<\s*script[^>]*>|javascript\s*:|on(error|load|click|mouseover)\s*=`),
		Type:        threat.TypeXSSAttempt,
		Severity:    threat.SeverityHigh,
		Confidence:  0.9,
		Description: "script injection attempt",
	})
	r.add(&Pattern{
		Name:        "sql_injection",
		Regex:       regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|select\s+.{1,40}\s+from|insert\s+into|drop\s+table|or\s+1\s*=\s*1|'\s*or\s*'1'\s*=\s*'1)\b`),
		Type:        threat.TypeSQLInjection,
		Severity:    threat.SeverityHigh,
		Confidence:  0.85,
		Description: "SQL injection attempt",
	})
	r.add(&Pattern{
		Name:        "command_injection",
		Regex:       regexp.MustCompile(`(?i)(;|\|\||&&)\s*(rm|wget|curl|nc|bash|sh|python)\b|\$\((\s*\S+)+\)|` + "`[^`]+`"),
		Type:        threat.TypeCommandInjection,
		Severity:    threat.SeverityHigh,
		Confidence:  0.85,
		Description: "shell command injection attempt",
	})
	r.add(&Pattern{
		Name:        "path_traversal",
		Regex:       regexp.MustCompile(`(\.\./){2,}|\.\.%2[fF]|/etc/(passwd|shadow)\b`),
		Type:        threat.TypePathTraversal,
		Severity:    threat.SeverityHigh,
		Confidence:  0.85,
		Description: "path traversal attempt",
	})
}
