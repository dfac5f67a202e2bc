// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package classifier

import (
	"math"
	"regexp"
	"strings"

	"github.com/formwarden/formwarden/internal/detector/pattern"
	"github.com/formwarden/formwarden/internal/threat"
)

// featureCount is the fixed width of the feature vector. The model's weight
// vector must always match it; snapshots carrying a different width are
// discarded on load.
const featureCount = 10

var (
	featURLRegexp  = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	featWordRegexp = regexp.MustCompile(`[\p{L}']+`)
)

// spamLexicon are weighted spam marker words for the keyword feature.
var spamLexicon = map[string]float64{
	"free": 0.5, "winner": 0.8, "guaranteed": 0.8, "profit": 0.6,
	"investment": 0.5, "bitcoin": 0.6, "crypto": 0.6, "loan": 0.5,
	"viagra": 1.0, "casino": 0.8, "prize": 0.7, "urgent": 0.6,
	"congratulations": 0.7, "click": 0.5, "subscribe": 0.4, "discount": 0.4,
	"cheap": 0.4, "offer": 0.4, "million": 0.6, "inheritance": 0.8,
}

// aiTellPhrases are phrasings overrepresented in generated filler text.
var aiTellPhrases = []string{
	"as an ai", "in conclusion,", "it is important to note", "furthermore,",
	"moreover,", "delve into", "in today's fast-paced", "i hope this message finds you well",
	"navigating the landscape", "unlock the potential", "in the realm of",
}

// Extract computes the feature vector for a submission's combined text.
// Every feature is normalized to roughly [0,1] so learned weights stay
// comparable.
func Extract(sub *threat.Submission) []float64 {
	text := sub.AllText()
	lower := strings.ToLower(text)
	words := featWordRegexp.FindAllString(lower, -1)

	f := make([]float64, featureCount)
	f[0] = clamp01(float64(len(text)) / 2000)                               // length
	f[1] = clamp01(pattern.Entropy(text) / 6)                               // character entropy
	f[2] = capsRatio(text)                                                  // shouting
	f[3] = clamp01(float64(len(featURLRegexp.FindAllString(text, -1))) / 5) // link density
	f[4] = specialRatio(text)                                               // punctuation noise
	f[5] = digitRatio(text)                                                 // numeric load
	f[6] = clamp01(spamScore(words) / 4)                                    // spam lexicon
	f[7] = clamp01(float64(strings.Count(text, "!")) / 8)                   // exclamations
	f[8] = uniqueWordRatio(words)                                           // vocabulary spread
	f[9] = aiPhraseScore(lower)                                             // generated-text tells
	return f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func capsRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters < 20 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func specialRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	special := 0
	for _, r := range s {
		if strings.ContainsRune(`$#%&*@!?~^=+<>{}[]|\`, r) {
			special++
		}
	}
	return clamp01(3 * float64(special) / float64(len([]rune(s))))
}

func digitRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	digits := 0
	total := 0
	for _, r := range s {
		total++
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return float64(digits) / float64(total)
}

func spamScore(words []string) float64 {
	score := 0.0
	for _, w := range words {
		score += spamLexicon[w]
	}
	return score
}

func uniqueWordRatio(words []string) float64 {
	if len(words) < 5 {
		return 0.5 // too short to judge
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	// Invert: low vocabulary spread (heavy repetition) scores high.
	return 1 - float64(len(seen))/float64(len(words))
}

func aiPhraseScore(lower string) float64 {
	hits := 0
	for _, p := range aiTellPhrases {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	return clamp01(float64(hits) / 3)
}

// anomalyScore is the rule-of-thumb companion to the learned model: fixed
// thresholds on raw features that hold up when the model has drifted or is
// still cold. Combined with the model score via max.
func anomalyScore(f []float64) float64 {
	score := 0.0
	if f[3] >= 0.6 { // three or more links
		score += 0.3
	}
	if f[2] >= 0.5 { // mostly capitals
		score += 0.2
	}
	if f[4] >= 0.4 { // dense special characters
		score += 0.15
	}
	if f[6] >= 0.5 { // heavy spam vocabulary
		score += 0.3
	}
	if f[1] < 0.25 || f[1] > 0.9 { // entropy outside natural-text bounds
		score += 0.15
	}
	if f[7] >= 0.5 { // exclamation runs
		score += 0.1
	}
	return clamp01(score)
}

// sigmoid squashes a linear score into (0,1).
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
