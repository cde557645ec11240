// Package emergency classifies transcript fragments for medically
// dangerous language. The classifier is pure and total: any input string,
// including the empty string, yields a well-formed assessment, and
// identical input always yields an identical result.
package emergency

import (
	"regexp"
	"strings"
)

// Confidence contributions per tier. Confidence is the maximum over all
// matched contributions, never a sum.
const (
	criticalConfidence = 0.9
	urgentConfidence   = 0.6
	patternConfidence  = 0.8
)

// DefaultThreshold is the classifier's own emergency cut-off. Note the
// call state machine escalates at a deliberately higher bar (> 0.7); the
// two thresholds are kept separate on purpose.
const DefaultThreshold = 0.6

// criticalKeywords are high-priority emergency indicators.
var criticalKeywords = []string{
	"chest pain",
	"heart attack",
	"can't breathe",
	"cannot breathe",
	"difficulty breathing",
	"unconscious",
	"unresponsive",
	"severe bleeding",
	"bleeding heavily",
	"stroke",
	"seizure",
	"overdose",
	"suicide",
	"kill myself",
	"choking",
	"severe burn",
}

// urgentKeywords are medium-priority indicators.
var urgentKeywords = []string{
	"accident",
	"injury",
	"fell down",
	"broken bone",
	"head injury",
	"allergic reaction",
	"high fever",
	"severe pain",
	"vomiting blood",
	"loss of consciousness",
}

var phrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`need\s+(an\s+)?ambulance`),
	regexp.MustCompile(`call\s+911`),
	regexp.MustCompile(`help\s+me`),
	regexp.MustCompile(`emergency`),
	regexp.MustCompile(`dying`),
	regexp.MustCompile(`life\s+threatening`),
}

// Assessment is the result of classifying one utterance. It is produced
// fresh per utterance and never cached.
type Assessment struct {
	IsEmergency  bool     `json:"isEmergency"`
	Confidence   float64  `json:"confidence"`
	MatchedTerms []string `json:"matchedTerms"`
}

// Detector holds the compiled keyword tiers and phrase patterns.
type Detector struct {
	critical []string
	urgent   []string
	patterns []*regexp.Regexp
}

// NewDetector returns a Detector with the default keyword configuration.
func NewDetector() *Detector {
	return &Detector{
		critical: criticalKeywords,
		urgent:   urgentKeywords,
		patterns: phrasePatterns,
	}
}

// Analyze classifies a single utterance in isolation. Tiers are checked
// critical first, then urgent, then phrase patterns; matched terms are
// recorded in that order and deduplicated.
func (d *Detector) Analyze(text string) Assessment {
	lower := strings.ToLower(text)
	var matched []string
	seen := make(map[string]struct{})
	confidence := 0.0

	add := func(term string, c float64) {
		if _, ok := seen[term]; !ok {
			seen[term] = struct{}{}
			matched = append(matched, term)
		}
		if c > confidence {
			confidence = c
		}
	}

	for _, kw := range d.critical {
		if strings.Contains(lower, kw) {
			add(kw, criticalConfidence)
		}
	}
	for _, kw := range d.urgent {
		if strings.Contains(lower, kw) {
			add(kw, urgentConfidence)
		}
	}
	for _, p := range d.patterns {
		if p.MatchString(lower) {
			add(p.String(), patternConfidence)
		}
	}

	return Assessment{
		IsEmergency:  confidence >= DefaultThreshold,
		Confidence:   confidence,
		MatchedTerms: matched,
	}
}
