// File: internal/pattern/library/library.go

// Package library catalogs known behavioral journeys as weighted indicator
// templates: successful workflows, struggle anti-patterns and exploration
// signatures. A template matches when every required indicator is present and
// the weighted score clears its threshold.
package library

import (
	"sort"

	"github.com/mirahq/mira-core/api/schemas"
)

// Indicator is a single weighted signal inside a template.
type Indicator struct {
	Type        string
	Weight      float64
	Required    bool
	Description string
}

// SuggestedAction is a follow-up the assistant can take when a template matches.
type SuggestedAction struct {
	Action    string
	Priority  string
	Condition string
}

// Template describes one catalogued behavioral pattern.
type Template struct {
	ID          schemas.PatternType
	Name        string
	Category    schemas.PatternCategory
	Description string
	Indicators  []Indicator
	Suggested   []SuggestedAction

	// Threshold is the minimum weighted score for a match.
	Threshold float64
}

// Match pairs a template with the score it achieved.
type Match struct {
	Template *Template
	Score    float64
}

// Library is the fixed template catalog.
type Library struct {
	templates []Template
	byID      map[schemas.PatternType]*Template
}

// New builds the library with the default catalog.
func New() *Library {
	l := &Library{templates: defaultTemplates()}
	l.byID = make(map[schemas.PatternType]*Template, len(l.templates))
	for i := range l.templates {
		l.byID[l.templates[i].ID] = &l.templates[i]
	}
	return l
}

// All returns every template.
func (l *Library) All() []Template {
	out := make([]Template, len(l.templates))
	copy(out, l.templates)
	return out
}

// ByID returns a template, or nil when unknown.
func (l *Library) ByID(id schemas.PatternType) *Template {
	return l.byID[id]
}

// ByCategory returns the templates in one category.
func (l *Library) ByCategory(c schemas.PatternCategory) []Template {
	var out []Template
	for _, t := range l.templates {
		if t.Category == c {
			out = append(out, t)
		}
	}
	return out
}

// Score computes the weighted indicator score for one template. A missing
// required indicator fails the template outright; otherwise the score is the
// weight of present indicators over the total weight.
func (l *Library) Score(id schemas.PatternType, indicators []string) float64 {
	t := l.byID[id]
	if t == nil {
		return 0
	}

	present := make(map[string]bool, len(indicators))
	for _, ind := range indicators {
		present[ind] = true
	}

	for _, ind := range t.Indicators {
		if ind.Required && !present[ind.Type] {
			return 0
		}
	}

	var score, maxScore float64
	for _, ind := range t.Indicators {
		maxScore += ind.Weight
		if present[ind.Type] {
			score += ind.Weight
		}
	}
	if maxScore == 0 {
		return 0
	}
	return score / maxScore
}

// Match scores every template against the indicator set and returns those
// clearing their thresholds, best first. An empty category matches all
// categories.
func (l *Library) Match(indicators []string, category schemas.PatternCategory) []Match {
	var out []Match
	for i := range l.templates {
		t := &l.templates[i]
		if category != "" && t.Category != category {
			continue
		}
		if score := l.Score(t.ID, indicators); score >= t.Threshold {
			out = append(out, Match{Template: t, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// BestMatch returns the highest scoring match, or nil.
func (l *Library) BestMatch(indicators []string, category schemas.PatternCategory) *Match {
	matches := l.Match(indicators, category)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}
