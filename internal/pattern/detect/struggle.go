// File: internal/pattern/detect/struggle.go
package detect

import (
	"strings"
	"time"

	"github.com/mirahq/mira-core/api/schemas"
)

// FormStruggleDetector identifies users having difficulty completing a form.
type FormStruggleDetector struct{}

const (
	struggleTimeThreshold    = 2 * time.Minute
	highInteractionThreshold = 15
	fieldRevisitThreshold    = 3
)

func (d *FormStruggleDetector) Name() string              { return "Form Completion Struggle" }
func (d *FormStruggleDetector) Type() schemas.PatternType { return schemas.PatternFormStruggle }
func (d *FormStruggleDetector) MinConfidence() float64    { return 0.70 }

func (d *FormStruggleDetector) Detect(ctx schemas.SessionContext) *schemas.DetectionResult {
	if len(ctx.RecentActions) == 0 {
		return nil
	}

	var formActions []schemas.InteractionEvent
	hasSubmission := false
	for _, a := range ctx.RecentActions {
		switch a.Action {
		case schemas.ActionFormInput:
			formActions = append(formActions, a)
		case schemas.ActionFormSubmit:
			formActions = append(formActions, a)
			hasSubmission = true
		}
	}
	if len(formActions) == 0 {
		return nil
	}

	var signals []string
	confidence := 0.0

	timeOnPage := time.Duration(0)
	if !ctx.PageEnteredAt.IsZero() {
		timeOnPage = time.Since(ctx.PageEnteredAt)
	}
	if timeOnPage > struggleTimeThreshold && !hasSubmission {
		confidence += 0.35
		signals = append(signals, "extended_time_no_submission")
	}

	if len(formActions) > highInteractionThreshold {
		confidence += 0.25
		signals = append(signals, "high_interaction_count")
	}

	revisited := revisitedFields(formActions)
	if len(revisited) > 0 {
		confidence += 0.20
		signals = append(signals, "field_revisits")
	}

	errorActions := 0
	for _, a := range formActions {
		if truthy(a.Metadata["error"]) || truthy(a.Metadata["validation_failed"]) {
			errorActions++
		}
	}
	if errorActions > 2 {
		confidence += 0.20
		signals = append(signals, "validation_errors")
	}

	if confidence < d.MinConfidence() {
		return nil
	}
	return newResult(d, confidence, signals, map[string]any{
		"time_on_page_ms":   timeOnPage.Milliseconds(),
		"interaction_count": len(formActions),
		"has_submission":    hasSubmission,
		"revisited_fields":  len(revisited),
	})
}

// revisitedFields returns element identifiers edited at least
// fieldRevisitThreshold times.
func revisitedFields(actions []schemas.InteractionEvent) []string {
	counts := make(map[string]int)
	for _, a := range actions {
		field := a.Element
		if field == "" {
			if f, ok := a.Metadata["field"].(string); ok {
				field = f
			}
		}
		if field != "" {
			counts[field]++
		}
	}
	var out []string
	for field, n := range counts {
		if n >= fieldRevisitThreshold {
			out = append(out, field)
		}
	}
	return out
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	default:
		return false
	}
}

// SearchBehaviorDetector spots a user actively hunting for information, and
// the frustration of not finding it.
type SearchBehaviorDetector struct{}

const (
	minSearches          = 3
	searchTimeWindow     = 3 * time.Minute
	rapidSearchThreshold = 5 * time.Second
)

func (d *SearchBehaviorDetector) Name() string              { return "Active Search Behavior" }
func (d *SearchBehaviorDetector) Type() schemas.PatternType { return schemas.PatternSearchBehavior }
func (d *SearchBehaviorDetector) MinConfidence() float64    { return 0.70 }

func (d *SearchBehaviorDetector) Detect(ctx schemas.SessionContext) *schemas.DetectionResult {
	if len(ctx.RecentActions) == 0 {
		return nil
	}

	now := time.Now()
	var searches []schemas.InteractionEvent
	for _, a := range ctx.RecentActions {
		isSearch := a.Action == schemas.ActionSearch ||
			(a.Action == schemas.ActionFormInput && strings.Contains(strings.ToLower(a.Element), "search"))
		if isSearch && now.Sub(a.Timestamp) < searchTimeWindow {
			searches = append(searches, a)
		}
	}
	if len(searches) < minSearches {
		return nil
	}

	signals := []string{"multiple_searches"}
	confidence := 0.40

	if uniqueQueries(searches) > 1 {
		confidence += 0.20
		signals = append(signals, "varied_queries")
	}

	if hasRapidSearches(searches) {
		confidence += 0.15
		signals = append(signals, "rapid_searches")
	}

	if !navigatedAfter(ctx.NavigationPath, searches[0].Timestamp) {
		confidence += 0.10
		signals = append(signals, "no_navigation_after_search")
	}

	if confidence < d.MinConfidence() {
		return nil
	}
	return newResult(d, confidence, signals, map[string]any{
		"search_count":   len(searches),
		"time_window_ms": searchTimeWindow.Milliseconds(),
	})
}

// uniqueQueries counts distinct query fingerprints. Raw query text is never
// captured, so distinctness falls back to the query hash when present.
func uniqueQueries(searches []schemas.InteractionEvent) int {
	seen := make(map[string]struct{})
	for _, s := range searches {
		if h, ok := s.Metadata["query_hash"].(string); ok && h != "" {
			seen[h] = struct{}{}
		}
	}
	return len(seen)
}

func hasRapidSearches(searches []schemas.InteractionEvent) bool {
	for i := 1; i < len(searches); i++ {
		if searches[i].Timestamp.Sub(searches[i-1].Timestamp) < rapidSearchThreshold {
			return true
		}
	}
	return false
}

func navigatedAfter(navs []schemas.NavigationEvent, since time.Time) bool {
	for _, nav := range navs {
		if nav.Timestamp.After(since) {
			return true
		}
	}
	return false
}
