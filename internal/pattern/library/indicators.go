// File: internal/pattern/library/indicators.go
package library

import (
	"strings"
	"time"

	"github.com/mirahq/mira-core/api/schemas"
)

const (
	extensiveNavThreshold  = 5
	backNavThreshold       = 3
	fieldInteractionHigh   = 10
	searchAttemptThreshold = 3
	formFilledThreshold    = 3
	fieldRevisitThreshold  = 3
	rapidSearchGap         = 5 * time.Second
	sufficientPageTime     = 30 * time.Second
	extendedFormTime       = 2 * time.Minute
)

// ExtractIndicators derives template indicator names from a session snapshot
// plus any detections already made on it. Template scoring is a pure set
// membership check over the returned slice.
func ExtractIndicators(ctx schemas.SessionContext, detected []*schemas.DetectionResult) []string {
	set := map[string]bool{}

	addPageIndicators(set, ctx)
	addNavigationIndicators(set, ctx)
	addFormIndicators(set, ctx)
	addSearchIndicators(set, ctx)

	// Detections double as indicators, both the pattern name and the
	// signals behind it.
	for _, d := range detected {
		if d == nil {
			continue
		}
		set[string(d.Pattern)] = true
		for _, s := range d.Signals {
			set[s] = true
		}
	}

	out := make([]string, 0, len(set))
	for ind := range set {
		out = append(out, ind)
	}
	return out
}

func addPageIndicators(set map[string]bool, ctx schemas.SessionContext) {
	pages := make([]string, 0, len(ctx.NavigationPath)+1)
	for _, nav := range ctx.NavigationPath {
		pages = append(pages, nav.To)
	}
	if ctx.CurrentPage != "" {
		pages = append(pages, ctx.CurrentPage)
	}
	for _, p := range pages {
		norm := strings.Trim(strings.ReplaceAll(p, "/", "_"), "_")
		if norm == "" {
			continue
		}
		set["page_"+norm] = true
		if module := strings.SplitN(norm, "_", 2)[0]; module != "" {
			set["module_"+module] = true
		}
		lower := strings.ToLower(p)
		if strings.Contains(lower, "analytics") || strings.Contains(lower, "dashboard") {
			set["analytics_page_visited"] = true
		}
		if strings.Contains(lower, "customer") {
			set["customer_page_visited"] = true
		}
	}
	if ctx.Module != "" {
		set["module_"+strings.ToLower(ctx.Module)] = true
	}
	if !ctx.PageEnteredAt.IsZero() && time.Since(ctx.PageEnteredAt) > sufficientPageTime {
		set["sufficient_time_spent"] = true
	}
}

func addNavigationIndicators(set map[string]bool, ctx schemas.SessionContext) {
	path := ctx.NavigationPath
	if len(path) > extensiveNavThreshold {
		set["extensive_navigation"] = true
	}

	backCount := 0
	unique := map[string]bool{}
	for _, nav := range path {
		if nav.Trigger == schemas.TriggerBack {
			backCount++
		}
		unique[nav.To] = true
	}
	if backCount > backNavThreshold {
		set["back_navigation_count"] = true
	}
	if len(unique) > 0 && float64(len(path)) > float64(len(unique))*1.5 {
		set["page_revisits"] = true
	}
}

func addFormIndicators(set map[string]bool, ctx schemas.SessionContext) {
	inputs := ctx.ActionsOfType(schemas.ActionFormInput)
	submits := ctx.ActionsOfType(schemas.ActionFormSubmit)

	if len(inputs) > fieldInteractionHigh {
		set["high_field_interaction_count"] = true
	}
	if len(inputs) >= formFilledThreshold {
		set["form_fields_filled"] = true
		if len(submits) == 0 {
			set["no_submission"] = true
			if span := inputs[len(inputs)-1].Timestamp.Sub(inputs[0].Timestamp); span > extendedFormTime {
				set["extended_time_on_form"] = true
			}
			// Navigating after touching a form without submitting is
			// the abandonment tell.
			if last := ctx.LastAction(); last != nil && last.Action == schemas.ActionNavigation &&
				last.Timestamp.After(inputs[len(inputs)-1].Timestamp) {
				set["navigated_away"] = true
			}
		}
	}
	if len(submits) > 0 {
		set["form_submitted"] = true
		set["action_taken"] = true
	}

	byField := map[string]int{}
	for _, in := range inputs {
		if in.Element != "" {
			byField[in.Element]++
		}
	}
	for _, n := range byField {
		if n >= fieldRevisitThreshold {
			set["field_revisits"] = true
			break
		}
	}

	for _, in := range inputs {
		if v, ok := in.Metadata["validation_error"]; ok && v != nil && v != false && v != "" {
			set["validation_errors"] = true
			break
		}
	}

	for _, a := range ctx.RecentActions {
		if a.Action == schemas.ActionFilter {
			set["filters_applied"] = true
			break
		}
	}
}

func addSearchIndicators(set map[string]bool, ctx schemas.SessionContext) {
	searches := ctx.ActionsOfType(schemas.ActionSearch)
	if len(searches) == 0 {
		return
	}
	set["search_executed"] = true
	if len(searches) > searchAttemptThreshold {
		set["multiple_search_attempts"] = true
	}

	hashes := map[string]bool{}
	duplicate := false
	for _, s := range searches {
		h, _ := s.Metadata["query_hash"].(string)
		if h == "" {
			continue
		}
		if hashes[h] {
			duplicate = true
		}
		hashes[h] = true
	}
	if len(hashes) >= 2 {
		set["varied_search_terms"] = true
	}
	if !duplicate {
		set["no_repeat_searches"] = true
	}

	for i := 1; i < len(searches); i++ {
		if searches[i].Timestamp.Sub(searches[i-1].Timestamp) < rapidSearchGap {
			set["rapid_successive_searches"] = true
			break
		}
	}

	// Anything the user did after the last search tells us whether the
	// results were usable.
	last := searches[len(searches)-1]
	navigatedAfter := false
	for _, a := range ctx.RecentActions {
		if !a.Timestamp.After(last.Timestamp) {
			continue
		}
		switch a.Action {
		case schemas.ActionNavigation:
			navigatedAfter = true
		case schemas.ActionClick:
			set["result_interaction"] = true
		}
	}
	if navigatedAfter {
		set["quick_navigation"] = true
	} else {
		set["no_navigation_after_search"] = true
	}
}
