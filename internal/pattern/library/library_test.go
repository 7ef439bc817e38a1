// File: internal/pattern/library/library_test.go
package library_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/pattern/library"
)

func TestCatalogShape(t *testing.T) {
	lib := library.New()

	all := lib.All()
	require.Len(t, all, 9)

	for _, tpl := range all {
		tpl := tpl
		t.Run(string(tpl.ID), func(t *testing.T) {
			assert.NotEmpty(t, tpl.Name)
			assert.NotEmpty(t, tpl.Category)
			assert.Greater(t, tpl.Threshold, 0.0)
			assert.LessOrEqual(t, tpl.Threshold, 1.0)

			var total float64
			hasRequired := false
			for _, ind := range tpl.Indicators {
				total += ind.Weight
				hasRequired = hasRequired || ind.Required
			}
			assert.InDelta(t, 1.0, total, 1e-9, "weights should sum to 1")
			assert.True(t, hasRequired, "every template anchors on a required indicator")
		})
	}

	assert.Nil(t, lib.ByID("no_such_pattern"))
	assert.Equal(t, schemas.CategoryStruggle, lib.ByID(schemas.PatternFormAbandonment).Category)
	assert.Len(t, lib.ByCategory(schemas.CategoryStruggle), 4)
	assert.Len(t, lib.ByCategory(schemas.CategorySuccess), 3)
	assert.Len(t, lib.ByCategory(schemas.CategoryExploration), 2)
}

func TestScore(t *testing.T) {
	lib := library.New()

	t.Run("a missing required indicator zeroes the score", func(t *testing.T) {
		// Everything except the required no_submission.
		score := lib.Score(schemas.PatternFormAbandonment, []string{
			"form_fields_filled", "extended_time_on_form", "navigated_away",
		})
		assert.Zero(t, score)
	})

	t.Run("score is the matched share of total weight", func(t *testing.T) {
		score := lib.Score(schemas.PatternFormAbandonment, []string{
			"form_fields_filled", "no_submission",
		})
		assert.InDelta(t, 0.7, score, 1e-9)
	})

	t.Run("a full indicator set scores 1.0", func(t *testing.T) {
		score := lib.Score(schemas.PatternFormAbandonment, []string{
			"form_fields_filled", "no_submission", "extended_time_on_form", "navigated_away",
		})
		assert.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("unknown template scores zero", func(t *testing.T) {
		assert.Zero(t, lib.Score("no_such_pattern", []string{"anything"}))
	})
}

func TestMatch(t *testing.T) {
	lib := library.New()

	t.Run("filters below threshold and sorts best first", func(t *testing.T) {
		indicators := []string{
			// form_abandonment at 1.0.
			"form_fields_filled", "no_submission", "extended_time_on_form", "navigated_away",
			// search_frustration at 0.85, above its 0.70 threshold.
			"multiple_search_attempts", "varied_search_terms", "no_navigation_after_search",
		}

		matches := lib.Match(indicators, "")
		require.Len(t, matches, 2)
		assert.Equal(t, schemas.PatternFormAbandonment, matches[0].Template.ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
		assert.Equal(t, schemas.PatternSearchFrustration, matches[1].Template.ID)
		assert.InDelta(t, 0.85, matches[1].Score, 1e-9)
	})

	t.Run("category narrows the candidates", func(t *testing.T) {
		indicators := []string{
			"form_fields_filled", "no_submission", "extended_time_on_form", "navigated_away",
			"multiple_search_attempts", "varied_search_terms", "no_navigation_after_search",
		}
		matches := lib.Match(indicators, schemas.CategorySuccess)
		assert.Empty(t, matches)
	})

	t.Run("best match on empty indicators is nil", func(t *testing.T) {
		assert.Nil(t, lib.BestMatch(nil, ""))
	})
}

func TestExtractIndicators(t *testing.T) {
	now := time.Now()

	t.Run("pages become page and module indicators", func(t *testing.T) {
		ctx := schemas.SessionContext{
			CurrentPage: "/analytics/overview",
			NavigationPath: []schemas.NavigationEvent{
				{To: "/customers/42", Trigger: schemas.TriggerClick},
			},
		}
		got := library.ExtractIndicators(ctx, nil)
		assert.Contains(t, got, "page_analytics_overview")
		assert.Contains(t, got, "module_analytics")
		assert.Contains(t, got, "page_customers_42")
		assert.Contains(t, got, "module_customers")
		assert.Contains(t, got, "analytics_page_visited")
		assert.Contains(t, got, "customer_page_visited")
	})

	t.Run("navigation churn thresholds", func(t *testing.T) {
		path := make([]schemas.NavigationEvent, 0, 8)
		for i := 0; i < 4; i++ {
			path = append(path,
				schemas.NavigationEvent{To: "/a", Trigger: schemas.TriggerClick},
				schemas.NavigationEvent{To: "/b", Trigger: schemas.TriggerBack},
			)
		}
		got := library.ExtractIndicators(schemas.SessionContext{NavigationPath: path}, nil)
		assert.Contains(t, got, "extensive_navigation", "8 navigations is past the 5 threshold")
		assert.Contains(t, got, "back_navigation_count", "4 back hops is past the 3 threshold")
		assert.Contains(t, got, "page_revisits", "8 visits over 2 unique pages")
	})

	t.Run("form churn and validation errors", func(t *testing.T) {
		actions := make([]schemas.InteractionEvent, 0, 12)
		for i := 0; i < 11; i++ {
			actions = append(actions, schemas.InteractionEvent{
				Action:    schemas.ActionFormInput,
				Element:   "premium",
				Timestamp: now.Add(time.Duration(i) * time.Second),
			})
		}
		actions = append(actions, schemas.InteractionEvent{
			Action:   schemas.ActionFormInput,
			Element:  "premium",
			Metadata: map[string]any{"validation_error": "required"},
		})

		got := library.ExtractIndicators(schemas.SessionContext{RecentActions: actions}, nil)
		assert.Contains(t, got, "high_field_interaction_count")
		assert.Contains(t, got, "form_fields_filled")
		assert.Contains(t, got, "no_submission")
		assert.Contains(t, got, "field_revisits")
		assert.Contains(t, got, "validation_errors")
		assert.NotContains(t, got, "form_submitted")
	})

	t.Run("long unsubmitted form followed by leaving reads as abandonment", func(t *testing.T) {
		ctx := schemas.SessionContext{
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormInput, Element: "name", Timestamp: now.Add(-4 * time.Minute)},
				{Action: schemas.ActionFormInput, Element: "dob", Timestamp: now.Add(-2 * time.Minute)},
				{Action: schemas.ActionFormInput, Element: "income", Timestamp: now.Add(-time.Minute)},
				{Action: schemas.ActionNavigation, Timestamp: now},
			},
		}
		got := library.ExtractIndicators(ctx, nil)
		assert.Contains(t, got, "extended_time_on_form")
		assert.Contains(t, got, "navigated_away")

		lib := library.New()
		best := lib.BestMatch(got, schemas.CategoryStruggle)
		require.NotNil(t, best)
		assert.Equal(t, schemas.PatternFormAbandonment, best.Template.ID)
	})

	t.Run("a submission flips the form verdict", func(t *testing.T) {
		got := library.ExtractIndicators(schemas.SessionContext{
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormInput},
				{Action: schemas.ActionFormInput},
				{Action: schemas.ActionFormInput},
				{Action: schemas.ActionFormSubmit},
			},
		}, nil)
		assert.Contains(t, got, "form_submitted")
		assert.Contains(t, got, "action_taken")
		assert.NotContains(t, got, "no_submission")
	})

	t.Run("search churn with no follow-up", func(t *testing.T) {
		ctx := schemas.SessionContext{
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionSearch, Timestamp: now, Metadata: map[string]any{"query_hash": "a"}},
				{Action: schemas.ActionSearch, Timestamp: now.Add(2 * time.Second), Metadata: map[string]any{"query_hash": "b"}},
				{Action: schemas.ActionSearch, Timestamp: now.Add(4 * time.Second), Metadata: map[string]any{"query_hash": "c"}},
				{Action: schemas.ActionSearch, Timestamp: now.Add(6 * time.Second), Metadata: map[string]any{"query_hash": "d"}},
			},
		}
		got := library.ExtractIndicators(ctx, nil)
		assert.Contains(t, got, "search_executed")
		assert.Contains(t, got, "multiple_search_attempts")
		assert.Contains(t, got, "varied_search_terms")
		assert.Contains(t, got, "rapid_successive_searches")
		assert.Contains(t, got, "no_navigation_after_search")
		assert.Contains(t, got, "no_repeat_searches")
		assert.NotContains(t, got, "result_interaction")
	})

	t.Run("a click after the last search is a result interaction", func(t *testing.T) {
		ctx := schemas.SessionContext{
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionSearch, Timestamp: now, Metadata: map[string]any{"query_hash": "a"}},
				{Action: schemas.ActionClick, Timestamp: now.Add(time.Second)},
				{Action: schemas.ActionNavigation, Timestamp: now.Add(2 * time.Second)},
			},
		}
		got := library.ExtractIndicators(ctx, nil)
		assert.Contains(t, got, "result_interaction")
		assert.Contains(t, got, "quick_navigation")
		assert.NotContains(t, got, "no_navigation_after_search")
	})

	t.Run("detections feed back as indicators", func(t *testing.T) {
		got := library.ExtractIndicators(schemas.SessionContext{}, []*schemas.DetectionResult{
			nil,
			{Pattern: schemas.PatternFormStruggle, Signals: []string{"field_revisits", "validation_errors"}},
		})
		assert.Contains(t, got, "form_struggle")
		assert.Contains(t, got, "field_revisits")
		assert.Contains(t, got, "validation_errors")
	})
}

func TestExtractFeedsMatch(t *testing.T) {
	// A frustrated search session should surface the search_frustration
	// template end to end.
	now := time.Now()
	ctx := schemas.SessionContext{
		RecentActions: []schemas.InteractionEvent{
			{Action: schemas.ActionSearch, Timestamp: now, Metadata: map[string]any{"query_hash": "a"}},
			{Action: schemas.ActionSearch, Timestamp: now.Add(time.Second), Metadata: map[string]any{"query_hash": "b"}},
			{Action: schemas.ActionSearch, Timestamp: now.Add(2 * time.Second), Metadata: map[string]any{"query_hash": "c"}},
			{Action: schemas.ActionSearch, Timestamp: now.Add(3 * time.Second), Metadata: map[string]any{"query_hash": "d"}},
		},
	}

	lib := library.New()
	matches := lib.Match(library.ExtractIndicators(ctx, nil), schemas.CategoryStruggle)
	require.NotEmpty(t, matches)
	assert.Equal(t, schemas.PatternSearchFrustration, matches[0].Template.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}
