// File: internal/pattern/library/templates.go
package library

import "github.com/mirahq/mira-core/api/schemas"

// defaultTemplates returns the built-in catalog. Weights within a template sum
// to 1.0 so the score reads directly as a fraction of matched evidence.
func defaultTemplates() []Template {
	return []Template{
		{
			ID:          schemas.PatternProposalSuccess,
			Name:        "Successful Proposal Creation",
			Category:    schemas.CategorySuccess,
			Description: "User completes the full proposal workflow without detours",
			Threshold:   0.85,
			Indicators: []Indicator{
				{Type: "customer_page_visited", Weight: 0.2, Required: true, Description: "Started from a customer record"},
				{Type: "fact_finding_completed", Weight: 0.3, Required: true, Description: "Fact finding form submitted"},
				{Type: "fna_calculated", Weight: 0.2, Description: "Needs analysis run before proposing"},
				{Type: "proposal_submitted", Weight: 0.3, Required: true, Description: "Proposal form submitted"},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_template_save", Priority: "low", Condition: "repeat_workflow"},
			},
		},
		{
			ID:          schemas.PatternEfficientSearch,
			Name:        "Efficient Search Usage",
			Category:    schemas.CategorySuccess,
			Description: "Single search leading straight to a result interaction",
			Threshold:   0.75,
			Indicators: []Indicator{
				{Type: "search_executed", Weight: 0.3, Required: true},
				{Type: "result_interaction", Weight: 0.3, Required: true},
				{Type: "quick_navigation", Weight: 0.2},
				{Type: "no_repeat_searches", Weight: 0.2},
			},
		},
		{
			ID:          schemas.PatternAnalyticsInsight,
			Name:        "Analytics Insight Discovery",
			Category:    schemas.CategorySuccess,
			Description: "User digs into analytics and acts on what they find",
			Threshold:   0.70,
			Indicators: []Indicator{
				{Type: "analytics_page_visited", Weight: 0.25, Required: true},
				{Type: "filters_applied", Weight: 0.25},
				{Type: "sufficient_time_spent", Weight: 0.25, Required: true},
				{Type: "action_taken", Weight: 0.25},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_saved_view", Priority: "low", Condition: "filters_applied"},
			},
		},
		{
			ID:          schemas.PatternFormAbandonment,
			Name:        "Form Abandonment",
			Category:    schemas.CategoryStruggle,
			Description: "Form partially filled and then walked away from",
			Threshold:   0.75,
			Indicators: []Indicator{
				{Type: "form_fields_filled", Weight: 0.3, Required: true},
				{Type: "no_submission", Weight: 0.4, Required: true},
				{Type: "extended_time_on_form", Weight: 0.2},
				{Type: "navigated_away", Weight: 0.1},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_draft_save", Priority: "high", Condition: "fields_filled"},
				{Action: "offer_assistance", Priority: "medium", Condition: "extended_time"},
			},
		},
		{
			ID:          schemas.PatternSearchFrustration,
			Name:        "Search Frustration",
			Category:    schemas.CategoryStruggle,
			Description: "Repeated reworded searches with nothing clicked",
			Threshold:   0.70,
			Indicators: []Indicator{
				{Type: "multiple_search_attempts", Weight: 0.35, Required: true},
				{Type: "varied_search_terms", Weight: 0.25, Required: true},
				{Type: "no_navigation_after_search", Weight: 0.25, Required: true},
				{Type: "rapid_successive_searches", Weight: 0.15},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_search_help", Priority: "high", Condition: "immediate"},
				{Action: "suggest_alternative_search", Priority: "medium", Condition: "immediate"},
			},
		},
		{
			ID:          schemas.PatternNavConfusion,
			Name:        "Navigation Confusion",
			Category:    schemas.CategoryStruggle,
			Description: "Back-and-forth navigation without settling anywhere",
			Threshold:   0.75,
			Indicators: []Indicator{
				{Type: "back_navigation_count", Weight: 0.35, Required: true},
				{Type: "page_revisits", Weight: 0.30, Required: true},
				{Type: "no_form_completion", Weight: 0.20},
				{Type: "rapid_navigation", Weight: 0.15},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_navigation_help", Priority: "high", Condition: "immediate"},
			},
		},
		{
			ID:          schemas.PatternDataEntryStruggle,
			Name:        "Data Entry Struggle",
			Category:    schemas.CategoryStruggle,
			Description: "Heavy field churn with revisits and validation errors",
			Threshold:   0.70,
			Indicators: []Indicator{
				{Type: "high_field_interaction_count", Weight: 0.30, Required: true},
				{Type: "field_revisits", Weight: 0.25, Required: true},
				{Type: "validation_errors", Weight: 0.25},
				{Type: "extended_session", Weight: 0.20},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_field_help", Priority: "high", Condition: "validation_errors"},
				{Action: "offer_prefill", Priority: "medium", Condition: "field_revisits"},
			},
		},
		{
			ID:          schemas.PatternFeatureDiscovery,
			Name:        "Feature Discovery",
			Category:    schemas.CategoryExploration,
			Description: "Deliberate browsing of pages not visited before",
			Threshold:   0.65,
			Indicators: []Indicator{
				{Type: "visiting_new_pages", Weight: 0.35, Required: true},
				{Type: "moderate_time_per_page", Weight: 0.25},
				{Type: "menu_interactions", Weight: 0.20},
				{Type: "help_content_views", Weight: 0.20},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_feature_tour", Priority: "low", Condition: "new_area"},
			},
		},
		{
			ID:          schemas.PatternComparisonShopping,
			Name:        "Comparison Shopping",
			Category:    schemas.CategoryExploration,
			Description: "Bouncing between list and detail views weighing options",
			Threshold:   0.70,
			Indicators: []Indicator{
				{Type: "rapid_navigation_between_items", Weight: 0.30, Required: true},
				{Type: "list_page_visits", Weight: 0.25, Required: true},
				{Type: "detail_page_pattern", Weight: 0.25},
				{Type: "no_immediate_action", Weight: 0.20},
			},
			Suggested: []SuggestedAction{
				{Action: "offer_comparison_view", Priority: "medium", Condition: "multiple_items"},
			},
		},
	}
}
