package schemas

import (
	"time"
)

// -- Suggestion Schemas --

// SuggestionCategory groups proactive suggestions by the kind of help they
// offer.
type SuggestionCategory string

// Constants for suggestion categories.
const (
	SuggestNavigation SuggestionCategory = "navigation" // A shortcut to a better destination.
	SuggestDataEntry  SuggestionCategory = "data_entry" // Help with a form or input task.
	SuggestInsight    SuggestionCategory = "insight"    // An analytical observation.
	SuggestShortcut   SuggestionCategory = "shortcut"   // A faster way to do what the user is doing.
)

// ProactiveSuggestion is an unsolicited piece of assistance surfaced to the
// user. The arbiter guarantees at most one outstanding suggestion at a time.
type ProactiveSuggestion struct {
	ID string `json:"id"` // Stable identifier, reused for dismissal cooldowns.

	// RuleID names the trigger rule that produced the suggestion.
	RuleID string `json:"rule_id"`

	Category SuggestionCategory `json:"category"`
	Message  string             `json:"message"`

	// PromptText is the canned request submitted on the user's behalf when
	// the suggestion is accepted.
	PromptText string `json:"prompt_text"`

	// TriggerReason is a short diagnostic of why the rule fired.
	TriggerReason string `json:"trigger_reason"`

	// RelevanceScore ranks competing suggestions, in [0,1].
	RelevanceScore float64 `json:"relevance_score"`

	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Pattern is set when the suggestion originated from a pattern match
	// rather than a trigger rule, so engagement feeds back into learning.
	Pattern PatternType `json:"pattern,omitempty"`
}
