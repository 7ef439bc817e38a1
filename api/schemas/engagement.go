package schemas

import (
	"time"
)

// -- Engagement Schemas --

// EngagementEventType classifies what happened to a shown suggestion.
type EngagementEventType string

// Constants for engagement event types.
const (
	EngagementShown      EngagementEventType = "shown"
	EngagementAccepted   EngagementEventType = "accepted"
	EngagementDismissed  EngagementEventType = "dismissed"
	EngagementIgnored    EngagementEventType = "ignored"
	EngagementHelpful    EngagementEventType = "helpful"
	EngagementNotHelpful EngagementEventType = "not_helpful"
)

// EngagementEvent records one step in a suggestion's lifecycle.
type EngagementEvent struct {
	SuggestionID string              `json:"suggestion_id"`
	RuleID       string              `json:"rule_id"`
	Category     SuggestionCategory  `json:"category"`
	Type         EngagementEventType `json:"type"`
	Timestamp    time.Time           `json:"timestamp"`

	// TimeToDecisionMS is how long the user took to react to the shown
	// suggestion, in milliseconds. Zero for shown events.
	TimeToDecisionMS int64 `json:"time_to_decision_ms,omitempty"`
}

// EngagementStats aggregates reaction counts for reporting and tuning.
type EngagementStats struct {
	Shown      int64 `json:"shown"`
	Accepted   int64 `json:"accepted"`
	Dismissed  int64 `json:"dismissed"`
	Ignored    int64 `json:"ignored"`
	Helpful    int64 `json:"helpful"`
	NotHelpful int64 `json:"not_helpful"`

	// AcceptRate is Accepted divided by Shown, or zero when nothing has
	// been shown.
	AcceptRate float64 `json:"accept_rate"`

	// Helpfulness is Helpful over all helpfulness ratings, or zero when
	// no accepted suggestion has been rated.
	Helpfulness float64 `json:"helpfulness"`

	// ByRule breaks acceptance down per trigger rule.
	ByRule map[string]RuleStats `json:"by_rule,omitempty"`
}

// RuleStats is the per-rule slice of EngagementStats.
type RuleStats struct {
	Shown    int64 `json:"shown"`
	Accepted int64 `json:"accepted"`
}

// Verdict converts an engagement event type into learning feedback. Shown
// events carry no verdict and return false.
func (t EngagementEventType) Verdict() (FeedbackVerdict, bool) {
	switch t {
	case EngagementAccepted, EngagementHelpful:
		return VerdictAccepted, true
	case EngagementDismissed, EngagementNotHelpful:
		return VerdictDismissed, true
	case EngagementIgnored:
		return VerdictIgnored, true
	}
	return "", false
}
