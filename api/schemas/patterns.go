package schemas

import (
	"time"
)

// -- Pattern Schemas --

// PatternType names a recognized behavioral pattern. The values align with the
// `learned_patterns` table and the suggestion payloads built from them.
type PatternType string

// Constants for the detector-produced pattern types.
const (
	PatternProposalCreation     PatternType = "proposal_creation"
	PatternFormStruggle         PatternType = "form_struggle"
	PatternAnalyticsExploration PatternType = "analytics_exploration"
	PatternSearchBehavior       PatternType = "search_behavior"
	PatternTaskCompletion       PatternType = "task_completion"
)

// Constants for the template-library pattern types.
const (
	PatternProposalSuccess    PatternType = "proposal_success"
	PatternEfficientSearch    PatternType = "efficient_search"
	PatternAnalyticsInsight   PatternType = "analytics_insight_discovery"
	PatternFormAbandonment    PatternType = "form_abandonment"
	PatternSearchFrustration  PatternType = "search_frustration"
	PatternNavConfusion       PatternType = "navigation_confusion"
	PatternDataEntryStruggle  PatternType = "data_entry_struggle"
	PatternFeatureDiscovery   PatternType = "feature_discovery"
	PatternComparisonShopping PatternType = "comparison_shopping"
)

// PatternCategory groups patterns by what they say about the user's state.
type PatternCategory string

// Constants for pattern categories.
const (
	CategorySuccess     PatternCategory = "success"     // The user accomplished something.
	CategoryStruggle    PatternCategory = "struggle"    // The user is having difficulty.
	CategoryExploration PatternCategory = "exploration" // The user is discovering features.
	CategoryWorkflow    PatternCategory = "workflow"    // A recurring multi-step routine.
)

// DetectionResult is the outcome of running one detector over a session
// snapshot. Confidence is in [0,1]; a result below a detector's threshold is
// never surfaced.
type DetectionResult struct {
	Pattern    PatternType `json:"pattern"`
	Confidence float64     `json:"confidence"`
	DetectedAt time.Time   `json:"detected_at"`

	// Signals names the individual indicators that contributed, for
	// diagnostics and feedback correlation.
	Signals []string `json:"signals,omitempty"`

	// Evidence carries detector-specific supporting detail.
	Evidence map[string]any `json:"evidence,omitempty"`
}

// MatchSource records which subsystem produced a pattern match.
type MatchSource string

// Constants for match sources.
const (
	SourceDetector MatchSource = "detector" // A heuristic detector.
	SourceLibrary  MatchSource = "library"  // A template from the pattern library.
	SourceHybrid   MatchSource = "hybrid"   // Detector and library agreed on the same pattern.
)

// PatternMatchResult is a single deduplicated match from the matching engine,
// with confidence already adjusted by learned history.
type PatternMatchResult struct {
	Pattern    PatternType     `json:"pattern"`
	Category   PatternCategory `json:"category"`
	Source     MatchSource     `json:"source"`
	Confidence float64         `json:"confidence"` // Adjusted confidence, clamped to [0,1].
	RawScore   float64         `json:"raw_score"`  // Pre-adjustment score from the detector or template.
	MatchedAt  time.Time       `json:"matched_at"`

	Signals  []string       `json:"signals,omitempty"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// FeedbackVerdict is the user's reaction to a pattern-driven suggestion.
type FeedbackVerdict string

// Constants for feedback verdicts.
const (
	VerdictAccepted  FeedbackVerdict = "accepted"  // The suggestion was acted on.
	VerdictModified  FeedbackVerdict = "modified"  // Acted on after edits; still a success.
	VerdictDismissed FeedbackVerdict = "dismissed" // Explicitly rejected.
	VerdictIgnored   FeedbackVerdict = "ignored"   // Left unattended past the ignore threshold.
)

// Success reports whether the verdict counts as a positive outcome for
// learning purposes.
func (v FeedbackVerdict) Success() bool {
	return v == VerdictAccepted || v == VerdictModified
}

// PatternFeedback links a user verdict back to the pattern that triggered the
// suggestion. Batches of feedback drive the learning service.
type PatternFeedback struct {
	Pattern    PatternType     `json:"pattern"`
	Verdict    FeedbackVerdict `json:"verdict"`
	Confidence float64         `json:"confidence"` // The confidence the suggestion shipped with.
	SessionID  string          `json:"session_id"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// LearnedPattern is the accumulated history for one pattern type. It maps
// directly to the `learned_patterns` table.
type LearnedPattern struct {
	Pattern PatternType `json:"pattern"`

	// Occurrences is the total number of feedback entries recorded.
	Occurrences int64 `json:"occurrences"`
	// Successes is the number of positive verdicts.
	Successes int64 `json:"successes"`

	// Confidence is the exponentially smoothed confidence of the pattern's
	// suggestions at decision time.
	Confidence float64 `json:"confidence"`

	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns the fraction of positive verdicts, or zero when the
// pattern has no history.
func (p *LearnedPattern) SuccessRate() float64 {
	if p.Occurrences == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Occurrences)
}
