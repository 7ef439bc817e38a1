// File: internal/suggest/rules.go
package suggest

import (
	"fmt"
	"strings"
	"time"

	"github.com/mirahq/mira-core/api/schemas"
)

// Rule is a single proactive trigger. Check decides whether the rule fires on
// a snapshot; Generate builds the suggestion. Cooldown gates the rule
// independently of the global interval.
type Rule struct {
	ID       string
	Cooldown time.Duration
	Check    func(sctx schemas.SessionContext, now time.Time) bool
	Generate func(sctx schemas.SessionContext) schemas.ProactiveSuggestion
}

const (
	customerIdleMinTime    = 10 * time.Second
	customerIdleMaxActions = 3
	navLoopWindow          = 4
	navLoopMaxUnique       = 2
	formStruggleWindow     = 2 * time.Minute
	formStruggleMinInputs  = 10
	formStruggleMinEdits   = 3
	searchWindow           = 2 * time.Minute
	searchMinCount         = 3
	idleThreshold          = 30 * time.Second
)

// defaultRules returns the trigger rules in priority order. The first rule
// that fires wins an evaluation pass.
func defaultRules() []Rule {
	return []Rule{
		{
			ID:       "customer-detail-idle",
			Cooldown: 3 * time.Minute,
			Check:    checkCustomerDetailIdle,
			Generate: generateCustomerDetailSuggestion,
		},
		{
			ID:       "navigation-loop",
			Cooldown: 4 * time.Minute,
			Check:    checkNavigationLoop,
			Generate: generateNavigationLoopSuggestion,
		},
		{
			ID:       "form-struggle",
			Cooldown: 3 * time.Minute,
			Check:    checkFormStruggle,
			Generate: generateFormStruggleSuggestion,
		},
		{
			ID:       "search-pattern",
			Cooldown: 5 * time.Minute,
			Check:    checkSearchPattern,
			Generate: generateSearchSuggestion,
		},
		{
			ID:       "idle-state",
			Cooldown: 10 * time.Minute,
			Check:    checkIdleState,
			Generate: generateIdleSuggestion,
		},
	}
}

// Rule 1: lingering on a customer detail page with nothing happening.
func checkCustomerDetailIdle(sctx schemas.SessionContext, now time.Time) bool {
	page := sctx.CurrentPage
	if !strings.Contains(page, "/customers/detail") && !strings.Contains(page, "/customer/") {
		return false
	}
	if sctx.PageEnteredAt.IsZero() || now.Sub(sctx.PageEnteredAt) < customerIdleMinTime {
		return false
	}

	recent := 0
	for _, a := range sctx.RecentActions {
		if now.Sub(a.Timestamp) < customerIdleMinTime {
			recent++
		}
	}
	return recent < customerIdleMaxActions
}

func generateCustomerDetailSuggestion(sctx schemas.SessionContext) schemas.ProactiveSuggestion {
	return schemas.ProactiveSuggestion{
		ID:             "customer-detail-idle",
		RuleID:         "customer-detail-idle",
		Category:       schemas.SuggestInsight,
		Message:        "Looking at this customer? I can help with:",
		PromptText:     "Show me this customer's policy portfolio and upcoming renewals",
		TriggerReason:  "Customer detail page idle",
		RelevanceScore: 0.85,
		Icon:           "👤",
	}
}

// Rule 2: bouncing between the same couple of pages.
func checkNavigationLoop(sctx schemas.SessionContext, _ time.Time) bool {
	history := sctx.NavigationPath
	if len(history) < navLoopWindow {
		return false
	}
	unique := map[string]bool{}
	for _, nav := range history[len(history)-navLoopWindow:] {
		unique[nav.To] = true
	}
	return len(unique) <= navLoopMaxUnique
}

func generateNavigationLoopSuggestion(sctx schemas.SessionContext) schemas.ProactiveSuggestion {
	return schemas.ProactiveSuggestion{
		ID:             "navigation-loop",
		RuleID:         "navigation-loop",
		Category:       schemas.SuggestShortcut,
		Message:        "Seems like you're searching for something. Ask me instead!",
		PromptText:     "Help me find...",
		TriggerReason:  "Navigation loop detected",
		RelevanceScore: 0.75,
		Icon:           "🔍",
	}
}

// Rule 3: hammering the same form fields.
func checkFormStruggle(sctx schemas.SessionContext, now time.Time) bool {
	fieldCounts := map[string]int{}
	total := 0
	for _, a := range sctx.RecentActions {
		if a.Action != schemas.ActionFormInput || now.Sub(a.Timestamp) >= formStruggleWindow {
			continue
		}
		total++
		field := a.Element
		if field == "" {
			field = "unknown"
		}
		fieldCounts[field]++
	}
	if total < formStruggleMinInputs {
		return false
	}
	for _, n := range fieldCounts {
		if n >= formStruggleMinEdits {
			return true
		}
	}
	return false
}

func generateFormStruggleSuggestion(sctx schemas.SessionContext) schemas.ProactiveSuggestion {
	prompt := "Pre-fill this form with customer data"
	switch {
	case strings.Contains(sctx.CurrentPage, "new-business"):
		prompt = "Help me complete this proposal form"
	case strings.Contains(sctx.CurrentPage, "customer"):
		prompt = "Fill customer details automatically"
	}

	return schemas.ProactiveSuggestion{
		ID:             "form-struggle",
		RuleID:         "form-struggle",
		Category:       schemas.SuggestDataEntry,
		Message:        "Need help filling this form? I can assist.",
		PromptText:     prompt,
		TriggerReason:  "Form completion struggle",
		RelevanceScore: 0.80,
		Icon:           "📝",
	}
}

// Rule 4: repeated searching.
func checkSearchPattern(sctx schemas.SessionContext, now time.Time) bool {
	count := 0
	for _, a := range sctx.RecentActions {
		if a.Action == schemas.ActionSearch && now.Sub(a.Timestamp) < searchWindow {
			count++
		}
	}
	return count >= searchMinCount
}

func generateSearchSuggestion(sctx schemas.SessionContext) schemas.ProactiveSuggestion {
	return schemas.ProactiveSuggestion{
		ID:             "search-pattern",
		RuleID:         "search-pattern",
		Category:       schemas.SuggestShortcut,
		Message:        "Can't find what you're looking for? Ask me!",
		PromptText:     "Help me find a customer or policy",
		TriggerReason:  "Repeated search pattern",
		RelevanceScore: 0.78,
		Icon:           "🔎",
	}
}

// Rule 5: the user went quiet.
func checkIdleState(sctx schemas.SessionContext, now time.Time) bool {
	last := sctx.LastAction()
	if last == nil {
		return false
	}
	return now.Sub(last.Timestamp) > idleThreshold
}

// idlePrompts maps the top-level module to a contextual prompt.
var idlePrompts = map[string]string{
	"customers":  "Show me my hot leads that need follow-up",
	"analytics":  "What are my top performing products this month?",
	"smart-plan": "What's urgent on my Smart Plan today?",
	"products":   "Which products are best for millennials?",
	"home":       "Show me an overview of my day",
}

func generateIdleSuggestion(sctx schemas.SessionContext) schemas.ProactiveSuggestion {
	module := strings.SplitN(strings.TrimPrefix(sctx.CurrentPage, "/"), "/", 2)[0]
	prompt, ok := idlePrompts[module]
	if !ok {
		prompt = "What can you help me with?"
	}

	return schemas.ProactiveSuggestion{
		ID:             "idle-state",
		RuleID:         "idle-state",
		Category:       schemas.SuggestInsight,
		Message:        "Taking a break? Here's something you might want to know:",
		PromptText:     prompt,
		TriggerReason:  "User idle state",
		RelevanceScore: 0.60,
		Icon:           "💡",
	}
}

// patternSuggestion converts a pattern match into a suggestion so engagement
// can feed back into learning.
func patternSuggestion(m schemas.PatternMatchResult) schemas.ProactiveSuggestion {
	messages := map[schemas.PatternCategory]string{
		schemas.CategoryStruggle:    "This looks tricky. Want a hand?",
		schemas.CategorySuccess:     "Nice work! Want me to save this as a shortcut?",
		schemas.CategoryExploration: "Exploring? I can point out what's useful here.",
		schemas.CategoryWorkflow:    "I can speed up this workflow for you.",
	}
	msg, ok := messages[m.Category]
	if !ok {
		msg = "I noticed a pattern in what you're doing. Want help?"
	}

	category := schemas.SuggestInsight
	if m.Category == schemas.CategoryStruggle {
		category = schemas.SuggestDataEntry
	}

	return schemas.ProactiveSuggestion{
		ID:             fmt.Sprintf("pattern-%s", m.Pattern),
		RuleID:         "pattern-match",
		Category:       category,
		Message:        msg,
		PromptText:     "What should I do next?",
		TriggerReason:  fmt.Sprintf("Pattern matched: %s", m.Pattern),
		RelevanceScore: m.Confidence,
		Icon:           "✨",
		Pattern:        m.Pattern,
	}
}
