// File: internal/pattern/detect/detect_test.go
package detect_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/pattern/detect"
)

func navTo(to string, trigger schemas.NavigationTrigger, dwellMS int64) schemas.NavigationEvent {
	return schemas.NavigationEvent{
		From: "/home", To: to, Trigger: trigger,
		Timestamp: time.Now(), TimeOnPreviousPage: dwellMS,
	}
}

func TestProposalCreationDetector(t *testing.T) {
	d := &detect.ProposalCreationDetector{}

	t.Run("fires on the customer to proposal workflow", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/customers/42", schemas.TriggerClick, 5000),
				navTo("/new-business/create", schemas.TriggerClick, 8000),
			},
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormInput, Page: "/new-business/create"},
			},
		}

		res := d.Detect(ctx)
		require.NotNil(t, res)
		assert.Equal(t, schemas.PatternProposalCreation, res.Pattern)
		assert.GreaterOrEqual(t, res.Confidence, d.MinConfidence())
		assert.Contains(t, res.Signals, "customer_page_visit")
		assert.Contains(t, res.Signals, "proposal_page_visit")
		assert.Contains(t, res.Signals, "workflow_sequence_detected")
		assert.Contains(t, res.Signals, "proposal_form_interaction")
	})

	t.Run("stays silent below the threshold", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/customers/42", schemas.TriggerClick, 5000),
				navTo("/analytics", schemas.TriggerClick, 3000),
			},
		}
		assert.Nil(t, d.Detect(ctx), "a lone customer visit is 0.30, well below 0.85")
	})

	t.Run("needs at least two navigations", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/new-business/create", schemas.TriggerClick, 100),
			},
		}
		assert.Nil(t, d.Detect(ctx))
	})
}

func TestFormStruggleDetector(t *testing.T) {
	d := &detect.FormStruggleDetector{}

	t.Run("fires on long dwell with many edits and revisits", func(t *testing.T) {
		ctx := schemas.SessionContext{
			PageEnteredAt: time.Now().Add(-3 * time.Minute),
		}
		// Sixteen edits clears the high-interaction threshold; four on the
		// same field clears the revisit threshold.
		for i := 0; i < 16; i++ {
			field := fmt.Sprintf("field-%d", i)
			if i < 4 {
				field = "premium-amount"
			}
			ctx.RecentActions = append(ctx.RecentActions, schemas.InteractionEvent{
				Action:    schemas.ActionFormInput,
				Element:   field,
				Timestamp: time.Now(),
			})
		}

		res := d.Detect(ctx)
		require.NotNil(t, res)
		assert.Contains(t, res.Signals, "extended_time_no_submission")
		assert.Contains(t, res.Signals, "high_interaction_count")
		assert.Contains(t, res.Signals, "field_revisits")
		assert.GreaterOrEqual(t, res.Confidence, 0.70)
	})

	t.Run("a submission defuses the time signal", func(t *testing.T) {
		ctx := schemas.SessionContext{
			PageEnteredAt: time.Now().Add(-3 * time.Minute),
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormInput, Element: "name"},
				{Action: schemas.ActionFormSubmit},
			},
		}
		assert.Nil(t, d.Detect(ctx))
	})

	t.Run("ignores sessions without form activity", func(t *testing.T) {
		ctx := schemas.SessionContext{
			PageEnteredAt: time.Now().Add(-10 * time.Minute),
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionClick},
			},
		}
		assert.Nil(t, d.Detect(ctx))
	})
}

func TestSearchBehaviorDetector(t *testing.T) {
	d := &detect.SearchBehaviorDetector{}

	t.Run("fires on rapid repeated searching with no navigation", func(t *testing.T) {
		now := time.Now()
		ctx := schemas.SessionContext{}
		for i := 0; i < 4; i++ {
			ctx.RecentActions = append(ctx.RecentActions, schemas.InteractionEvent{
				Action:    schemas.ActionSearch,
				Timestamp: now.Add(time.Duration(i) * 2 * time.Second),
				Metadata:  map[string]any{"query_hash": fmt.Sprintf("h%d", i)},
			})
		}

		res := d.Detect(ctx)
		require.NotNil(t, res)
		assert.Contains(t, res.Signals, "multiple_searches")
		assert.Contains(t, res.Signals, "varied_queries")
		assert.Contains(t, res.Signals, "rapid_searches")
		assert.Contains(t, res.Signals, "no_navigation_after_search")
	})

	t.Run("ignores stale searches outside the window", func(t *testing.T) {
		old := time.Now().Add(-10 * time.Minute)
		ctx := schemas.SessionContext{}
		for i := 0; i < 5; i++ {
			ctx.RecentActions = append(ctx.RecentActions, schemas.InteractionEvent{
				Action:    schemas.ActionSearch,
				Timestamp: old,
			})
		}
		assert.Nil(t, d.Detect(ctx))
	})

	t.Run("counts search-labelled form inputs", func(t *testing.T) {
		now := time.Now()
		ctx := schemas.SessionContext{}
		for i := 0; i < 3; i++ {
			ctx.RecentActions = append(ctx.RecentActions, schemas.InteractionEvent{
				Action:    schemas.ActionFormInput,
				Element:   "input: global search",
				Timestamp: now.Add(time.Duration(i) * time.Second),
				Metadata:  map[string]any{"query_hash": fmt.Sprintf("h%d", i)},
			})
		}
		res := d.Detect(ctx)
		require.NotNil(t, res)
	})
}

func TestAnalyticsExplorationDetector(t *testing.T) {
	d := &detect.AnalyticsExplorationDetector{}

	t.Run("fires on repeated long analytics visits with interactions", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/analytics/overview", schemas.TriggerClick, 20000),
				navTo("/analytics/sales", schemas.TriggerClick, 25000),
			},
		}
		for i := 0; i < 4; i++ {
			ctx.RecentActions = append(ctx.RecentActions, schemas.InteractionEvent{
				Action: schemas.ActionClick, Page: "/analytics/sales",
			})
		}
		ctx.RecentActions = append(ctx.RecentActions, schemas.InteractionEvent{
			Action: schemas.ActionClick, Element: "button: export report",
		})

		res := d.Detect(ctx)
		require.NotNil(t, res)
		assert.Contains(t, res.Signals, "repeated_analytics_visits")
		assert.Contains(t, res.Signals, "extended_analytics_session")
		assert.Contains(t, res.Signals, "analytics_interaction")
		assert.Contains(t, res.Signals, "chart_interactions")
		assert.GreaterOrEqual(t, res.Confidence, 0.75)
	})

	t.Run("one quick visit is not exploration", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/analytics/overview", schemas.TriggerClick, 2000),
			},
		}
		assert.Nil(t, d.Detect(ctx))
	})
}

func TestTaskCompletionDetector(t *testing.T) {
	d := &detect.TaskCompletionDetector{}

	t.Run("fires on a clean submit with steady progression", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/new-business/step-1", schemas.TriggerClick, 30000),
				navTo("/new-business/step-2", schemas.TriggerClick, 45000),
			},
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormSubmit},
			},
		}

		res := d.Detect(ctx)
		require.NotNil(t, res)
		assert.Contains(t, res.Signals, "form_submitted")
		assert.Contains(t, res.Signals, "workflow_progression")
		assert.Contains(t, res.Signals, "appropriate_pacing")
		assert.Contains(t, res.Signals, "confident_navigation")
		assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	})

	t.Run("back navigation drops the confident signal", func(t *testing.T) {
		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/step-1", schemas.TriggerClick, 30000),
				navTo("/step-2", schemas.TriggerBack, 45000),
				navTo("/step-2", schemas.TriggerClick, 45000),
			},
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormSubmit},
			},
		}
		res := d.Detect(ctx)
		require.NotNil(t, res)
		assert.NotContains(t, res.Signals, "confident_navigation")
	})
}

// panicky is a detector that always panics, for registry containment tests.
type panicky struct{}

func (p *panicky) Name() string              { return "panicky" }
func (p *panicky) Type() schemas.PatternType { return "panicky" }
func (p *panicky) MinConfidence() float64    { return 0 }
func (p *panicky) Detect(schemas.SessionContext) *schemas.DetectionResult {
	panic("boom")
}

func TestRegistry(t *testing.T) {
	t.Run("runs all detectors and sorts by confidence", func(t *testing.T) {
		reg := detect.NewRegistry(zaptest.NewLogger(t))

		ctx := schemas.SessionContext{
			NavigationPath: []schemas.NavigationEvent{
				navTo("/customers/42", schemas.TriggerClick, 30000),
				navTo("/new-business/create", schemas.TriggerClick, 45000),
			},
			RecentActions: []schemas.InteractionEvent{
				{Action: schemas.ActionFormInput, Page: "/new-business/create"},
				{Action: schemas.ActionFormSubmit},
			},
		}

		results := reg.DetectAll(ctx)
		require.NotEmpty(t, results)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Confidence, results[i].Confidence,
				"results should be sorted by confidence, highest first")
		}
	})

	t.Run("contains detector panics", func(t *testing.T) {
		reg := detect.NewRegistry(zaptest.NewLogger(t))
		reg.Register(&panicky{})

		assert.NotPanics(t, func() {
			reg.DetectAll(schemas.SessionContext{})
		})
	})

	t.Run("looks up detectors by type", func(t *testing.T) {
		reg := detect.NewRegistry(zaptest.NewLogger(t))
		d := reg.ByType(schemas.PatternFormStruggle)
		require.NotNil(t, d)
		assert.Equal(t, "Form Completion Struggle", d.Name())
		assert.Nil(t, reg.ByType("nonexistent"))
	})
}
