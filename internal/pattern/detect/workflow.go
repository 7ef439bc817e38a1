// File: internal/pattern/detect/workflow.go
package detect

import (
	"strings"
	"time"

	"github.com/mirahq/mira-core/api/schemas"
)

// ProposalCreationDetector spots the customer-to-proposal workflow, the
// strongest signal of proposal creation intent.
type ProposalCreationDetector struct{}

func (d *ProposalCreationDetector) Name() string              { return "Proposal Creation Workflow" }
func (d *ProposalCreationDetector) Type() schemas.PatternType { return schemas.PatternProposalCreation }
func (d *ProposalCreationDetector) MinConfidence() float64    { return 0.85 }

func (d *ProposalCreationDetector) Detect(ctx schemas.SessionContext) *schemas.DetectionResult {
	navs := ctx.NavigationPath
	if len(navs) < 2 {
		return nil
	}

	var signals []string
	confidence := 0.0

	var customerVisit, proposalVisit *schemas.NavigationEvent
	for i := range navs {
		to := strings.ToLower(navs[i].To)
		if customerVisit == nil && strings.Contains(to, "customer") {
			customerVisit = &navs[i]
		}
		if proposalVisit == nil && (strings.Contains(to, "new-business") || strings.Contains(to, "proposal")) {
			proposalVisit = &navs[i]
		}
	}

	if customerVisit != nil {
		confidence += 0.30
		signals = append(signals, "customer_page_visit")
	}
	if proposalVisit != nil {
		confidence += 0.30
		signals = append(signals, "proposal_page_visit")
	}

	if hasNavigationSequence(navs, "customer", "new-business") {
		confidence += 0.25
		signals = append(signals, "workflow_sequence_detected")
	}

	formActions := 0
	for _, a := range ctx.RecentActions {
		if a.Action != schemas.ActionFormInput {
			continue
		}
		page := strings.ToLower(a.Page)
		if strings.Contains(page, "new-business") || strings.Contains(page, "proposal") {
			formActions++
		}
	}
	if formActions > 0 {
		confidence += 0.15
		signals = append(signals, "proposal_form_interaction")
	}

	if confidence < d.MinConfidence() {
		return nil
	}
	return newResult(d, confidence, signals, map[string]any{
		"customer_visited":     customerVisit != nil,
		"proposal_page_active": proposalVisit != nil,
		"form_interactions":    formActions,
	})
}

// hasNavigationSequence reports whether consecutive navigation destinations
// contain the given substrings in order.
func hasNavigationSequence(navs []schemas.NavigationEvent, sequence ...string) bool {
	if len(sequence) == 0 || len(navs) < len(sequence) {
		return false
	}
	for i := 0; i <= len(navs)-len(sequence); i++ {
		match := true
		for j, want := range sequence {
			if !strings.Contains(strings.ToLower(navs[i+j].To), strings.ToLower(want)) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// TaskCompletionDetector recognizes a user moving through a multi-step
// process cleanly: submissions landing, steady pacing, no backtracking.
type TaskCompletionDetector struct{}

func (d *TaskCompletionDetector) Name() string              { return "Task Completion Flow" }
func (d *TaskCompletionDetector) Type() schemas.PatternType { return schemas.PatternTaskCompletion }
func (d *TaskCompletionDetector) MinConfidence() float64    { return 0.80 }

func (d *TaskCompletionDetector) Detect(ctx schemas.SessionContext) *schemas.DetectionResult {
	if len(ctx.NavigationPath) == 0 && len(ctx.RecentActions) == 0 {
		return nil
	}

	var signals []string
	confidence := 0.0

	submissions := len(ctx.ActionsOfType(schemas.ActionFormSubmit))
	if submissions > 0 {
		confidence += 0.40
		signals = append(signals, "form_submitted")
	}

	forwardNavs := 0
	backNavs := 0
	for _, nav := range ctx.NavigationPath {
		switch nav.Trigger {
		case schemas.TriggerClick, schemas.TriggerDirect:
			forwardNavs++
		case schemas.TriggerBack:
			backNavs++
		}
	}
	if len(ctx.NavigationPath) >= 2 && forwardNavs >= 2 {
		confidence += 0.30
		signals = append(signals, "workflow_progression")
	}

	if avg := averageTimePerPage(ctx.NavigationPath); avg > 10*time.Second && avg < 2*time.Minute {
		confidence += 0.20
		signals = append(signals, "appropriate_pacing")
	}

	if backNavs == 0 {
		confidence += 0.10
		signals = append(signals, "confident_navigation")
	}

	if confidence < d.MinConfidence() {
		return nil
	}
	return newResult(d, confidence, signals, map[string]any{
		"forms_submitted":  submissions,
		"back_navigations": backNavs,
	})
}

func averageTimePerPage(navs []schemas.NavigationEvent) time.Duration {
	if len(navs) == 0 {
		return 0
	}
	var total int64
	for _, nav := range navs {
		total += nav.TimeOnPreviousPage
	}
	return time.Duration(total/int64(len(navs))) * time.Millisecond
}
