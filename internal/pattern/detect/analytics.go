// File: internal/pattern/detect/analytics.go
package detect

import (
	"strings"
	"time"

	"github.com/mirahq/mira-core/api/schemas"
)

// AnalyticsExplorationDetector recognizes a user digging through analytics
// looking for insights.
type AnalyticsExplorationDetector struct{}

const (
	analyticsMinVisits = 2
	analyticsMinTime   = 30 * time.Second
)

func (d *AnalyticsExplorationDetector) Name() string { return "Analytics Deep Dive" }
func (d *AnalyticsExplorationDetector) Type() schemas.PatternType {
	return schemas.PatternAnalyticsExploration
}
func (d *AnalyticsExplorationDetector) MinConfidence() float64 { return 0.75 }

func (d *AnalyticsExplorationDetector) Detect(ctx schemas.SessionContext) *schemas.DetectionResult {
	if len(ctx.NavigationPath) == 0 {
		return nil
	}

	var signals []string
	confidence := 0.0

	visits := 0
	var totalTime int64
	for _, nav := range ctx.NavigationPath {
		if strings.Contains(strings.ToLower(nav.To), "analytics") {
			visits++
			totalTime += nav.TimeOnPreviousPage
		}
	}

	if visits >= analyticsMinVisits {
		confidence += 0.35
		signals = append(signals, "repeated_analytics_visits")
	}

	if time.Duration(totalTime)*time.Millisecond > analyticsMinTime {
		confidence += 0.30
		signals = append(signals, "extended_analytics_session")
	}

	interactions := 0
	chartClicks := 0
	for _, a := range ctx.RecentActions {
		onAnalytics := strings.Contains(strings.ToLower(a.Page), "analytics")
		if onAnalytics && (a.Action == schemas.ActionClick || a.Action == schemas.ActionSearch) {
			interactions++
		}
		label := strings.ToLower(a.Element)
		if strings.Contains(label, "chart") || strings.Contains(label, "report") || strings.Contains(label, "export") {
			chartClicks++
		}
	}

	if interactions > 3 {
		confidence += 0.20
		signals = append(signals, "analytics_interaction")
	}
	if chartClicks > 0 {
		confidence += 0.15
		signals = append(signals, "chart_interactions")
	}

	if confidence < d.MinConfidence() {
		return nil
	}
	return newResult(d, confidence, signals, map[string]any{
		"total_visits":      visits,
		"total_time_ms":     totalTime,
		"interaction_count": interactions,
	})
}
