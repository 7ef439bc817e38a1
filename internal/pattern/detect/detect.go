// File: internal/pattern/detect/detect.go

// Package detect holds the heuristic pattern detectors. Each detector scores
// one behavioral pattern against a session snapshot by accumulating weighted
// signals; a result only surfaces once the score clears the detector's
// threshold.
package detect

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
)

// Detector scores a single pattern type against a session snapshot. Detect
// returns nil when the accumulated confidence stays below MinConfidence.
type Detector interface {
	Name() string
	Type() schemas.PatternType
	MinConfidence() float64
	Detect(ctx schemas.SessionContext) *schemas.DetectionResult
}

// Registry runs a fixed set of detectors over snapshots. Detector panics are
// contained so one misbehaving heuristic cannot take down a scan.
type Registry struct {
	logger    *zap.Logger
	detectors []Detector
}

// NewRegistry builds a registry with the default detector set.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("detectors"),
		detectors: []Detector{
			&ProposalCreationDetector{},
			&FormStruggleDetector{},
			&AnalyticsExplorationDetector{},
			&SearchBehaviorDetector{},
			&TaskCompletionDetector{},
		},
	}
}

// Register appends a custom detector.
func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Detectors returns a copy of the registered detector list.
func (r *Registry) Detectors() []Detector {
	out := make([]Detector, len(r.detectors))
	copy(out, r.detectors)
	return out
}

// ByType returns the detector for a pattern type, or nil.
func (r *Registry) ByType(t schemas.PatternType) Detector {
	for _, d := range r.detectors {
		if d.Type() == t {
			return d
		}
	}
	return nil
}

// DetectAll runs every detector over the snapshot and returns the surfaced
// results sorted by confidence, highest first.
func (r *Registry) DetectAll(ctx schemas.SessionContext) []schemas.DetectionResult {
	var results []schemas.DetectionResult
	for _, d := range r.detectors {
		if res := r.RunOne(d, ctx); res != nil {
			results = append(results, *res)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

// RunOne executes a single detector with panic containment.
func (r *Registry) RunOne(d Detector, ctx schemas.SessionContext) (res *schemas.DetectionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic recovered in detector",
				zap.String("detector", d.Name()),
				zap.Any("panic_value", rec),
			)
			res = nil
		}
	}()
	return d.Detect(ctx)
}

// newResult stamps a detection result for a detector.
func newResult(d Detector, confidence float64, signals []string, evidence map[string]any) *schemas.DetectionResult {
	return &schemas.DetectionResult{
		Pattern:    d.Type(),
		Confidence: confidence,
		DetectedAt: time.Now().UTC(),
		Signals:    signals,
		Evidence:   evidence,
	}
}
