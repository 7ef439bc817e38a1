// File: internal/pattern/engine/engine.go

// Package engine unifies detector-based and template-based pattern matching
// under the learned confidence model. A match pass fans detectors out
// concurrently, scores library templates off the extracted indicators, adjusts
// everything through the learner and publishes the surviving matches.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
	"github.com/mirahq/mira-core/internal/pattern/detect"
	"github.com/mirahq/mira-core/internal/pattern/library"
)

// Post-filter confidence nudge applied at the success rate extremes.
const (
	performanceBoost   = 0.05
	highPerformanceCut = 0.8
	lowPerformanceCut  = 0.3
)

// Adjuster folds learned history into raw match confidence. *learning.Learner
// satisfies it.
type Adjuster interface {
	Adjust(pattern schemas.PatternType, raw float64) float64
	SuccessRate(pattern schemas.PatternType) float64
}

// Engine coordinates one full matching pass per session snapshot and keeps a
// rolling history for trend scans.
type Engine struct {
	logger   *zap.Logger
	bus      *bus.Bus
	registry *detect.Registry
	lib      *library.Library
	adjuster Adjuster
	cfg      config.MatchingConfig

	mu       sync.Mutex
	stream   []schemas.PatternType
	emerging func([]schemas.PatternType)

	now func() time.Time
}

// New builds the Engine.
func New(logger *zap.Logger, b *bus.Bus, reg *detect.Registry, lib *library.Library, adj Adjuster, cfg config.MatchingConfig) *Engine {
	return &Engine{
		logger:   logger.Named("engine"),
		bus:      b,
		registry: reg,
		lib:      lib,
		adjuster: adj,
		cfg:      cfg,
		now:      time.Now,
	}
}

// OnEmerging registers a callback for emerging trend notifications from the
// background scan. Must be set before Start.
func (e *Engine) OnEmerging(fn func([]schemas.PatternType)) {
	e.mu.Lock()
	e.emerging = fn
	e.mu.Unlock()
}

// Match runs one full pass over a session snapshot: detectors and library
// templates, learning adjustment, confidence filtering and dedup. Matches are
// published on the bus and appended to the rolling history.
func (e *Engine) Match(ctx context.Context, sctx schemas.SessionContext) []schemas.PatternMatchResult {
	detections := e.runDetectors(ctx, sctx)

	results := make([]schemas.PatternMatchResult, 0, len(detections)+4)
	for _, d := range detections {
		results = append(results, e.fromDetection(d))
	}
	results = append(results, e.fromLibrary(sctx, detections)...)

	results = e.applyPerformanceNudge(results)
	results = mergeDuplicates(results)

	filtered := results[:0]
	for _, r := range results {
		if r.Confidence >= e.cfg.MinConfidence {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})
	if len(filtered) > e.cfg.MaxPatterns {
		filtered = filtered[:e.cfg.MaxPatterns]
	}

	e.buffer(filtered)

	if len(filtered) > 0 {
		if err := e.bus.Post(ctx, bus.TypeMatches, filtered); err != nil {
			e.logger.Warn("Failed to publish matches", zap.Error(err))
		}
	}
	return filtered
}

// runDetectors fans the registered detectors out concurrently. A detector
// panic is contained by the registry wrapper; a cancelled context stops the
// fan-out early.
func (e *Engine) runDetectors(ctx context.Context, sctx schemas.SessionContext) []*schemas.DetectionResult {
	detectors := e.registry.Detectors()
	slots := make([]*schemas.DetectionResult, len(detectors))

	g, _ := errgroup.WithContext(ctx)
	for i, d := range detectors {
		i, d := i, d
		g.Go(func() error {
			slots[i] = e.registry.RunOne(d, sctx)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	out := make([]*schemas.DetectionResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) fromDetection(d *schemas.DetectionResult) schemas.PatternMatchResult {
	return schemas.PatternMatchResult{
		Pattern:    d.Pattern,
		Category:   detectorCategory(d.Pattern),
		Source:     schemas.SourceDetector,
		Confidence: e.adjuster.Adjust(d.Pattern, d.Confidence),
		RawScore:   d.Confidence,
		MatchedAt:  e.now().UTC(),
		Signals:    d.Signals,
		Evidence:   d.Evidence,
	}
}

func (e *Engine) fromLibrary(sctx schemas.SessionContext, detections []*schemas.DetectionResult) []schemas.PatternMatchResult {
	indicators := library.ExtractIndicators(sctx, detections)
	matches := e.lib.Match(indicators, "")

	out := make([]schemas.PatternMatchResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, schemas.PatternMatchResult{
			Pattern:    m.Template.ID,
			Category:   m.Template.Category,
			Source:     schemas.SourceLibrary,
			Confidence: e.adjuster.Adjust(m.Template.ID, m.Score),
			RawScore:   m.Score,
			MatchedAt:  e.now().UTC(),
			Signals:    indicators,
		})
	}
	return out
}

// applyPerformanceNudge boosts patterns with a strong track record and cuts
// chronically rejected ones.
func (e *Engine) applyPerformanceNudge(results []schemas.PatternMatchResult) []schemas.PatternMatchResult {
	for i := range results {
		rate := e.adjuster.SuccessRate(results[i].Pattern)
		switch {
		case rate > highPerformanceCut:
			results[i].Confidence = min1(results[i].Confidence + performanceBoost)
		case rate < lowPerformanceCut:
			results[i].Confidence = max0(results[i].Confidence - performanceBoost)
		}
	}
	return results
}

// mergeDuplicates collapses results sharing a pattern type into one entry,
// keeping the strongest confidence. A pattern both detected and matched from
// the library becomes a hybrid.
func mergeDuplicates(results []schemas.PatternMatchResult) []schemas.PatternMatchResult {
	byPattern := make(map[schemas.PatternType]int, len(results))
	out := results[:0]
	for _, r := range results {
		idx, seen := byPattern[r.Pattern]
		if !seen {
			byPattern[r.Pattern] = len(out)
			out = append(out, r)
			continue
		}
		kept := &out[idx]
		if r.Source != kept.Source {
			kept.Source = schemas.SourceHybrid
		}
		if r.Confidence > kept.Confidence {
			kept.Confidence = r.Confidence
			kept.RawScore = r.RawScore
			kept.Signals = r.Signals
			kept.Evidence = r.Evidence
		}
	}
	return out
}

// Start runs the background trend scan until the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Engine started",
		zap.Float64("min_confidence", e.cfg.MinConfidence),
		zap.Duration("scan_interval", e.cfg.ScanInterval))

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopped")
			return
		case <-ticker.C:
			e.scanStream()
		}
	}
}

func (e *Engine) buffer(results []schemas.PatternMatchResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range results {
		e.stream = append(e.stream, r.Pattern)
	}
	if len(e.stream) > e.cfg.StreamBuffer {
		e.stream = append([]schemas.PatternType(nil), e.stream[len(e.stream)-e.cfg.StreamTrimTo:]...)
	}
}

// scanStream drains the rolling history and reports pattern types recurring
// past the emerging threshold.
func (e *Engine) scanStream() {
	e.mu.Lock()
	if len(e.stream) == 0 {
		e.mu.Unlock()
		return
	}
	patterns := e.stream
	e.stream = nil
	emerging := e.emerging
	e.mu.Unlock()

	counts := make(map[schemas.PatternType]int, len(patterns))
	for _, p := range patterns {
		counts[p]++
	}

	var trends []schemas.PatternType
	for p, n := range counts {
		if n >= e.cfg.EmergingThreshold {
			trends = append(trends, p)
		}
	}
	if len(trends) == 0 {
		return
	}
	sort.Slice(trends, func(i, j int) bool { return counts[trends[i]] > counts[trends[j]] })

	e.logger.Debug("Emerging pattern trends", zap.Any("patterns", trends))
	if emerging != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Panic recovered in emerging trend callback", zap.Any("panic_value", r))
				}
			}()
			emerging(trends)
		}()
	}
}

// EmergingSnapshot returns the current rolling history length, for diagnostics.
func (e *Engine) EmergingSnapshot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stream)
}

func detectorCategory(p schemas.PatternType) schemas.PatternCategory {
	switch p {
	case schemas.PatternProposalCreation:
		return schemas.CategoryWorkflow
	case schemas.PatternTaskCompletion:
		return schemas.CategorySuccess
	case schemas.PatternFormStruggle, schemas.PatternSearchBehavior:
		return schemas.CategoryStruggle
	case schemas.PatternAnalyticsExploration:
		return schemas.CategoryExploration
	default:
		return schemas.CategoryWorkflow
	}
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
