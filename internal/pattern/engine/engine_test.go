// File: internal/pattern/engine/engine_test.go
package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
	"github.com/mirahq/mira-core/internal/pattern/detect"
	"github.com/mirahq/mira-core/internal/pattern/engine"
	"github.com/mirahq/mira-core/internal/pattern/library"
)

// identityAdjuster passes raw confidence through and serves canned success
// rates, isolating engine mechanics from learning math.
type identityAdjuster struct {
	rates map[schemas.PatternType]float64
}

func (a *identityAdjuster) Adjust(_ schemas.PatternType, raw float64) float64 { return raw }
func (a *identityAdjuster) SuccessRate(p schemas.PatternType) float64         { return a.rates[p] }

func matchingCfg() config.MatchingConfig {
	return config.MatchingConfig{
		MinConfidence:     0.65,
		MaxPatterns:       5,
		ScanInterval:      time.Hour,
		StreamBuffer:      100,
		StreamTrimTo:      50,
		EmergingThreshold: 3,
	}
}

func newEngine(t *testing.T, b *bus.Bus, adj engine.Adjuster, cfg config.MatchingConfig) *engine.Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return engine.New(logger, b, detect.NewRegistry(logger), library.New(), adj, cfg)
}

// proposalContext fires the proposal creation detector at full confidence.
func proposalContext() schemas.SessionContext {
	return schemas.SessionContext{
		NavigationPath: []schemas.NavigationEvent{
			{To: "/customers/42", Trigger: schemas.TriggerClick, Timestamp: time.Now()},
			{To: "/new-business/create", Trigger: schemas.TriggerClick, Timestamp: time.Now()},
		},
		RecentActions: []schemas.InteractionEvent{
			{Action: schemas.ActionFormInput, Page: "/new-business/create"},
		},
	}
}

// frustratedSearchContext fires both the search behavior detector and the
// search frustration library template.
func frustratedSearchContext() schemas.SessionContext {
	now := time.Now()
	return schemas.SessionContext{
		RecentActions: []schemas.InteractionEvent{
			{Action: schemas.ActionSearch, Timestamp: now.Add(-3 * time.Second), Metadata: map[string]any{"query_hash": "a"}},
			{Action: schemas.ActionSearch, Timestamp: now.Add(-2 * time.Second), Metadata: map[string]any{"query_hash": "b"}},
			{Action: schemas.ActionSearch, Timestamp: now.Add(-time.Second), Metadata: map[string]any{"query_hash": "c"}},
			{Action: schemas.ActionSearch, Timestamp: now, Metadata: map[string]any{"query_hash": "d"}},
		},
	}
}

func TestMatchSurfacesDetectorAndLibraryResults(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 16)
	defer b.Shutdown()
	e := newEngine(t, b, &identityAdjuster{}, matchingCfg())

	results := e.Match(context.Background(), frustratedSearchContext())
	require.NotEmpty(t, results)

	byPattern := map[schemas.PatternType]schemas.PatternMatchResult{}
	for _, r := range results {
		byPattern[r.Pattern] = r
	}

	det, ok := byPattern[schemas.PatternSearchBehavior]
	require.True(t, ok, "detector result surfaces")
	assert.Equal(t, schemas.SourceDetector, det.Source)
	assert.Equal(t, schemas.CategoryStruggle, det.Category)
	assert.InDelta(t, 0.85, det.RawScore, 1e-9)

	lib, ok := byPattern[schemas.PatternSearchFrustration]
	require.True(t, ok, "library template surfaces")
	assert.Equal(t, schemas.SourceLibrary, lib.Source)
	assert.InDelta(t, 1.0, lib.RawScore, 1e-9)

	// Sorted best first.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Confidence, results[i].Confidence)
	}
}

func TestMatchCapsResultCount(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 16)
	defer b.Shutdown()
	cfg := matchingCfg()
	cfg.MaxPatterns = 1
	e := newEngine(t, b, &identityAdjuster{}, cfg)

	results := e.Match(context.Background(), frustratedSearchContext())
	require.Len(t, results, 1)
	assert.Equal(t, schemas.PatternSearchFrustration, results[0].Pattern,
		"the full-score library match outranks the detector")
}

func TestPerformanceNudge(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 16)
	defer b.Shutdown()
	adj := &identityAdjuster{rates: map[schemas.PatternType]float64{
		schemas.PatternSearchFrustration: 0.9,
		schemas.PatternSearchBehavior:    0.1,
	}}
	e := newEngine(t, b, adj, matchingCfg())

	results := e.Match(context.Background(), frustratedSearchContext())
	byPattern := map[schemas.PatternType]schemas.PatternMatchResult{}
	for _, r := range results {
		byPattern[r.Pattern] = r
	}

	assert.InDelta(t, 1.0, byPattern[schemas.PatternSearchFrustration].Confidence, 1e-9,
		"boost is clamped at 1.0")
	assert.InDelta(t, 0.80, byPattern[schemas.PatternSearchBehavior].Confidence, 1e-9,
		"a poor track record costs 0.05")
}

// stubDetector reports a library pattern type, forcing a source collision.
type stubDetector struct {
	pattern    schemas.PatternType
	confidence float64
}

func (s *stubDetector) Name() string              { return "stub" }
func (s *stubDetector) Type() schemas.PatternType { return s.pattern }
func (s *stubDetector) MinConfidence() float64    { return 0 }
func (s *stubDetector) Detect(schemas.SessionContext) *schemas.DetectionResult {
	return &schemas.DetectionResult{Pattern: s.pattern, Confidence: s.confidence}
}

func TestDuplicatePatternsMergeToHybrid(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 16)
	defer b.Shutdown()

	reg := detect.NewRegistry(logger)
	reg.Register(&stubDetector{pattern: schemas.PatternSearchFrustration, confidence: 0.9})
	e := engine.New(logger, b, reg, library.New(), &identityAdjuster{}, matchingCfg())

	results := e.Match(context.Background(), frustratedSearchContext())

	var hybrid *schemas.PatternMatchResult
	count := 0
	for i, r := range results {
		if r.Pattern == schemas.PatternSearchFrustration {
			hybrid = &results[i]
			count++
		}
	}
	require.Equal(t, 1, count, "duplicates collapse into a single entry")
	assert.Equal(t, schemas.SourceHybrid, hybrid.Source)
	assert.InDelta(t, 1.0, hybrid.Confidence, 1e-9, "the stronger confidence wins")
}

func TestMatchPublishesOnBus(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 16)
	defer b.Shutdown()
	msgChan, unsub := b.Subscribe(bus.TypeMatches)
	defer unsub()

	e := newEngine(t, b, &identityAdjuster{}, matchingCfg())
	results := e.Match(context.Background(), proposalContext())
	require.NotEmpty(t, results)

	select {
	case msg := <-msgChan:
		b.Acknowledge(msg)
		payload, ok := msg.Payload.([]schemas.PatternMatchResult)
		require.True(t, ok)
		assert.Equal(t, results, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no match message published")
	}
}

func TestBelowThresholdIsSilent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 16)
	defer b.Shutdown()
	msgChan, unsub := b.Subscribe(bus.TypeMatches)
	defer unsub()

	e := newEngine(t, b, &identityAdjuster{}, matchingCfg())
	results := e.Match(context.Background(), schemas.SessionContext{
		RecentActions: []schemas.InteractionEvent{{Action: schemas.ActionClick}},
	})
	assert.Empty(t, results)

	select {
	case msg := <-msgChan:
		b.Acknowledge(msg)
		t.Fatal("nothing should be published for an empty match set")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmergingTrendScan(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 64)
	cfg := matchingCfg()
	cfg.ScanInterval = 20 * time.Millisecond
	cfg.EmergingThreshold = 3
	e := newEngine(t, b, &identityAdjuster{}, cfg)

	trends := make(chan []schemas.PatternType, 1)
	e.OnEmerging(func(ps []schemas.PatternType) {
		select {
		case trends <- ps:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Start(ctx)
	}()

	for i := 0; i < 3; i++ {
		e.Match(ctx, proposalContext())
	}

	select {
	case ps := <-trends:
		assert.Contains(t, ps, schemas.PatternProposalCreation)
	case <-time.After(2 * time.Second):
		t.Fatal("no emerging trend reported")
	}

	cancel()
	<-done
	b.Shutdown()
}

func TestEmergingCallbackPanicDoesNotStopScans(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 64)
	cfg := matchingCfg()
	cfg.ScanInterval = 20 * time.Millisecond
	cfg.EmergingThreshold = 3
	e := newEngine(t, b, &identityAdjuster{}, cfg)

	var calls atomic.Int32
	trends := make(chan []schemas.PatternType, 1)
	e.OnEmerging(func(ps []schemas.PatternType) {
		if calls.Add(1) == 1 {
			panic("bad trend consumer")
		}
		select {
		case trends <- ps:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Start(ctx)
	}()

	// First batch triggers the panicking invocation.
	for i := 0; i < 3; i++ {
		e.Match(ctx, proposalContext())
	}
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// The scan loop must survive and report the next batch.
	for i := 0; i < 3; i++ {
		e.Match(ctx, proposalContext())
	}
	select {
	case ps := <-trends:
		assert.Contains(t, ps, schemas.PatternProposalCreation)
	case <-time.After(2 * time.Second):
		t.Fatal("scan loop did not survive the callback panic")
	}

	cancel()
	<-done
	b.Shutdown()
}
