// File: internal/pattern/learning/learning.go

// Package learning accumulates user feedback per pattern type and folds it
// back into match confidence. The in-memory state is authoritative during a
// session; flushes persist snapshots so history survives restarts.
package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
)

// defaultConfidence is used for patterns with no recorded history.
const defaultConfidence = 0.5

// confidenceSmoothing is the weight given to the newest feedback entry when
// updating a pattern's smoothed confidence.
const confidenceSmoothing = 0.2

// minOccurrencesForReview keeps barely-seen patterns out of the
// needs-improvement report.
const minOccurrencesForReview = 3

// PatternStore persists learned pattern state. *store.Store satisfies it.
type PatternStore interface {
	UpsertLearnedPatterns(ctx context.Context, patterns []schemas.LearnedPattern) error
	LoadLearnedPatterns(ctx context.Context) (map[schemas.PatternType]schemas.LearnedPattern, error)
}

// Learner consumes pattern feedback off the bus, maintains per-pattern success
// statistics and answers confidence adjustment queries for the matching engine.
type Learner struct {
	logger *zap.Logger
	bus    *bus.Bus
	store  PatternStore
	cfg    config.LearningConfig

	msgChan <-chan bus.Message

	mu         sync.Mutex
	learned    map[schemas.PatternType]schemas.LearnedPattern
	dirty      map[schemas.PatternType]bool
	pending    int
	isFlushing bool

	now func() time.Time
}

// NewLearner initializes the Learner and subscribes to feedback messages.
func NewLearner(logger *zap.Logger, b *bus.Bus, st PatternStore, cfg config.LearningConfig) *Learner {
	msgChan, _ := b.Subscribe(bus.TypeFeedback)

	return &Learner{
		logger:  logger.Named("learning"),
		bus:     b,
		store:   st,
		cfg:     cfg,
		msgChan: msgChan,
		learned: make(map[schemas.PatternType]schemas.LearnedPattern),
		dirty:   make(map[schemas.PatternType]bool),
		now:     time.Now,
	}
}

// Start loads persisted history and then consumes feedback until the context
// is cancelled or the bus shuts down, flushing dirty state on the way out.
func (l *Learner) Start(ctx context.Context) {
	if err := l.Load(ctx); err != nil {
		l.logger.Warn("Starting without persisted pattern history", zap.Error(err))
	}

	l.logger.Info("Learner started",
		zap.Int("flush_threshold", l.cfg.FlushThreshold),
		zap.Duration("flush_interval", l.cfg.FlushInterval))

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.finalFlush()
			return
		case msg, ok := <-l.msgChan:
			if !ok {
				l.finalFlush()
				return
			}
			l.processMessage(ctx, msg)
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.logger.Error("Periodic flush failed", zap.Error(err))
			}
		}
	}
}

// Load replaces the in-memory state with the persisted history. Dirty local
// entries are kept over their persisted counterparts.
func (l *Learner) Load(ctx context.Context) error {
	persisted, err := l.store.LoadLearnedPatterns(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for pt, lp := range persisted {
		if !l.dirty[pt] {
			l.learned[pt] = lp
		}
	}
	l.logger.Info("Loaded pattern history", zap.Int("patterns", len(persisted)))
	return nil
}

func (l *Learner) processMessage(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered in Learner handler",
				zap.String("message_id", msg.ID),
				zap.Any("panic_value", r),
			)
		}
		l.bus.Acknowledge(msg)
	}()

	fb, ok := msg.Payload.(schemas.PatternFeedback)
	if !ok {
		return
	}
	l.Record(ctx, fb)
}

// Record applies one feedback entry to the pattern's statistics. Once enough
// entries accumulate, the state is flushed to the store.
func (l *Learner) Record(ctx context.Context, fb schemas.PatternFeedback) {
	if fb.Pattern == "" {
		return
	}

	l.mu.Lock()
	lp, ok := l.learned[fb.Pattern]
	if !ok {
		lp = schemas.LearnedPattern{Pattern: fb.Pattern, Confidence: defaultConfidence}
	}

	lp.Occurrences++
	if fb.Verdict.Success() {
		lp.Successes++
	}
	lp.Confidence = lp.Confidence*(1-confidenceSmoothing) + fb.Confidence*confidenceSmoothing
	lp.LastSeen = fb.OccurredAt
	lp.UpdatedAt = l.now().UTC()

	l.learned[fb.Pattern] = lp
	l.dirty[fb.Pattern] = true
	l.pending++
	full := l.pending >= l.cfg.FlushThreshold
	l.mu.Unlock()

	l.logger.Debug("Feedback recorded",
		zap.String("pattern", string(fb.Pattern)),
		zap.String("verdict", string(fb.Verdict)))

	if full {
		if err := l.Flush(ctx); err != nil {
			l.logger.Error("Threshold flush failed", zap.Error(err))
		}
	}
}

// Flush persists every dirty pattern. Re-entrant calls while a flush is in
// flight return immediately; on failure the dirty set is retained so the next
// flush retries the same snapshots.
func (l *Learner) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.isFlushing || len(l.dirty) == 0 {
		l.mu.Unlock()
		return nil
	}
	l.isFlushing = true

	batch := make([]schemas.LearnedPattern, 0, len(l.dirty))
	for pt := range l.dirty {
		batch = append(batch, l.learned[pt])
	}
	l.mu.Unlock()

	err := l.store.UpsertLearnedPatterns(ctx, batch)

	l.mu.Lock()
	l.isFlushing = false
	if err == nil {
		// Entries touched during the flush stay dirty.
		for _, lp := range batch {
			if l.learned[lp.Pattern].UpdatedAt.Equal(lp.UpdatedAt) {
				delete(l.dirty, lp.Pattern)
			}
		}
		l.pending = 0
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}
	l.logger.Debug("Flushed learned patterns", zap.Int("count", len(batch)))
	return nil
}

// Adjust blends a raw match confidence with the pattern's learned history:
// a weighted blend of raw and smoothed confidence, nudged by how far the
// success rate sits from even odds, clamped to [0,1].
func (l *Learner) Adjust(pattern schemas.PatternType, raw float64) float64 {
	learnedConf := defaultConfidence
	successRate := 0.0

	l.mu.Lock()
	if lp, ok := l.learned[pattern]; ok {
		learnedConf = lp.Confidence
		successRate = lp.SuccessRate()
	}
	l.mu.Unlock()

	blended := raw*l.cfg.RawWeight + learnedConf*l.cfg.LearnedWeight
	adjusted := blended + (successRate-0.5)*l.cfg.SuccessRateInfluence

	if adjusted < 0 {
		return 0
	}
	if adjusted > 1 {
		return 1
	}
	return adjusted
}

// SuccessRate returns the pattern's recorded success rate, or zero without
// history.
func (l *Learner) SuccessRate(pattern schemas.PatternType) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lp, ok := l.learned[pattern]; ok {
		return lp.SuccessRate()
	}
	return 0
}

// Learned returns a copy of the pattern's accumulated state.
func (l *Learner) Learned(pattern schemas.PatternType) (schemas.LearnedPattern, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lp, ok := l.learned[pattern]
	return lp, ok
}

// Snapshot returns a copy of all accumulated pattern state.
func (l *Learner) Snapshot() map[schemas.PatternType]schemas.LearnedPattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[schemas.PatternType]schemas.LearnedPattern, len(l.learned))
	for pt, lp := range l.learned {
		out[pt] = lp
	}
	return out
}

// TopPatterns returns the n patterns with the highest success rate, ties
// broken by occurrence count.
func (l *Learner) TopPatterns(n int) []schemas.LearnedPattern {
	l.mu.Lock()
	out := make([]schemas.LearnedPattern, 0, len(l.learned))
	for _, lp := range l.learned {
		out = append(out, lp)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].SuccessRate(), out[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return out[i].Occurrences > out[j].Occurrences
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// PatternsNeedingImprovement returns patterns whose success rate has fallen
// below the threshold despite repeated feedback.
func (l *Learner) PatternsNeedingImprovement(threshold float64) []schemas.LearnedPattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schemas.LearnedPattern, 0)
	for _, lp := range l.learned {
		if lp.Occurrences >= minOccurrencesForReview && lp.SuccessRate() < threshold {
			out = append(out, lp)
		}
	}
	return out
}

func (l *Learner) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Flush(ctx); err != nil {
		l.logger.Error("Final flush failed", zap.Error(err))
	}
	l.logger.Info("Learner stopped")
}
