// File: internal/engagement/tracker.go

// Package engagement records how users react to proactive suggestions. Each
// shown suggestion is tracked until it is accepted, dismissed, or sits
// unanswered long enough to count as ignored. Reactions to pattern-driven
// suggestions are replayed onto the bus as feedback so the learner sees them.
package engagement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
)

// EngagementStore persists engagement events. *store.Store satisfies it.
type EngagementStore interface {
	SaveEngagements(ctx context.Context, events []schemas.EngagementEvent) error
}

// pendingSuggestion is a shown suggestion awaiting a user reaction.
type pendingSuggestion struct {
	suggestion schemas.ProactiveSuggestion
	shownAt    time.Time
}

// Tracker consumes shown suggestions off the bus, records the user's
// reactions and uploads the resulting event stream in batches.
type Tracker struct {
	logger *zap.Logger
	bus    *bus.Bus
	store  EngagementStore
	cfg    config.EngagementConfig

	msgChan <-chan bus.Message

	mu      sync.Mutex
	pending map[string]pendingSuggestion
	// rateable holds accepted suggestions that can still receive a
	// helpfulness rating.
	rateable map[string]pendingSuggestion
	queue    []schemas.EngagementEvent

	// Running totals survive queue trimming and uploads.
	shown, accepted, dismissed, ignored int64
	helpful, notHelpful                 int64
	byRule                              map[string]schemas.RuleStats
	decisionSumMS                       int64
	decisionCount                       int64

	isUploading bool

	now func() time.Time
}

// NewTracker initializes the Tracker and subscribes to suggestion messages.
func NewTracker(logger *zap.Logger, b *bus.Bus, st EngagementStore, cfg config.EngagementConfig) *Tracker {
	msgChan, _ := b.Subscribe(bus.TypeSuggestion)

	return &Tracker{
		logger:   logger.Named("engagement"),
		bus:      b,
		store:    st,
		cfg:      cfg,
		msgChan:  msgChan,
		pending:  make(map[string]pendingSuggestion),
		rateable: make(map[string]pendingSuggestion),
		byRule:   make(map[string]schemas.RuleStats),
		now:      time.Now,
	}
}

// Start consumes suggestions until the context is cancelled or the bus shuts
// down, sweeping unanswered suggestions into ignores and uploading batches on
// the way.
func (t *Tracker) Start(ctx context.Context) {
	t.logger.Info("Engagement tracker started",
		zap.Duration("ignore_after", t.cfg.IgnoreAfter),
		zap.Duration("upload_interval", t.cfg.UploadInterval))

	uploadTicker := time.NewTicker(t.cfg.UploadInterval)
	defer uploadTicker.Stop()
	sweepTicker := time.NewTicker(t.cfg.IgnoreAfter)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.finalUpload()
			return
		case msg, ok := <-t.msgChan:
			if !ok {
				t.finalUpload()
				return
			}
			t.processMessage(ctx, msg)
		case <-sweepTicker.C:
			t.sweepIgnored(ctx)
		case <-uploadTicker.C:
			if err := t.Upload(ctx); err != nil {
				t.logger.Error("Engagement upload failed", zap.Error(err))
			}
		}
	}
}

func (t *Tracker) processMessage(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Panic recovered in Tracker handler",
				zap.String("message_id", msg.ID),
				zap.Any("panic_value", r),
			)
		}
		t.bus.Acknowledge(msg)
	}()

	s, ok := msg.Payload.(schemas.ProactiveSuggestion)
	if !ok {
		return
	}
	t.RecordShown(ctx, s)
}

// RecordShown registers a surfaced suggestion. It stays pending until the
// user reacts or the ignore window elapses.
func (t *Tracker) RecordShown(ctx context.Context, s schemas.ProactiveSuggestion) {
	now := t.now()

	t.mu.Lock()
	t.pending[s.ID] = pendingSuggestion{suggestion: s, shownAt: now}
	t.shown++
	rs := t.byRule[s.RuleID]
	rs.Shown++
	t.byRule[s.RuleID] = rs
	t.enqueueLocked(schemas.EngagementEvent{
		SuggestionID: s.ID,
		RuleID:       s.RuleID,
		Category:     s.Category,
		Type:         schemas.EngagementShown,
		Timestamp:    now.UTC(),
	})
	t.mu.Unlock()

	t.logger.Debug("Suggestion shown",
		zap.String("suggestion_id", s.ID),
		zap.String("rule_id", s.RuleID))
}

// RecordAccepted resolves a pending suggestion as accepted. Returns false
// when the suggestion is not pending.
func (t *Tracker) RecordAccepted(ctx context.Context, suggestionID string) bool {
	return t.resolve(ctx, suggestionID, schemas.EngagementAccepted)
}

// RecordDismissed resolves a pending suggestion as dismissed. Returns false
// when the suggestion is not pending.
func (t *Tracker) RecordDismissed(ctx context.Context, suggestionID string) bool {
	return t.resolve(ctx, suggestionID, schemas.EngagementDismissed)
}

func (t *Tracker) resolve(ctx context.Context, suggestionID string, eventType schemas.EngagementEventType) bool {
	now := t.now()

	t.mu.Lock()
	p, ok := t.pending[suggestionID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, suggestionID)

	elapsed := now.Sub(p.shownAt).Milliseconds()
	switch eventType {
	case schemas.EngagementAccepted:
		t.accepted++
		rs := t.byRule[p.suggestion.RuleID]
		rs.Accepted++
		t.byRule[p.suggestion.RuleID] = rs
		t.rateable[suggestionID] = pendingSuggestion{suggestion: p.suggestion, shownAt: now}
	case schemas.EngagementDismissed:
		t.dismissed++
	case schemas.EngagementIgnored:
		t.ignored++
	}
	t.decisionSumMS += elapsed
	t.decisionCount++
	t.enqueueLocked(schemas.EngagementEvent{
		SuggestionID: suggestionID,
		RuleID:       p.suggestion.RuleID,
		Category:     p.suggestion.Category,
		Type:         eventType,
		Timestamp:    now.UTC(),

		TimeToDecisionMS: elapsed,
	})
	t.mu.Unlock()

	t.logger.Debug("Suggestion resolved",
		zap.String("suggestion_id", suggestionID),
		zap.String("outcome", string(eventType)),
		zap.Int64("time_to_decision_ms", elapsed))

	t.feedBack(ctx, p.suggestion, eventType)
	return true
}

// feedBack forwards the reaction to the learner when the suggestion came from
// a pattern match.
func (t *Tracker) feedBack(ctx context.Context, s schemas.ProactiveSuggestion, eventType schemas.EngagementEventType) {
	if s.Pattern == "" {
		return
	}
	verdict, ok := eventType.Verdict()
	if !ok {
		return
	}

	fb := schemas.PatternFeedback{
		Pattern:    s.Pattern,
		Verdict:    verdict,
		Confidence: s.RelevanceScore,
		OccurredAt: t.now().UTC(),
	}
	if err := t.bus.Post(ctx, bus.TypeFeedback, fb); err != nil {
		t.logger.Warn("Failed to publish pattern feedback", zap.Error(err))
	}
}

// RecordHelpfulness rates an accepted suggestion. The rating window matches
// the ignore window; returns false when the suggestion is not rateable.
func (t *Tracker) RecordHelpfulness(ctx context.Context, suggestionID string, helpful bool) bool {
	now := t.now()
	eventType := schemas.EngagementHelpful
	if !helpful {
		eventType = schemas.EngagementNotHelpful
	}

	t.mu.Lock()
	p, ok := t.rateable[suggestionID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.rateable, suggestionID)

	if helpful {
		t.helpful++
	} else {
		t.notHelpful++
	}
	t.enqueueLocked(schemas.EngagementEvent{
		SuggestionID: suggestionID,
		RuleID:       p.suggestion.RuleID,
		Category:     p.suggestion.Category,
		Type:         eventType,
		Timestamp:    now.UTC(),
	})
	t.mu.Unlock()

	t.logger.Debug("Suggestion rated",
		zap.String("suggestion_id", suggestionID),
		zap.Bool("helpful", helpful))

	t.feedBack(ctx, p.suggestion, eventType)
	return true
}

// sweepIgnored converts pending suggestions past the ignore window into
// ignored events.
func (t *Tracker) sweepIgnored(ctx context.Context) {
	cutoff := t.now().Add(-t.cfg.IgnoreAfter)

	t.mu.Lock()
	expired := make([]string, 0)
	for id, p := range t.pending {
		if p.shownAt.Before(cutoff) || p.shownAt.Equal(cutoff) {
			expired = append(expired, id)
		}
	}
	for id, p := range t.rateable {
		if p.shownAt.Before(cutoff) || p.shownAt.Equal(cutoff) {
			delete(t.rateable, id)
		}
	}
	t.mu.Unlock()

	for _, id := range expired {
		t.resolve(ctx, id, schemas.EngagementIgnored)
	}
}

// enqueueLocked appends an event to the upload queue, dropping the oldest
// entries past the cap. Caller holds t.mu.
func (t *Tracker) enqueueLocked(ev schemas.EngagementEvent) {
	t.queue = append(t.queue, ev)
	if len(t.queue) > t.cfg.MaxEvents {
		over := len(t.queue) - t.cfg.MaxEvents
		t.queue = append(t.queue[:0:0], t.queue[over:]...)
	}
}

// Upload persists the oldest queued events, at most one batch per call.
// Re-entrant calls while an upload is in flight return immediately; on
// failure the batch stays queued for the next attempt.
func (t *Tracker) Upload(ctx context.Context) error {
	t.mu.Lock()
	if t.isUploading || len(t.queue) == 0 {
		t.mu.Unlock()
		return nil
	}
	t.isUploading = true

	n := len(t.queue)
	if n > t.cfg.UploadBatch {
		n = t.cfg.UploadBatch
	}
	batch := make([]schemas.EngagementEvent, n)
	copy(batch, t.queue[:n])
	t.mu.Unlock()

	err := t.store.SaveEngagements(ctx, batch)

	t.mu.Lock()
	t.isUploading = false
	if err == nil {
		t.queue = append(t.queue[:0:0], t.queue[n:]...)
	}
	t.mu.Unlock()

	if err != nil {
		return err
	}
	t.logger.Debug("Engagement batch uploaded", zap.Int("events", n))
	return nil
}

// finalUpload drains the queue with a bounded timeout during shutdown.
func (t *Tracker) finalUpload() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		t.mu.Lock()
		remaining := len(t.queue)
		t.mu.Unlock()
		if remaining == 0 {
			return
		}
		if err := t.Upload(ctx); err != nil {
			t.logger.Error("Final engagement upload failed", zap.Error(err))
			return
		}
	}
}

// Stats reports aggregate engagement counts since startup.
func (t *Tracker) Stats() schemas.EngagementStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := schemas.EngagementStats{
		Shown:      t.shown,
		Accepted:   t.accepted,
		Dismissed:  t.dismissed,
		Ignored:    t.ignored,
		Helpful:    t.helpful,
		NotHelpful: t.notHelpful,
		ByRule:     make(map[string]schemas.RuleStats, len(t.byRule)),
	}
	if t.shown > 0 {
		stats.AcceptRate = float64(t.accepted) / float64(t.shown)
	}
	if rated := t.helpful + t.notHelpful; rated > 0 {
		stats.Helpfulness = float64(t.helpful) / float64(rated)
	}
	for rule, rs := range t.byRule {
		stats.ByRule[rule] = rs
	}
	return stats
}

// AvgTimeToDecision is the mean latency between a suggestion being shown and
// the user reacting to it. Zero when nothing has been resolved yet.
func (t *Tracker) AvgTimeToDecision() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.decisionCount == 0 {
		return 0
	}
	return time.Duration(t.decisionSumMS/t.decisionCount) * time.Millisecond
}

// PendingCount is the number of shown suggestions still awaiting a reaction.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
