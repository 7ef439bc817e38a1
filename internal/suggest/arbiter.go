// File: internal/suggest/arbiter.go

// Package suggest decides when the assistant should speak up. Trigger rules
// and pattern matches both propose suggestions; the arbiter enforces one
// outstanding suggestion at a time through a global rate gate, per-rule
// cooldowns, typing suppression and dismissal memory.
package suggest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
)

// Metrics summarizes suggestion engagement for diagnostics.
type Metrics struct {
	TotalDismissed int     `json:"total_dismissed"`
	TotalAccepted  int     `json:"total_accepted"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// Arbiter evaluates trigger rules over session snapshots and publishes the
// winning suggestion.
type Arbiter struct {
	logger *zap.Logger
	bus    *bus.Bus
	cfg    config.SuggestionsConfig
	rules  []Rule

	// limiter is the global gate between any two suggestions, regardless
	// of which rule produced them.
	limiter *rate.Limiter

	msgChan <-chan bus.Message

	mu        sync.Mutex
	dismissed map[string]time.Time
	accepted  map[string]bool
	ruleFired map[string]time.Time

	now func() time.Time
}

// NewArbiter initializes the Arbiter with the default rule set and subscribes
// to pattern match messages.
func NewArbiter(logger *zap.Logger, b *bus.Bus, cfg config.SuggestionsConfig) *Arbiter {
	msgChan, _ := b.Subscribe(bus.TypeMatches)

	return &Arbiter{
		logger:    logger.Named("suggest"),
		bus:       b,
		cfg:       cfg,
		rules:     defaultRules(),
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		msgChan:   msgChan,
		dismissed: make(map[string]time.Time),
		accepted:  make(map[string]bool),
		ruleFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Start consumes pattern match messages until the context is cancelled or the
// bus shuts down.
func (a *Arbiter) Start(ctx context.Context) {
	a.logger.Info("Arbiter started",
		zap.Duration("min_interval", a.cfg.MinInterval),
		zap.Int("rules", len(a.rules)))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Arbiter stopped")
			return
		case msg, ok := <-a.msgChan:
			if !ok {
				a.logger.Info("Arbiter stopped")
				return
			}
			a.processMessage(ctx, msg)
		}
	}
}

func (a *Arbiter) processMessage(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Panic recovered in Arbiter handler",
				zap.String("message_id", msg.ID),
				zap.Any("panic_value", r),
			)
		}
		a.bus.Acknowledge(msg)
	}()

	matches, ok := msg.Payload.([]schemas.PatternMatchResult)
	if !ok || len(matches) == 0 {
		return
	}
	// Matches arrive sorted; the strongest one speaks for the batch.
	a.offer(ctx, patternSuggestion(matches[0]))
}

// Evaluate runs the trigger rules against a snapshot and publishes the first
// suggestion that clears every gate. Returns nil when nothing fires.
func (a *Arbiter) Evaluate(ctx context.Context, sctx schemas.SessionContext) *schemas.ProactiveSuggestion {
	if !a.cfg.Enabled {
		return nil
	}
	now := a.now()

	if a.isTyping(sctx, now) {
		return nil
	}

	for _, rule := range a.rules {
		a.mu.Lock()
		fired, seen := a.ruleFired[rule.ID]
		a.mu.Unlock()
		if seen && now.Sub(fired) < rule.Cooldown {
			continue
		}
		if !rule.Check(sctx, now) {
			continue
		}
		if s := a.offer(ctx, rule.Generate(sctx)); s != nil {
			return s
		}
	}
	return nil
}

// offer runs a candidate suggestion through dismissal memory and the global
// gate, then publishes it.
func (a *Arbiter) offer(ctx context.Context, s schemas.ProactiveSuggestion) *schemas.ProactiveSuggestion {
	now := a.now()

	a.mu.Lock()
	if at, ok := a.dismissed[s.ID]; ok && now.Sub(at) < a.cfg.DismissCooldown {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if !a.limiter.Allow() {
		return nil
	}

	s.CreatedAt = now.UTC()

	a.mu.Lock()
	a.ruleFired[s.RuleID] = now
	a.mu.Unlock()

	if err := a.bus.Post(ctx, bus.TypeSuggestion, s); err != nil {
		a.logger.Warn("Failed to publish suggestion", zap.Error(err))
	}
	a.logger.Debug("Suggestion offered",
		zap.String("id", s.ID),
		zap.Float64("relevance", s.RelevanceScore))
	return &s
}

// isTyping reports whether the last interaction was a keystroke inside the
// typing grace window. Interrupting mid-entry is worse than staying quiet.
func (a *Arbiter) isTyping(sctx schemas.SessionContext, now time.Time) bool {
	last := sctx.LastAction()
	if last == nil {
		return false
	}
	return last.Action == schemas.ActionFormInput && now.Sub(last.Timestamp) < a.cfg.TypingGrace
}

// Dismiss records a rejection and prunes stale dismissal records.
func (a *Arbiter) Dismiss(id string) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dismissed[id] = now
	for sid, at := range a.dismissed {
		if now.Sub(at) > a.cfg.PruneAfter {
			delete(a.dismissed, sid)
		}
	}
}

// Accept records acceptance and clears any dismissal memory for the id.
func (a *Arbiter) Accept(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepted[id] = true
	delete(a.dismissed, id)
}

// EngagementMetrics returns acceptance statistics.
func (a *Arbiter) EngagementMetrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := Metrics{
		TotalDismissed: len(a.dismissed),
		TotalAccepted:  len(a.accepted),
	}
	if total := m.TotalAccepted + m.TotalDismissed; total > 0 {
		m.AcceptanceRate = float64(m.TotalAccepted) / float64(total)
	}
	return m
}
