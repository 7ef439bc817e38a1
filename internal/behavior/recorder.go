// File: internal/behavior/recorder.go

// Package behavior captures user interactions into a bounded in-memory
// session, sanitizing everything at the door and publishing debounced event
// batches for the downstream pipeline.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
	"github.com/mirahq/mira-core/internal/sanitize"
)

var (
	// ErrRecorderClosed is returned when recording on a closed recorder.
	ErrRecorderClosed = errors.New("behavior: recorder is closed")
	// ErrUnknownActionType is returned for events carrying an action type
	// outside the recognized set.
	ErrUnknownActionType = errors.New("behavior: unknown action type")
)

// Recorder is the in-memory session tracker. Events enter through Record and
// RecordNavigation, are sanitized immediately, held in bounded rings, and
// flushed to the bus in debounced batches.
type Recorder struct {
	logger *zap.Logger
	bus    *bus.Bus
	cfg    config.TrackerConfig

	mu            sync.Mutex
	sessionID     string
	startedAt     time.Time
	currentPage   string
	currentModule string
	pageEnteredAt time.Time
	lastActivity  time.Time

	subs map[string]func(schemas.SessionContext)

	actions     []schemas.InteractionEvent
	navigations []schemas.NavigationEvent

	pending    []schemas.InteractionEvent
	flushTimer *time.Timer

	closed bool

	// now is swapped out by tests for deterministic timestamps.
	now func() time.Time
}

// NewRecorder creates a Recorder bound to the given bus. The session starts
// immediately.
func NewRecorder(logger *zap.Logger, b *bus.Bus, cfg config.TrackerConfig) *Recorder {
	r := &Recorder{
		logger: logger.Named("tracker"),
		bus:    b,
		cfg:    cfg,
		subs:   make(map[string]func(schemas.SessionContext)),
		now:    time.Now,
	}
	r.sessionID = cfg.SessionID
	if r.sessionID == "" {
		r.sessionID = newSessionID()
	}
	now := r.now()
	r.startedAt = now
	r.pageEnteredAt = now
	r.lastActivity = now

	r.logger.Info("Session started", zap.String("session_id", r.sessionID))
	return r
}

func newSessionID() string {
	return fmt.Sprintf("session-%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// SessionID returns the identifier of the current capture session.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// SetModule tags subsequent session snapshots with the active application
// module.
func (r *Recorder) SetModule(module string) {
	r.mu.Lock()
	r.currentModule = module
	r.mu.Unlock()
}

// Subscribe registers a callback invoked with a fresh snapshot whenever the
// session context changes. Re-subscribing under the same id replaces the
// previous callback.
func (r *Recorder) Subscribe(id string, fn func(schemas.SessionContext)) {
	r.mu.Lock()
	r.subs[id] = fn
	r.mu.Unlock()
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (r *Recorder) Unsubscribe(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// notifySubscribers delivers a snapshot to every registered callback. Called
// without r.mu held.
func (r *Recorder) notifySubscribers() {
	r.mu.Lock()
	if len(r.subs) == 0 {
		r.mu.Unlock()
		return
	}
	fns := make([]func(schemas.SessionContext), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	snap := r.Snapshot()
	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Panic recovered in context subscriber", zap.Any("panic_value", rec))
				}
			}()
			fn(snap)
		}()
	}
}

// captureAllowed applies the per-capability privacy gates.
func (r *Recorder) captureAllowed(action schemas.ActionType) bool {
	if !r.cfg.Enabled {
		return false
	}
	switch action {
	case schemas.ActionClick:
		return r.cfg.TrackClicks
	case schemas.ActionFormInput:
		return r.cfg.TrackInputs
	case schemas.ActionNavigation:
		return r.cfg.TrackNavigation
	}
	return true
}

// Record captures a single interaction. The event is sanitized, stamped with
// the session id and a fresh event id, appended to the bounded action ring
// and queued for the next debounced batch flush.
func (r *Recorder) Record(ev schemas.InteractionEvent) error {
	if !schemas.ValidActionTypes[ev.Action] {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, ev.Action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if !r.captureAllowed(ev.Action) {
		return nil
	}

	now := r.now()
	clean := sanitize.Event(ev)
	clean.ID = uuid.New().String()
	clean.SessionID = r.sessionID
	if clean.Timestamp.IsZero() {
		clean.Timestamp = now
	}
	if clean.Page == "" {
		clean.Page = r.currentPage
	}
	r.lastActivity = now

	r.actions = append(r.actions, clean)
	if len(r.actions) > r.cfg.MaxActions {
		r.actions = r.actions[len(r.actions)-r.cfg.MaxActions:]
	}

	r.pending = append(r.pending, clean)
	r.scheduleFlushLocked()
	return nil
}

// RecordNavigation captures a page transition. Dwell time on the previous
// page is computed here, so callers only supply destination and trigger.
func (r *Recorder) RecordNavigation(to string, trigger schemas.NavigationTrigger) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	if !r.cfg.Enabled || !r.cfg.TrackNavigation {
		r.mu.Unlock()
		return nil
	}

	now := r.now()
	nav := sanitize.Navigation(schemas.NavigationEvent{
		SessionID:          r.sessionID,
		From:               r.currentPage,
		To:                 to,
		Timestamp:          now,
		Trigger:            trigger,
		TimeOnPreviousPage: now.Sub(r.pageEnteredAt).Milliseconds(),
	})

	r.navigations = append(r.navigations, nav)
	if len(r.navigations) > r.cfg.MaxNavigations {
		r.navigations = r.navigations[len(r.navigations)-r.cfg.MaxNavigations:]
	}

	r.currentPage = nav.To
	r.pageEnteredAt = now
	r.lastActivity = now
	r.mu.Unlock()

	if err := r.bus.Post(context.Background(), bus.TypeNavigation, nav); err != nil {
		r.logger.Warn("Failed to publish navigation event", zap.Error(err))
	}
	r.notifySubscribers()
	return nil
}

// scheduleFlushLocked arms the debounce timer if it is not already pending.
// Callers must hold r.mu.
func (r *Recorder) scheduleFlushLocked() {
	if r.flushTimer != nil {
		return
	}
	debounce := r.cfg.BatchDebounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	r.flushTimer = time.AfterFunc(debounce, r.flushPending)
}

// flushPending publishes the queued batch to the bus. Runs off the debounce
// timer and synchronously from Close.
func (r *Recorder) flushPending() {
	r.mu.Lock()
	r.flushTimer = nil
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if err := r.bus.Post(context.Background(), bus.TypeEventBatch, batch); err != nil {
		r.logger.Warn("Failed to publish event batch", zap.Error(err), zap.Int("batch_size", len(batch)))
		return
	}
	r.logger.Debug("Published event batch", zap.Int("batch_size", len(batch)))
	r.notifySubscribers()
}

// Snapshot returns a point-in-time copy of the session. The returned slices
// are owned by the caller.
func (r *Recorder) Snapshot() schemas.SessionContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	actions := make([]schemas.InteractionEvent, len(r.actions))
	copy(actions, r.actions)
	navs := make([]schemas.NavigationEvent, len(r.navigations))
	copy(navs, r.navigations)

	return schemas.SessionContext{
		SessionID:      r.sessionID,
		StartedAt:      r.startedAt,
		CurrentPage:    r.currentPage,
		Module:         r.currentModule,
		PageEnteredAt:  r.pageEnteredAt,
		RecentActions:  actions,
		NavigationPath: navs,
		IdleTime:       r.now().Sub(r.lastActivity).Milliseconds(),
	}
}

// Export prepares the current session for transmission, applying the export
// caps on top of the live ring limits.
func (r *Recorder) Export() (schemas.SessionContext, sanitize.ExportMeta) {
	return sanitize.Context(r.Snapshot())
}

// Reset discards history and starts a fresh session under a new id.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessionID = newSessionID()
	now := r.now()
	r.startedAt = now
	r.pageEnteredAt = now
	r.lastActivity = now
	r.actions = nil
	r.navigations = nil
	r.pending = nil

	r.logger.Info("Session reset", zap.String("session_id", r.sessionID))
}

// Close stops the debounce timer and flushes any queued events synchronously.
// Further Record calls fail with ErrRecorderClosed.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	r.mu.Unlock()

	r.flushPending()
	r.logger.Info("Recorder closed", zap.String("session_id", r.sessionID))
}
