// File: internal/upload/uploader.go

// Package upload drains sanitized behavioral events off the bus and persists
// them in durable batches with bounded retry.
package upload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
	"github.com/mirahq/mira-core/internal/store"
)

// EventSink is the durable destination for captured events. *store.Store
// satisfies it; tests substitute their own.
type EventSink interface {
	SaveEvents(ctx context.Context, events []schemas.InteractionEvent) error
	SaveNavigations(ctx context.Context, navs []schemas.NavigationEvent) error
}

// Uploader buffers events from the bus and flushes them in batches, either on
// a timer or when the batch size is reached. A single in-flight guard keeps
// concurrent flush triggers from double-sending.
type Uploader struct {
	logger *zap.Logger
	bus    *bus.Bus
	sink   EventSink
	cfg    config.UploaderConfig

	msgChan <-chan bus.Message

	mu          sync.Mutex
	events      []queuedEvent
	navs        []queuedNav
	isUploading bool
	dropped     int64
	enabled     bool
	userID      string
}

// queuedEvent pairs an event with the number of failed upload rounds it has
// survived. Items past the retry budget are dropped, never retried forever.
type queuedEvent struct {
	ev      schemas.InteractionEvent
	retries int
}

type queuedNav struct {
	nav     schemas.NavigationEvent
	retries int
}

// Status is a point-in-time view of the uploader for introspection.
type Status struct {
	QueuedEvents      int
	QueuedNavigations int
	Uploading         bool
	Enabled           bool
}

// NewUploader initializes the Uploader and subscribes to the bus.
func NewUploader(logger *zap.Logger, b *bus.Bus, sink EventSink, cfg config.UploaderConfig) *Uploader {
	// Subscribe immediately upon creation. The unsubscribe function is
	// intentionally ignored; the bus closes the channel on shutdown.
	msgChan, _ := b.Subscribe(bus.TypeEventBatch, bus.TypeNavigation)

	return &Uploader{
		logger:  logger.Named("uploader"),
		bus:     b,
		sink:    sink,
		cfg:     cfg,
		msgChan: msgChan,
		enabled: cfg.Enabled,
	}
}

// SetUserID associates queued and future events with an authenticated user.
// Events are stamped when enqueued, so a late login covers only what follows.
func (u *Uploader) SetUserID(id string) {
	u.mu.Lock()
	u.userID = id
	u.mu.Unlock()
}

// SetEnabled toggles uploading. Disabling drops everything already queued so
// nothing captured before an opt-out leaves the process.
func (u *Uploader) SetEnabled(on bool) {
	u.mu.Lock()
	u.enabled = on
	if !on {
		u.events = nil
		u.navs = nil
		u.dropped = 0
	}
	u.mu.Unlock()
	u.logger.Info("Uploader toggled", zap.Bool("enabled", on))
}

// Status reports queue depth and flags for introspection.
func (u *Uploader) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Status{
		QueuedEvents:      len(u.events),
		QueuedNavigations: len(u.navs),
		Uploading:         u.isUploading,
		Enabled:           u.enabled,
	}
}

// Start consumes bus messages and flushes on the configured interval. It
// returns when the context is cancelled or the bus shuts down, flushing any
// remainder first.
func (u *Uploader) Start(ctx context.Context) {
	u.logger.Info("Uploader started",
		zap.Int("batch_size", u.cfg.BatchSize),
		zap.Duration("interval", u.cfg.Interval))

	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.finalFlush()
			return
		case msg, ok := <-u.msgChan:
			if !ok {
				// Channel closed by the bus during shutdown.
				u.finalFlush()
				return
			}
			u.processMessage(ctx, msg)
		case <-ticker.C:
			u.Flush(ctx)
		}
	}
}

// processMessage wraps message handling to guarantee acknowledgement and
// recover from panics.
func (u *Uploader) processMessage(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("Panic recovered in Uploader handler",
				zap.String("message_id", msg.ID),
				zap.String("message_type", string(msg.Type)),
				zap.Any("panic_value", r),
			)
		}
		u.bus.Acknowledge(msg)
	}()
	u.enqueue(ctx, msg)
}

func (u *Uploader) enqueue(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeEventBatch:
		batch, ok := msg.Payload.([]schemas.InteractionEvent)
		if !ok {
			return
		}
		u.Enqueue(ctx, batch)
	case bus.TypeNavigation:
		nav, ok := msg.Payload.(schemas.NavigationEvent)
		if !ok {
			return
		}
		u.mu.Lock()
		if u.enabled {
			u.navs = append(u.navs, queuedNav{nav: nav})
		}
		u.mu.Unlock()
	}
}

// Enqueue appends events to the pending queue, stamping the user id and
// enforcing the queue cap, and flushes immediately once a full batch is
// waiting. Disabled uploaders drop everything.
func (u *Uploader) Enqueue(ctx context.Context, events []schemas.InteractionEvent) {
	u.mu.Lock()
	if !u.enabled {
		u.mu.Unlock()
		return
	}
	for _, ev := range events {
		if u.userID != "" {
			ev.UserID = u.userID
		}
		u.events = append(u.events, queuedEvent{ev: ev})
	}
	if max := u.cfg.MaxQueued; max > 0 && len(u.events) > max {
		u.dropped += int64(len(u.events) - max)
		u.events = u.events[len(u.events)-max:]
	}
	full := len(u.events) >= u.cfg.BatchSize
	u.mu.Unlock()

	if full {
		u.Flush(ctx)
	}
}

// Flush persists up to one batch of queued events and all queued navigations.
// Re-entrant calls while an upload is in flight return immediately. Failed
// items are re-queued at the front with an incremented retry count; items
// past the retry budget are dropped so a poison batch cannot block the queue.
func (u *Uploader) Flush(ctx context.Context) {
	u.mu.Lock()
	if u.isUploading || (len(u.events) == 0 && len(u.navs) == 0) {
		u.mu.Unlock()
		return
	}
	u.isUploading = true

	n := len(u.events)
	if n > u.cfg.BatchSize {
		n = u.cfg.BatchSize
	}
	batch := u.events[:n]
	u.events = u.events[n:]
	navs := u.navs
	u.navs = nil

	if u.dropped > 0 {
		u.logger.Warn("Dropped oldest events under queue pressure", zap.Int64("dropped", u.dropped))
		u.dropped = 0
	}
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.isUploading = false
		u.mu.Unlock()
	}()

	if len(batch) > 0 {
		rows := make([]schemas.InteractionEvent, len(batch))
		for i, q := range batch {
			rows[i] = q.ev
		}
		if err := u.withRetry(ctx, func() error { return u.sink.SaveEvents(ctx, rows) }); err != nil {
			keep, discarded := u.survivors(batch)
			u.logger.Error("Event batch upload failed",
				zap.Error(err), zap.Int("requeued", len(keep)), zap.Int("discarded", discarded))
			u.mu.Lock()
			u.events = append(keep, u.events...)
			u.navs = append(navs, u.navs...)
			u.mu.Unlock()
			return
		}
		u.logger.Debug("Uploaded event batch", zap.Int("batch_size", len(batch)))
	}

	if len(navs) > 0 {
		rows := make([]schemas.NavigationEvent, len(navs))
		for i, q := range navs {
			rows[i] = q.nav
		}
		if err := u.withRetry(ctx, func() error { return u.sink.SaveNavigations(ctx, rows) }); err != nil {
			keep := make([]queuedNav, 0, len(navs))
			for _, q := range navs {
				q.retries++
				if q.retries > u.cfg.MaxRetries {
					continue
				}
				keep = append(keep, q)
			}
			u.logger.Error("Navigation upload failed",
				zap.Error(err), zap.Int("requeued", len(keep)), zap.Int("discarded", len(navs)-len(keep)))
			u.mu.Lock()
			u.navs = append(keep, u.navs...)
			u.mu.Unlock()
		}
	}
}

// survivors increments each item's retry count and filters out those past the
// retry budget.
func (u *Uploader) survivors(batch []queuedEvent) ([]queuedEvent, int) {
	keep := make([]queuedEvent, 0, len(batch))
	for _, q := range batch {
		q.retries++
		if q.retries > u.cfg.MaxRetries {
			continue
		}
		keep = append(keep, q)
	}
	return keep, len(batch) - len(keep)
}

// withRetry runs fn up to MaxRetries+1 times, pausing RetryDelay between
// attempts. Non-retryable errors abort immediately.
func (u *Uploader) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= u.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.cfg.RetryDelay):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !store.IsRetryable(err) {
			return err
		}
		u.logger.Warn("Upload attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

// finalFlush drains everything left at shutdown, ignoring batch size limits.
func (u *Uploader) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		u.mu.Lock()
		empty := len(u.events) == 0 && len(u.navs) == 0
		uploading := u.isUploading
		u.mu.Unlock()
		if empty || uploading {
			break
		}
		before := u.queuedLen()
		u.Flush(ctx)
		// A failed flush requeues; bail instead of spinning.
		if u.queuedLen() >= before {
			break
		}
	}
	u.logger.Info("Uploader stopped")
}

func (u *Uploader) queuedLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.events) + len(u.navs)
}
