// File: internal/bus/bus.go
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageType defines the categories of messages on the behavior bus.
type MessageType string

const (
	// TypeEventBatch carries a debounced batch of sanitized interaction
	// events from the recorder.
	TypeEventBatch MessageType = "BHV_EVENT_BATCH"
	// TypeNavigation carries a single sanitized navigation event.
	TypeNavigation MessageType = "BHV_NAVIGATION"
	// TypeMatches carries the deduplicated pattern matches of one engine run.
	TypeMatches MessageType = "BHV_PATTERN_MATCHES"
	// TypeSuggestion carries a proactive suggestion cleared by the arbiter.
	TypeSuggestion MessageType = "BHV_SUGGESTION"
	// TypeEngagement carries a suggestion lifecycle event.
	TypeEngagement MessageType = "BHV_ENGAGEMENT"
	// TypeFeedback carries pattern feedback derived from engagement.
	TypeFeedback MessageType = "BHV_PATTERN_FEEDBACK"
	// TypeActionResult carries the outcome of an executed UI action.
	TypeActionResult MessageType = "BHV_ACTION_RESULT"
)

// Message is the envelope for data transmitted over the Bus.
type Message struct {
	ID        string
	Timestamp time.Time
	Type      MessageType
	Payload   interface{}
}

// Bus routes messages between the behavioral components using a Pub/Sub
// model. Producers post, consumers subscribe by type and must acknowledge
// every message they receive so Shutdown can drain cleanly.
type Bus struct {
	logger *zap.Logger

	// Map of message type to a list of channels (subscribers).
	subscribers map[MessageType][]chan Message
	mu          sync.RWMutex
	bufferSize  int

	// WaitGroup to track messages currently being processed by consumers.
	processingWg sync.WaitGroup
	// WaitGroup to track active Post operations.
	activePostsWg sync.WaitGroup

	// Shutdown mechanism
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New initializes the Bus.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}

	return &Bus{
		logger:       logger.Named("bus"),
		subscribers:  make(map[MessageType][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post sends a message onto the bus. Blocks if subscriber buffers are full.
func (b *Bus) Post(ctx context.Context, msgType MessageType, payload interface{}) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post message: bus is shut down")
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      msgType,
		Payload:   payload,
	}

	b.logger.Debug("Posting message", zap.String("type", string(msg.Type)), zap.String("id", msg.ID))

	b.mu.RLock()
	subscribers, ok := b.subscribers[msg.Type]
	if !ok || len(subscribers) == 0 {
		b.mu.RUnlock()
		return nil // No one is listening.
	}

	// Create a copy to avoid holding the lock during channel sends.
	subsCopy := make([]chan Message, len(subscribers))
	copy(subsCopy, subscribers)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
			// Delivered successfully. The consumer must call Acknowledge.
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return fmt.Errorf("failed to post message: bus is shutting down")
		}
	}
	return nil
}

// Subscribe returns a channel to listen for specific message types.
func (b *Bus) Subscribe(msgTypes ...MessageType) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		closedCh := make(chan Message)
		close(closedCh)
		return closedCh, func() {}
	}

	if len(msgTypes) == 0 {
		panic("must subscribe to at least one message type")
	}

	ch := make(chan Message, b.bufferSize)
	subscribedTypes := make([]MessageType, len(msgTypes))
	copy(subscribedTypes, msgTypes)

	for _, msgType := range subscribedTypes {
		b.subscribers[msgType] = append(b.subscribers[msgType], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		// Cleanup must work even if shutdown started; the subscribers map
		// stays valid until Shutdown() clears it.
		for _, msgType := range subscribedTypes {
			subs, exists := b.subscribers[msgType]
			if !exists {
				continue
			}
			for i, subscriberCh := range subs {
				if subscriberCh == ch {
					copy(subs[i:], subs[i+1:])
					b.subscribers[msgType] = subs[:len(subs)-1]

					if len(b.subscribers[msgType]) == 0 {
						delete(b.subscribers, msgType)
					}
					break
				}
			}
		}
		// We do not close(ch) here; the bus manages channel closure during Shutdown.
	}

	return ch, unsubscribe
}

// Acknowledge signals that a message has been processed by a consumer.
func (b *Bus) Acknowledge(msg Message) {
	b.processingWg.Done()
}

// Shutdown gracefully closes the bus. It waits for in-flight posts to land,
// closes and drains every subscriber channel, then waits for consumers to
// acknowledge whatever they already picked up.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Info("Shutting down bus...")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)

		b.activePostsWg.Wait()

		b.mu.Lock()
		uniqueChannels := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				uniqueChannels[ch] = struct{}{}
			}
		}

		// Close the channels first. Since activePostsWg.Wait() finished,
		// no other goroutine is trying to send on these channels.
		for ch := range uniqueChannels {
			close(ch)
		}

		// Drain buffered messages that were counted as delivered but will
		// never be acknowledged by a consumer.
		drainedCount := 0
		for ch := range uniqueChannels {
			for range ch {
				drainedCount++
				b.processingWg.Done()
			}
		}

		b.subscribers = make(map[MessageType][]chan Message)
		b.mu.Unlock()

		if drainedCount > 0 {
			b.logger.Debug("Drained buffered messages during shutdown.", zap.Int("count", drainedCount))
		}

		b.processingWg.Wait()
		b.logger.Info("Bus shut down gracefully.")
	})
}
