// Package events is the in-process notification bus. The enricher and
// the queue publish here; the SSE endpoint and tests subscribe.
// Delivery is synchronous on the publisher's goroutine, so subscribers
// must stay cheap and must never panic the publisher.
package events

import (
	"sync"

	"go.uber.org/zap"

	domainevents "curio-backend/internal/domain/events"
)

// Handler consumes one event. Handlers run on the publisher's
// goroutine; a handler that blocks stalls the publisher.
type Handler func(e domainevents.Event)

// allEvents is the subscription key for SubscribeAll.
const allEvents = "*"

type subscription struct {
	id        int64
	eventType string
	handler   Handler
}

// Bus fans events out to registered handlers. Subscribe and
// Unsubscribe are safe to call from inside a handler: Publish iterates
// a snapshot of the subscriber set, so changes apply to the next
// emission.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string][]subscription
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger.Named("bus"),
	}
}

// Subscribe registers handler for one event type and returns the token
// used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) int64 {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) int64 {
	return b.add(allEvents, handler)
}

func (b *Bus) add(eventType string, handler Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscription{
		id:        b.nextID,
		eventType: eventType,
		handler:   handler,
	})
	return b.nextID
}

// Unsubscribe removes the subscription with the given token. Unknown
// tokens are ignored so teardown paths can call it unconditionally.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			replacement := make([]subscription, 0, len(subs)-1)
			replacement = append(replacement, subs[:i]...)
			replacement = append(replacement, subs[i+1:]...)
			if len(replacement) == 0 {
				delete(b.subs, eventType)
			} else {
				b.subs[eventType] = replacement
			}
			return
		}
	}
}

// Publish delivers e to every matching subscriber in registration
// order, type-specific subscribers first. A panicking subscriber is
// logged and skipped; it never reaches the publisher.
func (b *Bus) Publish(e domainevents.Event) {
	b.mu.RLock()
	snapshot := make([]subscription, 0,
		len(b.subs[e.EventType()])+len(b.subs[allEvents]))
	snapshot = append(snapshot, b.subs[e.EventType()]...)
	snapshot = append(snapshot, b.subs[allEvents]...)
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e domainevents.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("subscriber panicked",
				zap.String("eventType", e.EventType()),
				zap.Int64("subscription", s.id),
				zap.Any("panic", rec))
		}
	}()
	s.handler(e)
}

// SubscriberCount reports how many handlers would see an event of the
// given type right now.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType]) + len(b.subs[allEvents])
}
