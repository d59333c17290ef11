package event

import (
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
)

// Wildcard is the event type used by SubscribeAll.
const Wildcard = "*"

// Handler is a function that handles an event.
type Handler func(Event)

// PanicHandler receives panics recovered from event handlers.
type PanicHandler func(eventType string, recovered any, stack []byte)

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. Handlers run on the publishing
// goroutine, so a handler that needs to block must hand work off to its
// own goroutine.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	onPanic       PanicHandler
	published     atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithPanicHandler replaces the default panic reporter, which writes to the
// standard logger.
func WithPanicHandler(h PanicHandler) BusOption {
	return func(b *Bus) { b.onPanic = h }
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		onPanic: func(eventType string, r any, stack []byte) {
			log.Printf("ERROR: event handler panicked for event %s: %v\n%s", eventType, r, stack)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type and returns a
// subscription ID for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := "sub-" + strconv.FormatUint(b.nextID.Add(1), 10)
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			remaining := make([]subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			if len(remaining) == 0 {
				delete(b.subscriptions, eventType)
			} else {
				b.subscriptions[eventType] = remaining
			}
			return true
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers: type-specific
// handlers first, then wildcard handlers, each group in registration order.
// A panicking handler is recovered and reported; delivery continues.
func (b *Bus) Publish(e Event) {
	b.published.Add(1)

	b.mu.RLock()
	specific := b.subscriptions[e.EventType()]
	wildcard := b.subscriptions[Wildcard]
	handlers := make([]Handler, 0, len(specific)+len(wildcard))
	for _, s := range specific {
		handlers = append(handlers, s.handler)
	}
	for _, s := range wildcard {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.onPanic(e.EventType(), r, debug.Stack())
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

// Published returns how many events have been published on this bus.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// String implements fmt.Stringer for debugging.
func (b *Bus) String() string {
	return fmt.Sprintf("event.Bus{subscriptions=%d, published=%d}", b.SubscriptionCount(), b.Published())
}
