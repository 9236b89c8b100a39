package core

import (
	"sync"
	"time"
)

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	EventBatchStarted EventType = iota
	EventBatchProgress
	EventBatchDone
	EventSubscriptionFetched
)

// Event carries data about something that happened in the system.
type Event struct {
	Type    EventType
	Payload any
}

// BatchPayload is the payload for batch lifecycle events.
type BatchPayload struct {
	Mode      string
	Submitted int
	Completed int
	Alive     int
	Forced    int
	Elapsed   time.Duration
}

// SubscriptionPayload is the payload for EventSubscriptionFetched.
type SubscriptionPayload struct {
	URL         string
	Descriptors int
	Error       error
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between system components.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (eb *EventBus) Subscribe(t EventType, h Handler) {
	eb.mu.Lock()
	eb.handlers[t] = append(eb.handlers[t], h)
	eb.mu.Unlock()
}

// Publish fires an event to all subscribed handlers synchronously.
// A nil bus is valid and drops everything.
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// PublishAsync fires an event to all subscribed handlers in goroutines.
func (eb *EventBus) PublishAsync(e Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		go h(e)
	}
}
