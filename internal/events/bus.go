// Package events carries supervisor lifecycle events to the console, metrics and other observers.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// Handlers run asynchronously on the dispatcher's goroutines.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(PhaseChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case PhaseChangedEvent:
		event.Publish(b.dispatcher, e)
	case ReloadedEvent:
		event.Publish(b.dispatcher, e)
	case ProcessExitedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a handler; its parameter type selects the events it receives.
// Returns an unsubscribe function, a no-op for unknown handler types.
// Usage: unsub := bus.Subscribe(func(e ReloadedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(PhaseChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessExitedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

