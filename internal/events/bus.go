// Package events implements the minimal observer pattern used by
// SessionLifecycleManager and NodeRegistry, generalized from the
// Subscribe/Unsubscribe/Broadcast shape of the teacher's
// internal/bus.EventPublisher interface. Emission is synchronous with the
// state change that produced it; handler panics/errors are caught and
// logged, never rethrown, per §5's shared-state discipline.
package events

import (
	"log/slog"
	"sync"
)

// Event is a named payload broadcast to subscribers.
type Event struct {
	Name    string
	Payload any
}

// Handler receives emitted events. It must not perform a mutating call
// back into the emitter on the same path (no re-entrant mutation).
type Handler func(Event)

// Unsubscribe detaches a previously registered Handler.
type Unsubscribe func()

// Bus is a synchronous, thread-safe fan-out emitter.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers fn and returns an Unsubscribe to detach it.
func (b *Bus) Subscribe(fn Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Emit broadcasts ev to all current subscribers synchronously. A panicking
// handler is recovered, logged, and does not prevent other handlers from
// running.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	snapshot := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "event", ev.Name, "recover", r)
				}
			}()
			h(ev)
		}()
	}
}
