package events

import (
	"context"
	"fmt"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// DedupKey identifies one logical emission for at-least-once tolerance. For
// status changes the key covers (request, old status, new status) so a
// re-delivered transition event is recognized downstream.
func (e Event) DedupKey() string {
	switch payload := e.Payload.(type) {
	case RequestStatusChangedPayload:
		return fmt.Sprintf("%s:%s:%s->%s", e.Type, e.RequestID, payload.OldStatus, payload.NewStatus)
	case RequestAssignedPayload:
		return fmt.Sprintf("%s:%s:%s", e.Type, e.RequestID, payload.AssigneeID)
	case SLABreachDetectedPayload:
		return fmt.Sprintf("%s:%s:%s", e.Type, e.RequestID, payload.BreachType)
	default:
		return fmt.Sprintf("%s:%s", e.Type, e.RequestID)
	}
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
	}
}

// Publish synchronously invokes handlers for the given event. Handler errors
// never propagate back to the emitting service; job failures are contained in
// the worker pool.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		// continue processing other handlers despite errors
		_ = handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}
