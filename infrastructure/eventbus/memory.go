package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"acecore/application/ports"
	"acecore/domain/events"
)

// MemoryBus is an in-process event bus. Handlers are identified by interface
// identity and invoked synchronously in registration order.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]ports.EventHandler
	logger   *zap.Logger
}

// NewMemoryBus builds an empty bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		handlers: map[string][]ports.EventHandler{},
		logger:   logger,
	}
}

// RegisterHandler subscribes the handler to the named event. A duplicate
// registration is ignored.
func (b *MemoryBus) RegisterHandler(ctx context.Context, eventName string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, registered := range b.handlers[eventName] {
		if registered == handler {
			b.logger.Warn("duplicate event handler registration ignored",
				zap.String("event", eventName))
			return nil
		}
	}
	b.handlers[eventName] = append(b.handlers[eventName], handler)
	return nil
}

// RemoveHandler unsubscribes the handler from the named events, or from
// every event when none are named.
func (b *MemoryBus) RemoveHandler(ctx context.Context, handler ports.EventHandler, eventNames ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(eventNames) == 0 {
		for name := range b.handlers {
			b.handlers[name] = removeHandler(b.handlers[name], handler)
		}
		return nil
	}
	for _, name := range eventNames {
		b.handlers[name] = removeHandler(b.handlers[name], handler)
	}
	return nil
}

// GetHandlers returns the handlers subscribed to the named event.
func (b *MemoryBus) GetHandlers(ctx context.Context, eventName string) ([]ports.EventHandler, error) {
	return b.snapshot(eventName), nil
}

// Fire delivers the event to a snapshot of the subscriber list. The event
// passes through its canonical encoding first so local subscribers see the
// exact shape remote subscribers would.
func (b *MemoryBus) Fire(ctx context.Context, event events.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var delivered events.Event
	if err := json.Unmarshal(raw, &delivered); err != nil {
		return err
	}

	for _, handler := range b.snapshot(event.Name) {
		b.dispatch(ctx, handler, delivered)
	}
	return nil
}

// snapshot copies the subscriber list under the lock so handlers may
// register and unregister during delivery.
func (b *MemoryBus) snapshot(eventName string) []ports.EventHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ports.EventHandler(nil), b.handlers[eventName]...)
}

func (b *MemoryBus) dispatch(ctx context.Context, handler ports.EventHandler, event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", event.Name),
				zap.Any("panic", r))
		}
	}()

	if err := handler.HandleEvent(ctx, event); err != nil {
		handler.HandleError(ctx, event, err)
	}
}

func removeHandler(handlers []ports.EventHandler, target ports.EventHandler) []ports.EventHandler {
	result := handlers[:0]
	for _, h := range handlers {
		if h != target {
			result = append(result, h)
		}
	}
	return result
}
