package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"acecore/application/ports"
	"acecore/domain/events"
)

const eventChannelPrefix = "ace:events"

// Bus fires lifecycle events over Redis pub/sub. Handlers stay process-local:
// each process subscribes to the channels its handlers care about, and every
// subscribed process dispatches a published event to its own handlers. Fire
// is therefore asynchronous from the caller's point of view, including for
// handlers registered in the firing process.
type Bus struct {
	client *redis.Client
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string][]ports.EventHandler
	pubsub   *redis.PubSub
	done     chan struct{}
}

// NewBus builds a bus on the client. Start must be called before fired
// events reach handlers.
func NewBus(client *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{
		client:   client,
		logger:   logger,
		handlers: map[string][]ports.EventHandler{},
	}
}

// Start opens the pub/sub connection, subscribes to the channels of every
// handler registered so far and begins dispatching. Calling Start twice is
// an error.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pubsub = b.client.Subscribe(ctx)
	channels := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		channels = append(channels, eventChannel(name))
	}
	if len(channels) > 0 {
		if err := b.pubsub.Subscribe(ctx, channels...); err != nil {
			b.pubsub.Close()
			b.pubsub = nil
			return err
		}
	}

	b.done = make(chan struct{})
	go b.run(ctx)
	return nil
}

// Stop closes the subscription and waits for in-flight dispatches to finish.
func (b *Bus) Stop() {
	b.mu.Lock()
	pubsub := b.pubsub
	done := b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return
	}
	pubsub.Close()
	<-done
}

// RegisterHandler subscribes the handler to the named event. A duplicate
// registration is ignored.
func (b *Bus) RegisterHandler(ctx context.Context, eventName string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, registered := range b.handlers[eventName] {
		if registered == handler {
			b.logger.Warn("duplicate event handler registration ignored",
				zap.String("event", eventName))
			return nil
		}
	}

	first := len(b.handlers[eventName]) == 0
	b.handlers[eventName] = append(b.handlers[eventName], handler)

	if first && b.pubsub != nil {
		return b.pubsub.Subscribe(ctx, eventChannel(eventName))
	}
	return nil
}

// RemoveHandler unsubscribes the handler from the named events, or from
// every event when none are named. Channels without remaining handlers are
// dropped from the subscription.
func (b *Bus) RemoveHandler(ctx context.Context, handler ports.EventHandler, eventNames ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(eventNames) == 0 {
		for name := range b.handlers {
			eventNames = append(eventNames, name)
		}
	}

	var emptied []string
	for _, name := range eventNames {
		hadAny := len(b.handlers[name]) > 0
		remaining := removeHandler(b.handlers[name], handler)
		b.handlers[name] = remaining
		if hadAny && len(remaining) == 0 {
			emptied = append(emptied, eventChannel(name))
		}
	}

	if len(emptied) > 0 && b.pubsub != nil {
		return b.pubsub.Unsubscribe(ctx, emptied...)
	}
	return nil
}

// GetHandlers returns the handlers subscribed to the named event in this
// process.
func (b *Bus) GetHandlers(ctx context.Context, eventName string) ([]ports.EventHandler, error) {
	return b.snapshot(eventName), nil
}

// Fire publishes the event. Every subscribed process, this one included,
// receives it over pub/sub and dispatches to its local handlers.
func (b *Bus) Fire(ctx context.Context, event events.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, eventChannel(event.Name), raw).Err()
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	// Channel closes when the pubsub is closed by Stop.
	for msg := range b.pubsub.Channel() {
		var event events.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Warn("discarding undecodable event",
				zap.String("channel", msg.Channel),
				zap.Error(err))
			continue
		}
		for _, handler := range b.snapshot(event.Name) {
			b.dispatch(ctx, handler, event)
		}
	}
}

func (b *Bus) snapshot(eventName string) []ports.EventHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ports.EventHandler(nil), b.handlers[eventName]...)
}

func (b *Bus) dispatch(ctx context.Context, handler ports.EventHandler, event events.Event) {
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

func eventChannel(eventName string) string {
	return eventChannelPrefix + eventName
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
