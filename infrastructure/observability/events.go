package observability

import (
	"context"

	"acecore/domain/events"
)

// EventCounter mirrors lifecycle events into metrics. Registered on the bus
// for every event name, it is the reason metrics stay correct regardless of
// which code path mutated state.
type EventCounter struct {
	metrics *Metrics
}

// NewEventCounter returns a bus handler feeding m.
func NewEventCounter(m *Metrics) *EventCounter {
	return &EventCounter{metrics: m}
}

// queuedRequest is the slice of the analysis request payload the counter
// needs, the full request is much larger.
type queuedRequest struct {
	Type struct {
		Name string `json:"name"`
	} `json:"type"`
}

// HandleEvent counts the event and updates the collectors derived from it.
func (h *EventCounter) HandleEvent(ctx context.Context, event events.Event) error {
	h.metrics.EventsFired.WithLabelValues(event.Name).Inc()

	switch event.Name {
	case events.CacheHit:
		h.metrics.CacheHits.Inc()
	case events.CacheNew:
		h.metrics.CacheStores.Inc()
	case events.Alert:
		h.metrics.AlertsSubmitted.Inc()
	case events.ProcessingRequestResult:
		h.metrics.RequestsProcessed.Inc()
	case events.WorkAdd:
		if queue, ok := h.queueName(event); ok {
			h.metrics.WorkQueueDepth.WithLabelValues(queue).Inc()
		}
	case events.WorkRemove:
		if queue, ok := h.queueName(event); ok {
			h.metrics.WorkQueueDepth.WithLabelValues(queue).Dec()
		}
	case events.WorkQueueNew:
		var queue string
		if err := event.Decode(&queue); err == nil && queue != "" {
			h.metrics.WorkQueueDepth.WithLabelValues(queue).Set(0)
		}
	case events.WorkQueueDeleted:
		var queue string
		if err := event.Decode(&queue); err == nil && queue != "" {
			h.metrics.WorkQueueDepth.DeleteLabelValues(queue)
		}
	}
	return nil
}

// HandleError is a no-op, a failed downstream handler is not a metric event.
func (h *EventCounter) HandleError(ctx context.Context, event events.Event, err error) {}

func (h *EventCounter) queueName(event events.Event) (string, bool) {
	var ar queuedRequest
	if err := event.Decode(&ar); err != nil || ar.Type.Name == "" {
		return "", false
	}
	return ar.Type.Name, true
}
