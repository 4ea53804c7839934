package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acecore/domain/events"
)

type captureHandler struct {
	events []events.Event
	errs   []error
	fail   error
}

func (h *captureHandler) HandleEvent(ctx context.Context, event events.Event) error {
	h.events = append(h.events, event)
	return h.fail
}

func (h *captureHandler) HandleError(ctx context.Context, event events.Event, err error) {
	h.errs = append(h.errs, err)
}

func TestMemoryBusFire(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	handler := &captureHandler{}

	require.NoError(t, bus.RegisterHandler(ctx, events.RootNew, handler))

	event, err := events.New(events.RootNew, map[string]string{"uuid": "root-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Fire(ctx, event))

	require.Len(t, handler.events, 1)
	assert.Equal(t, events.RootNew, handler.events[0].Name)

	var payload map[string]string
	require.NoError(t, handler.events[0].Decode(&payload))
	assert.Equal(t, "root-1", payload["uuid"])

	// events for other names do not reach the handler
	other, err := events.New(events.RootDeleted, "root-1")
	require.NoError(t, err)
	require.NoError(t, bus.Fire(ctx, other))
	assert.Len(t, handler.events, 1)
}

func TestMemoryBusDuplicateRegistrationIgnored(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	handler := &captureHandler{}

	require.NoError(t, bus.RegisterHandler(ctx, events.RootNew, handler))
	require.NoError(t, bus.RegisterHandler(ctx, events.RootNew, handler))

	registered, err := bus.GetHandlers(ctx, events.RootNew)
	require.NoError(t, err)
	assert.Len(t, registered, 1)

	event, err := events.New(events.RootNew, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Fire(ctx, event))
	assert.Len(t, handler.events, 1)
}

func TestMemoryBusRemoveHandler(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	handler := &captureHandler{}

	for _, name := range []string{events.RootNew, events.RootModified, events.RootDeleted} {
		require.NoError(t, bus.RegisterHandler(ctx, name, handler))
	}

	// removal scoped to named events
	require.NoError(t, bus.RemoveHandler(ctx, handler, events.RootNew))
	registered, err := bus.GetHandlers(ctx, events.RootNew)
	require.NoError(t, err)
	assert.Empty(t, registered)
	registered, err = bus.GetHandlers(ctx, events.RootModified)
	require.NoError(t, err)
	assert.Len(t, registered, 1)

	// removal without names unsubscribes everywhere
	require.NoError(t, bus.RemoveHandler(ctx, handler))
	for _, name := range []string{events.RootModified, events.RootDeleted} {
		registered, err = bus.GetHandlers(ctx, name)
		require.NoError(t, err)
		assert.Empty(t, registered, "event %s", name)
	}
}

func TestMemoryBusRoutesHandlerErrors(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	boom := errors.New("downstream unavailable")
	failing := &captureHandler{fail: boom}
	healthy := &captureHandler{}

	require.NoError(t, bus.RegisterHandler(ctx, events.Alert, failing))
	require.NoError(t, bus.RegisterHandler(ctx, events.Alert, healthy))

	event, err := events.New(events.Alert, "root-1")
	require.NoError(t, err)
	require.NoError(t, bus.Fire(ctx, event))

	// the failing handler got its error back, the healthy one still ran
	require.Len(t, failing.errs, 1)
	assert.ErrorIs(t, failing.errs[0], boom)
	assert.Len(t, healthy.events, 1)
	assert.Empty(t, healthy.errs)
}

func TestMemoryBusSurvivesHandlerPanic(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	healthy := &captureHandler{}

	require.NoError(t, bus.RegisterHandler(ctx, events.Alert, panicHandler{}))
	require.NoError(t, bus.RegisterHandler(ctx, events.Alert, healthy))

	event, err := events.New(events.Alert, "root-1")
	require.NoError(t, err)
	require.NoError(t, bus.Fire(ctx, event))
	assert.Len(t, healthy.events, 1)
}

type panicHandler struct{}

func (panicHandler) HandleEvent(ctx context.Context, event events.Event) error { panic("boom") }
func (panicHandler) HandleError(ctx context.Context, event events.Event, err error) {}

func TestMemoryBusCanonicalEncoding(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	handler := &captureHandler{}
	require.NoError(t, bus.RegisterHandler(ctx, events.ConfigSet, handler))

	// zero-valued optional fields disappear in the canonical encoding
	payload := struct {
		Name  string `json:"name"`
		Extra string `json:"extra,omitempty"`
	}{Name: "key"}
	event, err := events.New(events.ConfigSet, payload)
	require.NoError(t, err)
	require.NoError(t, bus.Fire(ctx, event))

	require.Len(t, handler.events, 1)
	assert.JSONEq(t, `{"name":"key"}`, string(handler.events[0].Args))
}
