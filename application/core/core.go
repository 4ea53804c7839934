// Package core implements the correlation engine: it orchestrates the module
// registry, root store, request tracker, result cache and work queues behind
// a single CoreSystem, and fires a lifecycle event for every state change.
package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"acecore/application/ports"
	"acecore/domain/events"
)

const (
	// DefaultRootUpdateRetries bounds optimistic root update attempts.
	DefaultRootUpdateRetries = 3
	// DefaultSweepInterval is how often the background sweepers run.
	DefaultSweepInterval = 30 * time.Second
)

// Dependencies collects the backend implementations a CoreSystem runs on.
// Swapping backends (in-memory, relational, broker) means swapping this set.
type Dependencies struct {
	Registry ports.ModuleRegistry
	Roots    ports.RootStore
	Details  ports.DetailsStore
	Tracker  ports.RequestTracker
	Cache    ports.ResultCache
	Queues   ports.WorkQueueStore
	Bus      ports.EventBus
	Content  ports.ContentStore
	Config   ports.ConfigStore
	APIKeys  ports.APIKeyStore
	Alerts   ports.AlertStore
}

// Config tunes retry and sweep behavior. Zero values select the defaults.
type Config struct {
	// RootUpdateRetries is how many times an optimistic root update is
	// retried before the version conflict surfaces.
	RootUpdateRetries int

	// SweepInterval is the pause between background sweeps of expired
	// requests, cache entries and content.
	SweepInterval time.Duration
}

// CoreSystem is the correlation engine. One instance is constructed per
// process and threaded through the transport handlers.
type CoreSystem struct {
	registry ports.ModuleRegistry
	roots    ports.RootStore
	details  ports.DetailsStore
	tracker  ports.RequestTracker
	cache    ports.ResultCache
	queues   ports.WorkQueueStore
	bus      ports.EventBus
	content  ports.ContentStore
	config   ports.ConfigStore
	apiKeys  ports.APIKeyStore
	alerts   ports.AlertStore
	logger   *zap.Logger

	rootUpdateRetries int
	sweepInterval     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a CoreSystem on the given backends.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *CoreSystem {
	if cfg.RootUpdateRetries <= 0 {
		cfg.RootUpdateRetries = DefaultRootUpdateRetries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoreSystem{
		registry:          deps.Registry,
		roots:             deps.Roots,
		details:           deps.Details,
		tracker:           deps.Tracker,
		cache:             deps.Cache,
		queues:            deps.Queues,
		bus:               deps.Bus,
		content:           deps.Content,
		config:            deps.Config,
		apiKeys:           deps.APIKeys,
		alerts:            deps.Alerts,
		logger:            logger,
		rootUpdateRetries: cfg.RootUpdateRetries,
		sweepInterval:     cfg.SweepInterval,
	}
}

// EventBus exposes the bus so callers can subscribe to lifecycle events.
func (c *CoreSystem) EventBus() ports.EventBus {
	return c.bus
}

// fireEvent encodes the payload and delivers the event. Delivery failures are
// logged, never propagated: events are best-effort notifications layered on
// top of already-committed state changes.
func (c *CoreSystem) fireEvent(ctx context.Context, name string, payload interface{}) {
	event, err := events.New(name, payload)
	if err != nil {
		c.logger.Error("failed to encode event payload",
			zap.String("event", name),
			zap.Error(err),
		)
		return
	}
	if err := c.bus.Fire(ctx, event); err != nil {
		c.logger.Error("failed to fire event",
			zap.String("event", name),
			zap.Error(err),
		)
	}
}
