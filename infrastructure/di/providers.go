// Package di wires the server's dependency graph with google/wire. The
// injector lives in wire.go; wire_gen.go carries the generated initializer.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"acecore/application/core"
	"acecore/application/ports"
	"acecore/domain/events"
	"acecore/infrastructure/config"
	"acecore/infrastructure/eventbus"
	"acecore/infrastructure/observability"
	"acecore/infrastructure/persistence/memory"
	"acecore/infrastructure/persistence/postgres"
	redisstore "acecore/infrastructure/redis"
	"acecore/infrastructure/storage/local"
	"acecore/interfaces/http/rest"
	"acecore/pkg/auth"
)

// Container holds the wired server dependencies.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Stores  *Stores
	Core    *core.CoreSystem
	Router  *rest.Router
}

// busLifecycle is implemented by buses that need an explicit subscriber
// lifecycle, the redis bus in practice.
type busLifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// Start brings up the components with a lifecycle of their own: the event
// bus subscriber when the backend has one, then the core sweep loops.
func (c *Container) Start(ctx context.Context) error {
	if bus, ok := c.Stores.Bus.(busLifecycle); ok {
		if err := bus.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
	}
	c.Core.Start(ctx)
	return nil
}

// Stop shuts the lifecycle components down in reverse order.
func (c *Container) Stop() {
	c.Core.Stop()
	if bus, ok := c.Stores.Bus.(busLifecycle); ok {
		bus.Stop()
	}
}

// Stores bundles the persistence ports behind the selected backend, plus the
// request rate limiter, which shares the backend's coordination state. A nil
// RateLimit disables limiting.
type Stores struct {
	Registry  ports.ModuleRegistry
	Roots     ports.RootStore
	Details   ports.DetailsStore
	Tracker   ports.RequestTracker
	Cache     ports.ResultCache
	Queues    ports.WorkQueueStore
	Bus       ports.EventBus
	Content   ports.ContentStore
	Config    ports.ConfigStore
	APIKeys   ports.APIKeyStore
	Alerts    ports.AlertStore
	RateLimit auth.Limiter
}

// SuperSet is the provider set the injector builds from.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideStores,
	ProvideCoreSystem,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// ProvideLogger builds the process logger from the environment and level
// configuration.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// ProvideMetrics builds the Prometheus collectors, or nothing when metric
// collection is disabled. Consumers treat a nil Metrics as a no-op.
func ProvideMetrics(cfg *config.Config) *observability.Metrics {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewMetrics("ace")
}

// ProvideStores selects the backend: everything in process memory, or
// postgres for the durable records with redis queues and pub/sub when a
// redis address is configured. The cleanup closes the backend clients.
func ProvideStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return provideMemoryStores(cfg, logger)
	case config.BackendPostgres:
		return providePostgresStores(ctx, cfg, logger)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func provideMemoryStores(cfg *config.Config, logger *zap.Logger) (*Stores, func(), error) {
	content, err := local.NewStore(cfg.StorageRoot, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open content store: %w", err)
	}

	roots := memory.NewRootStore()
	stores := &Stores{
		Registry: memory.NewModuleRegistry(),
		Roots:    roots,
		Details:  roots,
		Tracker:  memory.NewRequestTracker(),
		Cache:    memory.NewResultCache(),
		Queues:   memory.NewWorkQueueStore(),
		Bus:      eventbus.NewMemoryBus(logger),
		Content:  content,
		Config:   memory.NewConfigStore(),
		APIKeys:  memory.NewAPIKeyStore(),
		Alerts:   memory.NewAlertStore(),
	}
	if cfg.RateLimitPerMinute > 0 {
		stores.RateLimit = auth.NewSlidingWindow(cfg.RateLimitPerMinute, time.Minute)
	}
	return stores, func() {}, nil
}

func providePostgresStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, func(), error) {
	db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DatabaseURL}, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	content, err := postgres.NewContentStore(db, cfg.StorageRoot, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to open content store: %w", err)
	}

	roots := postgres.NewRootStore(db)
	stores := &Stores{
		Registry: postgres.NewModuleRegistry(db),
		Roots:    roots,
		Details:  roots,
		Tracker:  postgres.NewRequestTracker(db),
		Cache:    postgres.NewResultCache(db),
		Content:  content,
		Config:   postgres.NewConfigStore(db),
		APIKeys:  postgres.NewAPIKeyStore(db),
	}
	cleanup := func() { db.Close() }

	if cfg.RedisAddress != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddress})
		if err := client.Ping(ctx).Err(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddress, err)
		}
		stores.Queues = redisstore.NewWorkQueueStore(client)
		stores.Bus = redisstore.NewBus(client, logger)
		stores.Alerts = redisstore.NewAlertStore(client)
		if cfg.RateLimitPerMinute > 0 {
			stores.RateLimit = auth.NewRedisLimiter(client, cfg.RateLimitPerMinute, time.Minute)
		}
		cleanup = func() {
			client.Close()
			db.Close()
		}
	} else {
		// single-node deployment: queues and alerts ride postgres, events
		// stay in process
		stores.Queues = postgres.NewWorkQueueStore(db)
		stores.Bus = eventbus.NewMemoryBus(logger)
		stores.Alerts = postgres.NewAlertStore(db)
		if cfg.RateLimitPerMinute > 0 {
			stores.RateLimit = auth.NewSlidingWindow(cfg.RateLimitPerMinute, time.Minute)
		}
	}

	return stores, cleanup, nil
}

// ProvideCoreSystem wires the core over the selected stores, registers the
// metrics subscriber on the bus and seeds the bootstrap credential.
func ProvideCoreSystem(
	ctx context.Context,
	cfg *config.Config,
	stores *Stores,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*core.CoreSystem, error) {
	system := core.New(core.Dependencies{
		Registry: stores.Registry,
		Roots:    stores.Roots,
		Details:  stores.Details,
		Tracker:  stores.Tracker,
		Cache:    stores.Cache,
		Queues:   stores.Queues,
		Bus:      stores.Bus,
		Content:  stores.Content,
		Config:   stores.Config,
		APIKeys:  stores.APIKeys,
		Alerts:   stores.Alerts,
	}, core.Config{
		RootUpdateRetries: cfg.RootUpdateRetries,
		SweepInterval:     cfg.SweepInterval,
	}, logger)

	if metrics != nil {
		counter := observability.NewEventCounter(metrics)
		for _, name := range events.AllNames() {
			if err := stores.Bus.RegisterHandler(ctx, name, counter); err != nil {
				return nil, fmt.Errorf("failed to register metrics subscriber: %w", err)
			}
		}
	}

	if cfg.BootstrapAPIKey != "" {
		if err := system.BootstrapAPIKey(ctx, "bootstrap", cfg.BootstrapAPIKey); err != nil {
			return nil, err
		}
	}

	return system, nil
}

// ProvideRouter builds the HTTP surface over the core.
func ProvideRouter(
	system *core.CoreSystem,
	cfg *config.Config,
	stores *Stores,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(system, cfg, stores.RateLimit, metrics, logger)
}
