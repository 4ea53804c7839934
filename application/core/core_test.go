package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
	"acecore/infrastructure/eventbus"
	"acecore/infrastructure/persistence/memory"
	"acecore/infrastructure/storage/local"
)

// allEventNames is the full lifecycle event set, so the recorder observes
// everything a test run fires.
var allEventNames = []string{
	events.RootNew, events.RootModified, events.RootExpired, events.RootDeleted, events.RootCompleted,
	events.DetailsNew, events.DetailsModified, events.DetailsDeleted,
	events.Alert, events.AlertSystemRegistered, events.AlertSystemUnregistered,
	events.AMTNew, events.AMTModified, events.AMTDeleted,
	events.ARNew, events.ARDeleted, events.ARExpired,
	events.CacheNew, events.CacheHit,
	events.ConfigSet, events.ConfigDelete,
	events.StorageNew, events.StorageDeleted,
	events.WorkQueueNew, events.WorkQueueDeleted,
	events.WorkAdd, events.WorkRemove, events.WorkAssigned,
	events.ProcessingRequestObservable, events.ProcessingRequestRoot, events.ProcessingRequestResult,
}

// eventRecorder captures fired events in order.
type eventRecorder struct {
	mu       sync.Mutex
	recorded []events.Event
}

func (r *eventRecorder) HandleEvent(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, event)
	return nil
}

func (r *eventRecorder) HandleError(ctx context.Context, event events.Event, err error) {}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.recorded))
	for _, event := range r.recorded {
		names = append(names, event.Name)
	}
	return names
}

func (r *eventRecorder) count(name string) int {
	count := 0
	for _, recorded := range r.names() {
		if recorded == name {
			count++
		}
	}
	return count
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = nil
}

type testEnv struct {
	core     *CoreSystem
	registry *memory.ModuleRegistry
	roots    *memory.RootStore
	tracker  *memory.RequestTracker
	cache    *memory.ResultCache
	queues   *memory.WorkQueueStore
	bus      *eventbus.MemoryBus
	content  *local.Store
	events   *eventRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	content, err := local.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	env := &testEnv{
		registry: memory.NewModuleRegistry(),
		roots:    memory.NewRootStore(),
		tracker:  memory.NewRequestTracker(),
		cache:    memory.NewResultCache(),
		queues:   memory.NewWorkQueueStore(),
		bus:      eventbus.NewMemoryBus(zap.NewNop()),
		content:  content,
		events:   &eventRecorder{},
	}
	env.core = New(Dependencies{
		Registry: env.registry,
		Roots:    env.roots,
		Details:  env.roots,
		Tracker:  env.tracker,
		Cache:    env.cache,
		Queues:   env.queues,
		Bus:      env.bus,
		Content:  env.content,
		Config:   memory.NewConfigStore(),
		APIKeys:  memory.NewAPIKeyStore(),
		Alerts:   memory.NewAlertStore(),
	}, Config{}, zap.NewNop())

	for _, name := range allEventNames {
		require.NoError(t, env.bus.RegisterHandler(context.Background(), name, env.events))
	}
	return env
}

// registerAMT registers a module type with the given cache ttl. A negative
// ttl registers a non-caching module type.
func registerAMT(t *testing.T, env *testEnv, name string, ttl int) *analysis.ModuleType {
	t.Helper()
	amt := analysis.NewModuleType(name)
	if ttl >= 0 {
		amt.CacheTTL = &ttl
	}
	registered, err := env.core.RegisterModuleType(context.Background(), amt)
	require.NoError(t, err)
	return registered
}

// submitRoot pushes the root through the processor as a fresh root request.
func submitRoot(t *testing.T, env *testEnv, root *analysis.RootAnalysis) {
	t.Helper()
	require.NoError(t, env.core.SubmitRequest(context.Background(), analysis.NewRootRequest(root)))
}

// pollWork plays the worker side of the queue handshake.
func pollWork(t *testing.T, env *testEnv, amt *analysis.ModuleType, owner string) *analysis.AnalysisRequest {
	t.Helper()
	ar, err := env.core.GetNextWork(context.Background(), owner, amt.Name, 0, amt.Version, amt.ExtendedVersion)
	require.NoError(t, err)
	require.NotNil(t, ar)
	return ar
}

// postResult attaches a worker analysis to the request's observable and
// reports it back through the processor. build may decorate the result.
func postResult(t *testing.T, env *testEnv, ar *analysis.AnalysisRequest, build func(result *analysis.RootAnalysis, target *analysis.Observable, a *analysis.Analysis)) *analysis.Analysis {
	t.Helper()
	result := ar.InitializeResult()
	target := ar.ResultObservable()
	require.NotNil(t, target)

	a := analysis.NewAnalysis(ar.Type)
	if build != nil {
		build(result, target, a)
	}
	result.AddAnalysis(target, a)
	require.NoError(t, env.core.ProcessAnalysisRequest(context.Background(), ar))
	return a
}

func queueSize(t *testing.T, env *testEnv, amtName string) int {
	t.Helper()
	size, err := env.core.QueueSize(context.Background(), amtName)
	require.NoError(t, err)
	return size
}
