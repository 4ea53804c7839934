package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acecore/domain/analysis"
	"acecore/domain/events"
)

func TestSweepPass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// an assignment abandoned by its worker
	ttl := 600
	amt := &analysis.ModuleType{Name: "t", Version: "1.0.0", Timeout: 0, CacheTTL: &ttl}
	_, err := env.core.RegisterModuleType(ctx, amt)
	require.NoError(t, err)
	root := analysis.NewRootAnalysis()
	root.NewObservable("test", "test")
	submitRoot(t, env, root)
	assigned := pollWork(t, env, amt, "worker-1")

	// a cache entry already past its ttl
	require.NoError(t, env.cache.Put(ctx, "stale-key", assigned, -1))

	// expired content nothing references
	expired := time.Now().Add(-time.Hour).UTC()
	_, err = env.core.StoreContent(ctx, strings.NewReader("stale"), &analysis.ContentMetadata{
		Name:           "stale.bin",
		ExpirationDate: &expired,
	})
	require.NoError(t, err)
	env.events.reset()

	env.core.sweep(ctx)

	// the abandoned assignment is queued again
	assert.Equal(t, 1, env.events.count(events.ARExpired))
	assert.Equal(t, 1, queueSize(t, env, "t"))
	requeued, err := env.core.GetRequest(ctx, assigned.ID)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, analysis.StatusQueued, requeued.Status)
	assert.Empty(t, requeued.Owner)

	// the stale cache entry and the expired blob are gone
	hit, err := env.cache.Get(ctx, "stale-key")
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.Equal(t, 1, env.events.count(events.StorageDeleted))
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)

	env.core.Start(context.Background())
	env.core.Stop()

	// a second Stop without a Start in between is a no-op
	env.core.Stop()
}

func TestStopWaitsForSweepLoop(t *testing.T) {
	env := newTestEnv(t)
	env.core.sweepInterval = time.Millisecond

	env.core.Start(context.Background())
	// let a few ticks fire against the empty stores
	time.Sleep(20 * time.Millisecond)
	env.core.Stop()

	select {
	case <-env.core.done:
	default:
		t.Fatal("sweep loop still running after Stop")
	}
}
