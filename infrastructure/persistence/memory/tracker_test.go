package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acecore/domain/analysis"
)

// observableRequest builds a tracked-shape request: one observable inside one
// root, bound to a module type with the given timeout.
func observableRequest(t *testing.T, amtName string, timeout int) *analysis.AnalysisRequest {
	t.Helper()
	ttl := 600
	amt := &analysis.ModuleType{Name: amtName, Version: "1.0.0", Timeout: timeout, CacheTTL: &ttl}
	root := analysis.NewRootAnalysis()
	o := root.NewObservable("test", root.UUID)
	return analysis.NewObservableRequest(root, o, amt)
}

func TestTrackerTrackAndGet(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()
	ar := observableRequest(t, "t", 60)

	require.NoError(t, tracker.Track(ctx, ar))

	got, err := tracker.Get(ctx, ar.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ar.ID, got.ID)
	assert.Equal(t, ar.CacheKey, got.CacheKey)

	got, err = tracker.GetByCacheKey(ctx, ar.CacheKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ar.ID, got.ID)

	byRoot, err := tracker.GetByRoot(ctx, ar.Root.UUID)
	require.NoError(t, err)
	require.Len(t, byRoot, 1)
	assert.Equal(t, ar.ID, byRoot[0].ID)

	got, err = tracker.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTrackerReturnsDecodedCopies(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()
	ar := observableRequest(t, "t", 60)
	require.NoError(t, tracker.Track(ctx, ar))

	first, err := tracker.Get(ctx, ar.ID)
	require.NoError(t, err)
	first.Owner = "scribbled"

	second, err := tracker.Get(ctx, ar.ID)
	require.NoError(t, err)
	assert.Empty(t, second.Owner)
}

func TestTrackerCacheIndexFirstRegistrationWins(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()

	queued := observableRequest(t, "t", 60)
	require.NoError(t, tracker.Track(ctx, queued))

	// a linked twin shares the fingerprint but never shadows the queued one
	twin := observableRequest(t, "t", 60)
	twin.CacheKey = queued.CacheKey
	require.NoError(t, tracker.Track(ctx, twin))

	got, err := tracker.GetByCacheKey(ctx, queued.CacheKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, queued.ID, got.ID)

	// deleting the twin leaves the index pointing at the queued request
	_, err = tracker.Delete(ctx, twin.ID)
	require.NoError(t, err)
	got, err = tracker.GetByCacheKey(ctx, queued.CacheKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, queued.ID, got.ID)

	_, err = tracker.Delete(ctx, queued.ID)
	require.NoError(t, err)
	got, err = tracker.GetByCacheKey(ctx, queued.CacheKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTrackerLockUnlock(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()
	ar := observableRequest(t, "t", 60)
	require.NoError(t, tracker.Track(ctx, ar))

	locked, err := tracker.Lock(ctx, ar.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	// a fresh lock is exclusive
	locked, err = tracker.Lock(ctx, ar.ID)
	require.NoError(t, err)
	assert.False(t, locked)

	unlocked, err := tracker.Unlock(ctx, ar.ID)
	require.NoError(t, err)
	assert.True(t, unlocked)
	unlocked, err = tracker.Unlock(ctx, ar.ID)
	require.NoError(t, err)
	assert.False(t, unlocked)

	locked, err = tracker.Lock(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestTrackerLockSurvivesTrackUpdates(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()
	ar := observableRequest(t, "t", 60)
	require.NoError(t, tracker.Track(ctx, ar))

	locked, err := tracker.Lock(ctx, ar.ID)
	require.NoError(t, err)
	require.True(t, locked)

	ar.Owner = "worker-1"
	require.NoError(t, tracker.Track(ctx, ar))

	locked, err = tracker.Lock(ctx, ar.ID)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestTrackerStaleLockBroken(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()

	// a zero module timeout makes every held lock immediately stale
	ar := observableRequest(t, "t", 0)
	require.NoError(t, tracker.Track(ctx, ar))

	locked, err := tracker.Lock(ctx, ar.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = tracker.Lock(ctx, ar.ID)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestTrackerExpiration(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()

	// analyzing with a zero timeout expires the moment it is stamped
	expiring := observableRequest(t, "t", 0)
	expiring.Status = analysis.StatusAnalyzing
	require.NoError(t, tracker.Track(ctx, expiring))

	// analyzing with a long timeout stays fresh
	fresh := observableRequest(t, "t", 3600)
	fresh.Status = analysis.StatusAnalyzing
	require.NoError(t, tracker.Track(ctx, fresh))

	// queued requests carry no expiration at all
	queued := observableRequest(t, "t", 0)
	require.NoError(t, tracker.Track(ctx, queued))

	expired, err := tracker.GetExpired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, expiring.ID, expired[0].ID)

	// moving off ANALYZING clears the stamp
	expiring.Status = analysis.StatusCompleted
	require.NoError(t, tracker.Track(ctx, expiring))
	expired, err = tracker.GetExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestTrackerLinking(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()

	source := observableRequest(t, "t", 60)
	dest := observableRequest(t, "t", 60)
	require.NoError(t, tracker.Track(ctx, source))
	require.NoError(t, tracker.Track(ctx, dest))

	linked, err := tracker.Link(ctx, source.ID, dest.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	links, err := tracker.LinkedRequests(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, dest.ID, links[0].ID)

	// linking against a locked source fails: its result is being merged
	locked, err := tracker.Lock(ctx, source.ID)
	require.NoError(t, err)
	require.True(t, locked)
	linked, err = tracker.Link(ctx, source.ID, dest.ID)
	require.NoError(t, err)
	assert.False(t, linked)

	linked, err = tracker.Link(ctx, "missing", dest.ID)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestTrackerDeleteCleansLinks(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()

	source := observableRequest(t, "t", 60)
	dest := observableRequest(t, "t", 60)
	require.NoError(t, tracker.Track(ctx, source))
	require.NoError(t, tracker.Track(ctx, dest))
	_, err := tracker.Link(ctx, source.ID, dest.ID)
	require.NoError(t, err)

	// deleting the destination removes it from the source's link set
	deleted, err := tracker.Delete(ctx, dest.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	links, err := tracker.LinkedRequests(ctx, source.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	deleted, err = tracker.Delete(ctx, dest.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTrackerClearForModuleType(t *testing.T) {
	tracker := NewRequestTracker()
	ctx := context.Background()

	doomed := observableRequest(t, "doomed", 60)
	spared := observableRequest(t, "spared", 60)
	require.NoError(t, tracker.Track(ctx, doomed))
	require.NoError(t, tracker.Track(ctx, spared))

	require.NoError(t, tracker.ClearForModuleType(ctx, "doomed"))

	got, err := tracker.Get(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = tracker.Get(ctx, spared.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
