package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/application/ports"
	"acecore/domain/analysis"
	"acecore/infrastructure/config"
	"acecore/infrastructure/eventbus"
	"acecore/infrastructure/persistence/memory"
	"acecore/infrastructure/storage/local"
	"acecore/interfaces/http/rest"
	pkgerrors "acecore/pkg/errors"
)

type testBackend struct {
	server   *httptest.Server
	core     *core.CoreSystem
	key      string
	adminKey string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	content, err := local.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	roots := memory.NewRootStore()
	system := core.New(core.Dependencies{
		Registry: memory.NewModuleRegistry(),
		Roots:    roots,
		Details:  roots,
		Tracker:  memory.NewRequestTracker(),
		Cache:    memory.NewResultCache(),
		Queues:   memory.NewWorkQueueStore(),
		Bus:      eventbus.NewMemoryBus(zap.NewNop()),
		Content:  content,
		Config:   memory.NewConfigStore(),
		APIKeys:  memory.NewAPIKeyStore(),
		Alerts:   memory.NewAlertStore(),
	}, core.Config{}, zap.NewNop())

	ctx := context.Background()
	key, err := system.CreateAPIKey(ctx, "worker", "", false)
	require.NoError(t, err)
	adminKey, err := system.CreateAPIKey(ctx, "operator", "", true)
	require.NoError(t, err)

	cfg := &config.Config{MaxPollTimeout: 5 * time.Second}
	router := rest.NewRouter(system, cfg, nil, nil, zap.NewNop())
	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &testBackend{server: server, core: system, key: key, adminKey: adminKey}
}

func (b *testBackend) client(t *testing.T, key string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: b.server.URL, APIKey: key})
	require.NoError(t, err)
	return c
}

func TestClientModuleTypes(t *testing.T) {
	backend := newTestBackend(t)
	c := backend.client(t, backend.key)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	registered, err := c.RegisterModuleType(ctx, analysis.NewModuleType("scanner"))
	require.NoError(t, err)
	assert.Equal(t, "scanner", registered.Name)
	assert.Equal(t, analysis.DefaultVersion, registered.Version)

	fetched, err := c.GetModuleType(ctx, "scanner")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "scanner", fetched.Name)

	missing, err := c.GetModuleType(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)

	listed, err := c.ListModuleTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	deleted, err := c.DeleteModuleType(ctx, "scanner")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = c.DeleteModuleType(ctx, "scanner")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestClientWorkFlow(t *testing.T) {
	backend := newTestBackend(t)
	c := backend.client(t, backend.key)
	ctx := context.Background()

	amt, err := c.RegisterModuleType(ctx, analysis.NewModuleType("t"))
	require.NoError(t, err)

	root := analysis.NewRootAnalysis()
	o := root.NewObservable("test", "test")
	require.NoError(t, c.ProcessAnalysisRequest(ctx, analysis.NewRootRequest(root)))

	ar, err := c.GetNextWork(ctx, "worker-1", "t", 0, amt.Version, amt.ExtendedVersion)
	require.NoError(t, err)
	require.NotNil(t, ar)
	assert.Equal(t, analysis.StatusAnalyzing, ar.Status)
	assert.Equal(t, "worker-1", ar.Owner)

	empty, err := c.GetNextWork(ctx, "worker-1", "t", 0, amt.Version, amt.ExtendedVersion)
	require.NoError(t, err)
	assert.Nil(t, empty)

	// a stale worker version is rejected, not silently served
	_, err = c.GetNextWork(ctx, "worker-1", "t", 0, "0.0.9", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAMTVersion))

	result := ar.InitializeResult()
	target := ar.ResultObservable()
	require.NotNil(t, target)
	a := analysis.NewAnalysis(ar.Type)
	require.NoError(t, a.SetDetails(map[string]string{"verdict": "malicious"}))
	a.Summary = "flagged"
	result.AddAnalysis(target, a)
	require.NoError(t, c.ProcessAnalysisRequest(ctx, ar))

	stored, err := c.GetRoot(ctx, root.UUID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	landed := stored.GetObservable(o.UUID).GetAnalysis("t")
	require.NotNil(t, landed)
	assert.Equal(t, "flagged", landed.Summary)

	details, err := c.GetDetails(ctx, a.UUID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verdict":"malicious"}`, string(details))

	noRoot, err := c.GetRoot(ctx, "no-such-root")
	require.NoError(t, err)
	assert.Nil(t, noRoot)

	noDetails, err := c.GetDetails(ctx, "no-such-details")
	require.NoError(t, err)
	assert.Nil(t, noDetails)
}

func TestClientStorage(t *testing.T) {
	backend := newTestBackend(t)
	c := backend.client(t, backend.key)
	ctx := context.Background()

	stored, err := c.StoreContent(ctx, bytes.NewReader([]byte("payload bytes")), &analysis.ContentMetadata{Name: "evidence.bin"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "evidence.bin", stored.Name)
	require.Len(t, stored.SHA256, 64)

	rc, err := c.OpenContent(ctx, stored.SHA256)
	require.NoError(t, err)
	payload, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload bytes", string(payload))

	meta, err := c.GetContentMeta(ctx, stored.SHA256)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(len("payload bytes")), meta.Size)

	missingSHA := "0000000000000000000000000000000000000000000000000000000000000000"
	missing, err := c.GetContentMeta(ctx, missingSHA)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = c.OpenContent(ctx, missingSHA)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownFile))
}

func TestClientConfigAndKeys(t *testing.T) {
	backend := newTestBackend(t)
	admin := backend.client(t, backend.adminKey)
	worker := backend.client(t, backend.key)
	ctx := context.Background()

	// config writes need the admin credential
	setting := &ports.ConfigSetting{Name: "/ace/limit", Value: json.RawMessage(`10`)}
	err := worker.SetConfig(ctx, setting)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAPIKey))
	assert.Equal(t, http.StatusForbidden, pkgerrors.HTTPStatus(err))

	require.NoError(t, admin.SetConfig(ctx, setting))
	fetched, err := worker.GetConfig(ctx, "/ace/limit")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "10", string(fetched.Value))

	unset, err := worker.GetConfig(ctx, "/ace/other")
	require.NoError(t, err)
	assert.Nil(t, unset)

	deleted, err := admin.DeleteConfig(ctx, "/ace/limit")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = admin.DeleteConfig(ctx, "/ace/limit")
	require.NoError(t, err)
	assert.False(t, deleted)

	// mint a credential and use it
	key, err := admin.CreateAPIKey(ctx, "minted", "test credential", false)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	minted := backend.client(t, key)
	_, err = minted.ListModuleTypes(ctx)
	require.NoError(t, err)

	removed, err := admin.DeleteAPIKey(ctx, "minted")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = admin.DeleteAPIKey(ctx, "minted")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestClientAlerts(t *testing.T) {
	backend := newTestBackend(t)
	c := backend.client(t, backend.key)
	ctx := context.Background()

	created, err := c.RegisterAlertSystem(ctx, "siem")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = c.RegisterAlertSystem(ctx, "siem")
	require.NoError(t, err)
	assert.False(t, created)

	alerts, err := c.GetAlerts(ctx, "siem", nil)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	submitted, err := backend.core.SubmitAlert(ctx, "root-1")
	require.NoError(t, err)
	require.True(t, submitted)

	alerts, err = c.GetAlerts(ctx, "siem", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"root-1"}, alerts)

	removed, err := c.UnregisterAlertSystem(ctx, "siem")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = c.GetAlerts(ctx, "siem", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownAlertSystem))
}

func TestClientBreakerOpensOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL, APIKey: "key"})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.GetModuleType(ctx, "x")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	}

	// five straight failures tripped the breaker
	_, err = c.GetModuleType(ctx, "x")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
