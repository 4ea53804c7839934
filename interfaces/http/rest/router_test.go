package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/application/ports"
	"acecore/domain/analysis"
	"acecore/infrastructure/config"
	"acecore/infrastructure/eventbus"
	"acecore/infrastructure/observability"
	"acecore/infrastructure/persistence/memory"
	"acecore/infrastructure/storage/local"
	"acecore/pkg/auth"
)

type testServer struct {
	*httptest.Server
	core     *core.CoreSystem
	key      string
	adminKey string
}

func newTestServer(t *testing.T) *testServer {
	return newLimitedTestServer(t, nil)
}

func newLimitedTestServer(t *testing.T, limiter auth.Limiter) *testServer {
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
	key, err := system.CreateAPIKey(ctx, "tester", "", false)
	require.NoError(t, err)
	adminKey, err := system.CreateAPIKey(ctx, "operator", "", true)
	require.NoError(t, err)

	cfg := &config.Config{
		MaxPollTimeout: 5 * time.Second,
		EnableMetrics:  true,
	}
	router := NewRouter(system, cfg, limiter, observability.NewMetrics("ace"), zap.NewNop())
	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &testServer{Server: server, core: system, key: key, adminKey: adminKey}
}

// do sends a JSON request and returns the response with its body drained.
func (ts *testServer) do(t *testing.T, method, path, key string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, payload
}

func errorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var envelope struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	return envelope.Code
}

func TestOpenEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(payload))

	resp, payload = ts.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ready"}`, string(payload))

	// the health request above already produced an http_requests sample
	resp, payload = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(payload), "ace_http_requests_total")
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodGet, "/api/v1/amt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", errorCode(t, payload))

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/amt", "not-a-key", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", errorCode(t, payload))

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/amt", ts.key, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// admin routes reject ordinary keys
	resp, payload = ts.do(t, http.MethodPost, "/api/v1/auth", ts.key, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", errorCode(t, payload))
}

func TestRateLimiting(t *testing.T) {
	ts := newLimitedTestServer(t, auth.NewSlidingWindow(2, time.Minute))

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodGet, "/api/v1/amt", ts.key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, payload := ts.do(t, http.MethodGet, "/api/v1/amt", ts.key, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", errorCode(t, payload))

	// each credential carries its own budget
	resp, _ = ts.do(t, http.MethodGet, "/api/v1/amt", ts.adminKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// open endpoints are never limited
	resp, _ = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestModuleTypeLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodPost, "/api/v1/amt", ts.key, map[string]interface{}{
		"name":             "scanner",
		"observable_types": []string{"ipv4"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var registered analysis.ModuleType
	require.NoError(t, json.Unmarshal(payload, &registered))
	assert.Equal(t, "scanner", registered.Name)
	assert.Equal(t, analysis.DefaultVersion, registered.Version)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/amt/scanner", ts.key, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched analysis.ModuleType
	require.NoError(t, json.Unmarshal(payload, &fetched))
	assert.Equal(t, []string{"ipv4"}, fetched.ObservableTypes)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/amt", ts.key, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []analysis.ModuleType
	require.NoError(t, json.Unmarshal(payload, &listed))
	assert.Len(t, listed, 1)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/amt/absent", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_amt", errorCode(t, payload))

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/amt/scanner", ts.key, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, payload = ts.do(t, http.MethodDelete, "/api/v1/amt/scanner", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_amt", errorCode(t, payload))
}

func TestRegisterModuleTypeRejectsUnknownDependency(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodPost, "/api/v1/amt", ts.key, map[string]interface{}{
		"name":         "dependent",
		"dependencies": []string{"missing"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_amt_dependency", errorCode(t, payload))
}

func TestWorkQueueValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodPost, "/api/v1/work_queue", ts.key, map[string]interface{}{
		"amt": "t",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(t, payload))
}

func TestProcessRequestAndWorkQueue(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/amt", ts.key, map[string]interface{}{"name": "t"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	root := analysis.NewRootAnalysis()
	o := root.NewObservable("test", "test")
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/process_request", ts.key, analysis.NewRootRequest(root))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// version gate applies before anything is popped
	resp, payload := ts.do(t, http.MethodPost, "/api/v1/work_queue", ts.key, map[string]interface{}{
		"owner":   "worker-1",
		"amt":     "t",
		"timeout": 0,
		"version": "0.0.9",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "amt_version", errorCode(t, payload))

	resp, payload = ts.do(t, http.MethodPost, "/api/v1/work_queue", ts.key, map[string]interface{}{
		"owner":   "worker-1",
		"amt":     "t",
		"timeout": 0,
		"version": analysis.DefaultVersion,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ar analysis.AnalysisRequest
	require.NoError(t, json.Unmarshal(payload, &ar))
	assert.Equal(t, analysis.StatusAnalyzing, ar.Status)
	assert.Equal(t, "worker-1", ar.Owner)

	// queue is drained
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/work_queue", ts.key, map[string]interface{}{
		"owner":   "worker-1",
		"amt":     "t",
		"timeout": 0,
		"version": analysis.DefaultVersion,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// report the result back and read both tracking views
	result := ar.InitializeResult()
	target := ar.ResultObservable()
	require.NotNil(t, target)
	a := analysis.NewAnalysis(ar.Type)
	require.NoError(t, a.SetDetails(map[string]string{"verdict": "benign"}))
	a.Summary = "looked at it"
	result.AddAnalysis(target, a)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/process_request", ts.key, &ar)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/analysis_tracking/root/"+root.UUID, ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stored analysis.RootAnalysis
	require.NoError(t, json.Unmarshal(payload, &stored))
	landed := stored.GetObservable(o.UUID).GetAnalysis("t")
	require.NotNil(t, landed)
	assert.Equal(t, "looked at it", landed.Summary)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/analysis_tracking/details/"+a.UUID, ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"verdict":"benign"}`, string(payload))

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/analysis_tracking/root/no-such-root", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_root", errorCode(t, payload))

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/analysis_tracking/details/no-such-details", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_analysis_details", errorCode(t, payload))
}

func uploadContent(t *testing.T, ts *testServer, name string, content []byte, meta string) analysis.ContentMetadata {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	if meta != "" {
		require.NoError(t, mw.WriteField("meta", meta))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/storage", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.key)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored analysis.ContentMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	return stored
}

func TestStorageEndpoints(t *testing.T) {
	ts := newTestServer(t)

	stored := uploadContent(t, ts, "sample.bin", []byte("hello world"), "")
	assert.Equal(t, "sample.bin", stored.Name)
	assert.Equal(t, int64(11), stored.Size)
	require.Len(t, stored.SHA256, 64)

	resp, payload := ts.do(t, http.MethodGet, "/api/v1/storage/"+stored.SHA256, ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", string(payload))
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "sample.bin")

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/storage/meta/"+stored.SHA256, ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta analysis.ContentMetadata
	require.NoError(t, json.Unmarshal(payload, &meta))
	assert.Equal(t, stored.SHA256, meta.SHA256)

	// the meta document wins over the upload filename
	renamed := uploadContent(t, ts, "ignored.bin", []byte("other content"), `{"name":"renamed.bin"}`)
	assert.Equal(t, "renamed.bin", renamed.Name)

	missing := strings.Repeat("0", 64)
	resp, payload = ts.do(t, http.MethodGet, "/api/v1/storage/"+missing, ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_file", errorCode(t, payload))

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/storage/meta/"+missing, ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_file", errorCode(t, payload))
}

func TestConfigEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodGet, "/api/v1/config?key=/ace/test", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_config", errorCode(t, payload))

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/config", ts.key, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	setting := ports.ConfigSetting{Name: "/ace/test", Value: json.RawMessage(`123`), Documentation: "test knob"}

	// writes are admin only
	resp, payload = ts.do(t, http.MethodPut, "/api/v1/config", ts.key, setting)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", errorCode(t, payload))

	resp, _ = ts.do(t, http.MethodPut, "/api/v1/config", ts.adminKey, setting)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	setting.Value = json.RawMessage(`456`)
	resp, _ = ts.do(t, http.MethodPut, "/api/v1/config", ts.adminKey, setting)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/config?key=/ace/test", ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched ports.ConfigSetting
	require.NoError(t, json.Unmarshal(payload, &fetched))
	assert.Equal(t, "456", string(fetched.Value))
	assert.Equal(t, "test knob", fetched.Documentation)

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/config?key=/ace/test", ts.adminKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, payload = ts.do(t, http.MethodDelete, "/api/v1/config?key=/ace/test", ts.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_config", errorCode(t, payload))
}

func TestAPIKeyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodPost, "/api/v1/auth", ts.adminKey, map[string]interface{}{
		"name":        "worker",
		"description": "module host credential",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Name   string `json:"name"`
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(payload, &created))
	assert.Equal(t, "worker", created.Name)
	require.NotEmpty(t, created.APIKey)

	// the minted key authenticates
	resp, _ = ts.do(t, http.MethodGet, "/api/v1/amt", created.APIKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = ts.do(t, http.MethodPost, "/api/v1/auth", ts.adminKey, map[string]interface{}{"name": "worker"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "duplicate_apikey_name", errorCode(t, payload))

	resp, payload = ts.do(t, http.MethodPost, "/api/v1/auth", ts.adminKey, map[string]interface{}{"description": "nameless"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(t, payload))

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/auth/worker", ts.adminKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the deleted key no longer authenticates
	resp, _ = ts.do(t, http.MethodGet, "/api/v1/amt", created.APIKey, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, payload = ts.do(t, http.MethodDelete, "/api/v1/auth/worker", ts.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_api_key", errorCode(t, payload))
}

func TestAlertEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	resp, _ := ts.do(t, http.MethodPut, "/api/v1/ams/siem", ts.key, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPut, "/api/v1/ams/siem", ts.key, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := ts.do(t, http.MethodGet, "/api/v1/ams/siem", ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(payload))

	submitted, err := ts.core.SubmitAlert(ctx, "root-123")
	require.NoError(t, err)
	require.True(t, submitted)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/ams/siem", ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["root-123"]`, string(payload))

	// a timeout poll returns a single alert
	_, err = ts.core.SubmitAlert(ctx, "root-456")
	require.NoError(t, err)
	resp, payload = ts.do(t, http.MethodGet, "/api/v1/ams/siem?timeout=1", ts.key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["root-456"]`, string(payload))

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/ams/siem?timeout=bogus", ts.key, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(t, payload))

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/ams/siem", ts.key, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, payload = ts.do(t, http.MethodGet, "/api/v1/ams/siem", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_ams", errorCode(t, payload))

	resp, payload = ts.do(t, http.MethodDelete, "/api/v1/ams/siem", ts.key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_ams", errorCode(t, payload))
}

func TestErrorEnvelopeShape(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.do(t, http.MethodPost, "/api/v1/process_request", ts.key, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, "invalid_request", envelope["code"])
	assert.NotEmpty(t, envelope["details"])
}
