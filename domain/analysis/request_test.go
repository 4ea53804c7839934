package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachableModuleType(name string) *ModuleType {
	amt := NewModuleType(name)
	ttl := 600
	amt.CacheTTL = &ttl
	return amt
}

func TestNewObservableRequest(t *testing.T) {
	root := NewRootAnalysis()
	root.Version = "v1"
	o := root.NewObservable("ipv4", "1.2.3.4")
	amt := cachableModuleType("hasher")

	request := NewObservableRequest(root, o, amt)

	assert.NotEmpty(t, request.ID)
	assert.Equal(t, StatusNew, request.Status)
	assert.True(t, request.IsObservableRequest())
	assert.False(t, request.IsRootRequest())
	assert.False(t, request.IsResult())
	assert.True(t, request.IsCachable())
	assert.Equal(t, GenerateCacheKey(o, amt), request.CacheKey)
	assert.Equal(t, "v1", request.OriginalRootVersion)
}

func TestNewRootRequest(t *testing.T) {
	root := NewRootAnalysis()
	root.NewObservable("ipv4", "1.2.3.4")
	root.NewObservable("fqdn", "example.com")

	request := NewRootRequest(root)

	assert.True(t, request.IsRootRequest())
	assert.False(t, request.IsCachable())
	assert.False(t, request.IsResult())
}

func TestRequestInitializeResult(t *testing.T) {
	root := NewRootAnalysis()
	o := root.NewObservable("ipv4", "1.2.3.4")
	request := NewObservableRequest(root, o, NewModuleType("hasher"))

	result := request.InitializeResult()
	require.NotNil(t, result)
	assert.True(t, request.IsResult())

	// the result snapshot is independent of the live root
	result.GetObservable(o.UUID).AddTag("worker")
	assert.False(t, o.HasTag("worker"))
}

func TestRequestResultObservable(t *testing.T) {
	root := NewRootAnalysis()
	o := root.NewObservable("file", "sample.bin")
	amt := NewModuleType("extractor")
	request := NewObservableRequest(root, o, amt)

	result := request.InitializeResult()
	ro := request.ResultObservable()
	require.NotNil(t, ro)
	assert.Same(t, result.GetObservable(o.UUID), ro)

	a := result.AddAnalysis(ro, NewAnalysis(amt))
	result.AddAnalysisObservable(a, NewObservable("file", "dropped.bin"))
	assert.NotNil(t, ro.GetAnalysis("extractor"))
}

func TestRequestResultObservableFallsBackToIdentity(t *testing.T) {
	root := NewRootAnalysis()
	o := root.NewObservable("ipv4", "1.2.3.4")
	request := NewObservableRequest(root, o, NewModuleType("hasher"))

	// a result assembled from a different root carries different UUIDs
	other := NewRootAnalysis()
	otherObservable := other.NewObservable("ipv4", "1.2.3.4")
	request.Result = other

	ro := request.ResultObservable()
	require.NotNil(t, ro)
	assert.Same(t, otherObservable, ro)
}

func TestRequestJSONRoundTripRestoresObservableReference(t *testing.T) {
	root := NewRootAnalysis()
	o := root.NewObservable("ipv4", "1.2.3.4")
	request := NewObservableRequest(root, o, cachableModuleType("hasher"))
	request.Status = StatusQueued

	raw, err := json.Marshal(request)
	require.NoError(t, err)

	var decoded AnalysisRequest
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, request.ID, decoded.ID)
	assert.Equal(t, StatusQueued, decoded.Status)
	assert.Equal(t, request.CacheKey, decoded.CacheKey)
	require.NotNil(t, decoded.Observable)

	// the decoded request's observable is the instance inside its root
	assert.Same(t, decoded.Root.GetObservable(o.UUID), decoded.Observable)
}
