package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"acecore/domain/analysis"
)

type trackedRequest struct {
	data      []byte
	amtName   string
	cacheKey  string
	rootUUID  string
	timeout   int
	lock      *time.Time
	expiresAt *time.Time
}

// RequestTracker keeps in-flight analysis request state in process memory.
// Requests are stored in their canonical encoding with lookup indexes by
// cache key and root, mirroring the relational layout.
type RequestTracker struct {
	mu         sync.Mutex
	requests   map[string]*trackedRequest
	cacheIndex map[string]string
	rootIndex  map[string]map[string]bool
	links      map[string]map[string]bool
}

// NewRequestTracker builds an empty tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests:   map[string]*trackedRequest{},
		cacheIndex: map[string]string{},
		rootIndex:  map[string]map[string]bool{},
		links:      map[string]map[string]bool{},
	}
}

func (t *RequestTracker) Track(ctx context.Context, request *analysis.AnalysisRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	record := &trackedRequest{
		data:     data,
		cacheKey: request.CacheKey,
		rootUUID: request.Root.UUID,
	}
	if request.Type != nil {
		record.amtName = request.Type.Name
		record.timeout = request.Type.Timeout
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.requests[request.ID]; ok {
		// the advisory lock survives record updates
		record.lock = existing.lock
		if existing.cacheKey != "" && existing.cacheKey != request.CacheKey &&
			t.cacheIndex[existing.cacheKey] == request.ID {
			delete(t.cacheIndex, existing.cacheKey)
		}
		// the first analyzing stamp sticks until the status moves on
		if request.Status == analysis.StatusAnalyzing {
			record.expiresAt = existing.expiresAt
		}
	}

	if request.Status == analysis.StatusAnalyzing && record.expiresAt == nil && request.Type != nil {
		expires := time.Now().Add(time.Duration(request.Type.Timeout) * time.Second)
		record.expiresAt = &expires
	}
	if request.Status != analysis.StatusAnalyzing {
		record.expiresAt = nil
	}

	t.requests[request.ID] = record
	// first registration wins the index, so linked twins sharing the
	// fingerprint never shadow the queued request
	if request.CacheKey != "" {
		if _, taken := t.cacheIndex[request.CacheKey]; !taken || t.cacheIndex[request.CacheKey] == request.ID {
			t.cacheIndex[request.CacheKey] = request.ID
		}
	}
	if t.rootIndex[record.rootUUID] == nil {
		t.rootIndex[record.rootUUID] = map[string]bool{}
	}
	t.rootIndex[record.rootUUID][request.ID] = true
	return nil
}

func (t *RequestTracker) Get(ctx context.Context, id string) (*analysis.AnalysisRequest, error) {
	t.mu.Lock()
	record, ok := t.requests[id]
	t.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeRequest(record.data)
}

func (t *RequestTracker) GetByCacheKey(ctx context.Context, cacheKey string) (*analysis.AnalysisRequest, error) {
	t.mu.Lock()
	id, ok := t.cacheIndex[cacheKey]
	var record *trackedRequest
	if ok {
		record = t.requests[id]
	}
	t.mu.Unlock()
	if record == nil {
		return nil, nil
	}
	return decodeRequest(record.data)
}

func (t *RequestTracker) GetByRoot(ctx context.Context, rootUUID string) ([]*analysis.AnalysisRequest, error) {
	t.mu.Lock()
	payloads := t.collectLocked(t.rootIndex[rootUUID])
	t.mu.Unlock()
	return decodeRequests(payloads)
}

func (t *RequestTracker) GetExpired(ctx context.Context) ([]*analysis.AnalysisRequest, error) {
	now := time.Now()
	t.mu.Lock()
	var payloads [][]byte
	for _, id := range sortedRequestIDs(t.requests) {
		record := t.requests[id]
		if record.expiresAt != nil && !now.Before(*record.expiresAt) {
			payloads = append(payloads, record.data)
		}
	}
	t.mu.Unlock()
	return decodeRequests(payloads)
}

func (t *RequestTracker) Delete(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteLocked(id), nil
}

func (t *RequestTracker) Lock(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.requests[id]
	if !ok {
		return false, nil
	}

	now := time.Now()
	if record.lock == nil {
		record.lock = &now
		return true, nil
	}

	// a lock held past twice the module timeout is stale and may be broken
	stale := time.Duration(record.timeout) * 2 * time.Second
	if now.Sub(*record.lock) >= stale {
		record.lock = &now
		return true, nil
	}
	return false, nil
}

func (t *RequestTracker) Unlock(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.requests[id]
	if !ok || record.lock == nil {
		return false, nil
	}
	record.lock = nil
	return true, nil
}

func (t *RequestTracker) Link(ctx context.Context, sourceID, destID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	source, ok := t.requests[sourceID]
	if !ok || source.lock != nil {
		return false, nil
	}
	if t.links[sourceID] == nil {
		t.links[sourceID] = map[string]bool{}
	}
	t.links[sourceID][destID] = true
	return true, nil
}

func (t *RequestTracker) LinkedRequests(ctx context.Context, sourceID string) ([]*analysis.AnalysisRequest, error) {
	t.mu.Lock()
	payloads := t.collectLocked(t.links[sourceID])
	t.mu.Unlock()
	return decodeRequests(payloads)
}

func (t *RequestTracker) ClearForModuleType(ctx context.Context, amtName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var targets []string
	for id, record := range t.requests {
		if record.amtName == amtName {
			targets = append(targets, id)
		}
	}
	for _, id := range targets {
		t.deleteLocked(id)
	}
	return nil
}

func (t *RequestTracker) deleteLocked(id string) bool {
	record, ok := t.requests[id]
	if !ok {
		return false
	}
	delete(t.requests, id)

	if record.cacheKey != "" && t.cacheIndex[record.cacheKey] == id {
		delete(t.cacheIndex, record.cacheKey)
	}

	if index := t.rootIndex[record.rootUUID]; index != nil {
		delete(index, id)
		if len(index) == 0 {
			delete(t.rootIndex, record.rootUUID)
		}
	}

	delete(t.links, id)
	for source, dests := range t.links {
		delete(dests, id)
		if len(dests) == 0 {
			delete(t.links, source)
		}
	}
	return true
}

// collectLocked returns the stored payloads for the given id set in a stable
// order. The caller holds the mutex.
func (t *RequestTracker) collectLocked(ids map[string]bool) [][]byte {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var payloads [][]byte
	for _, id := range sorted {
		if record, ok := t.requests[id]; ok {
			payloads = append(payloads, record.data)
		}
	}
	return payloads
}

func sortedRequestIDs(requests map[string]*trackedRequest) []string {
	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func decodeRequest(data []byte) (*analysis.AnalysisRequest, error) {
	var request analysis.AnalysisRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func decodeRequests(payloads [][]byte) ([]*analysis.AnalysisRequest, error) {
	result := make([]*analysis.AnalysisRequest, 0, len(payloads))
	for _, data := range payloads {
		request, err := decodeRequest(data)
		if err != nil {
			return nil, err
		}
		result = append(result, request)
	}
	return result, nil
}
