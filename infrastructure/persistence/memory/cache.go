package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"acecore/domain/analysis"
)

type cacheEntry struct {
	amtName   string
	expiresAt time.Time
	data      []byte
}

// ResultCache keeps cached analysis results in process memory with lazy
// expiry on read.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewResultCache builds an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{entries: map[string]cacheEntry{}}
}

func (c *ResultCache) Put(ctx context.Context, cacheKey string, request *analysis.AnalysisRequest, ttl int) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	var amtName string
	if request.Type != nil {
		amtName = request.Type.Name
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey] = cacheEntry{
		amtName:   amtName,
		expiresAt: time.Now().Add(time.Duration(ttl) * time.Second),
		data:      data,
	}
	return nil
}

func (c *ResultCache) Get(ctx context.Context, cacheKey string) (*analysis.AnalysisRequest, error) {
	c.mu.Lock()
	entry, ok := c.entries[cacheKey]
	if ok && time.Now().After(entry.expiresAt) {
		delete(c.entries, cacheKey)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeRequest(entry.data)
}

func (c *ResultCache) DeleteExpired(ctx context.Context) (int, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			count++
		}
	}
	return count, nil
}

func (c *ResultCache) DeleteForModuleType(ctx context.Context, amtName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.amtName == amtName {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *ResultCache) Size(ctx context.Context, amtName string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amtName == "" {
		return len(c.entries), nil
	}
	count := 0
	for _, entry := range c.entries {
		if entry.amtName == amtName {
			count++
		}
	}
	return count, nil
}
