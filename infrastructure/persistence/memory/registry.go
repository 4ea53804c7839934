package memory

import (
	"context"
	"encoding/json"
	"sync"

	"acecore/domain/analysis"
)

// ModuleRegistry keeps module type records in process memory. Records are
// stored serialized so callers never share mutable state with the store.
type ModuleRegistry struct {
	mu    sync.RWMutex
	types map[string][]byte
}

// NewModuleRegistry builds an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{types: map[string][]byte{}}
}

func (r *ModuleRegistry) Register(ctx context.Context, amt *analysis.ModuleType) error {
	data, err := json.Marshal(amt)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[amt.Name] = data
	return nil
}

func (r *ModuleRegistry) Get(ctx context.Context, name string) (*analysis.ModuleType, error) {
	r.mu.RLock()
	data, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var amt analysis.ModuleType
	if err := json.Unmarshal(data, &amt); err != nil {
		return nil, err
	}
	return &amt, nil
}

func (r *ModuleRegistry) Delete(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; !ok {
		return false, nil
	}
	delete(r.types, name)
	return true, nil
}

func (r *ModuleRegistry) List(ctx context.Context) ([]*analysis.ModuleType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*analysis.ModuleType, 0, len(r.types))
	for _, data := range r.types {
		var amt analysis.ModuleType
		if err := json.Unmarshal(data, &amt); err != nil {
			return nil, err
		}
		result = append(result, &amt)
	}
	return result, nil
}
