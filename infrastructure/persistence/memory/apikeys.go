package memory

import (
	"context"
	"sync"

	"acecore/application/ports"
	pkgerrors "acecore/pkg/errors"
)

// APIKeyStore keeps API credentials in process memory.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ports.APIKey // key = credential name
}

// NewAPIKeyStore builds an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: map[string]ports.APIKey{}}
}

func (s *APIKeyStore) CreateAPIKey(ctx context.Context, key *ports.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.Name]; ok {
		return pkgerrors.NewDuplicateAPIKeyName(key.Name)
	}
	s.keys[key.Name] = *key
	return nil
}

func (s *APIKeyStore) DeleteAPIKey(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[name]; !ok {
		return false, nil
	}
	delete(s.keys, name)
	return true, nil
}

func (s *APIKeyStore) VerifyAPIKey(ctx context.Context, keyHash string, adminRequired bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.keys {
		if key.KeyHash != keyHash {
			continue
		}
		if adminRequired && !key.IsAdmin {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}
