package memory

import (
	"context"
	"encoding/json"
	"sync"

	"acecore/application/ports"
)

// ConfigStore keeps configuration settings in process memory.
type ConfigStore struct {
	mu       sync.RWMutex
	settings map[string][]byte
}

// NewConfigStore builds an empty store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{settings: map[string][]byte{}}
}

func (s *ConfigStore) GetConfig(ctx context.Context, key string) (*ports.ConfigSetting, error) {
	s.mu.RLock()
	data, ok := s.settings[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var setting ports.ConfigSetting
	if err := json.Unmarshal(data, &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

func (s *ConfigStore) SetConfig(ctx context.Context, setting *ports.ConfigSetting) error {
	data, err := json.Marshal(setting)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[setting.Name] = data
	return nil
}

func (s *ConfigStore) DeleteConfig(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settings[key]; !ok {
		return false, nil
	}
	delete(s.settings, key)
	return true, nil
}
