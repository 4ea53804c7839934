package memory

import (
	"context"
	"sync"
	"time"

	pkgerrors "acecore/pkg/errors"
)

// AlertStore keeps alert-system registrations and their pending alert queues
// in process memory.
type AlertStore struct {
	mu      sync.RWMutex
	systems map[string]*fifo
}

// NewAlertStore builds an empty store.
func NewAlertStore() *AlertStore {
	return &AlertStore{systems: map[string]*fifo{}}
}

func (s *AlertStore) RegisterAlertSystem(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.systems[name]; ok {
		return false, nil
	}
	s.systems[name] = newFIFO()
	return true, nil
}

func (s *AlertStore) UnregisterAlertSystem(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.systems[name]; !ok {
		return false, nil
	}
	delete(s.systems, name)
	return true, nil
}

func (s *AlertStore) SubmitAlert(ctx context.Context, rootUUID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.systems) == 0 {
		return false, nil
	}
	for _, queue := range s.systems {
		queue.put([]byte(rootUUID))
	}
	return true, nil
}

func (s *AlertStore) GetAlerts(ctx context.Context, name string, timeout *time.Duration) ([]string, error) {
	queue := s.system(name)
	if queue == nil {
		return nil, pkgerrors.NewUnknownAlertSystem(name)
	}

	// without a timeout, drain whatever is pending
	if timeout == nil {
		var result []string
		for {
			data, ok := queue.pop()
			if !ok {
				return result, nil
			}
			result = append(result, string(data))
		}
	}

	// with a timeout, block for a single alert
	deadline := time.Now().Add(*timeout)
	for {
		if data, ok := queue.pop(); ok {
			return []string{string(data)}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		case <-queue.signal:
			timer.Stop()
		}
	}
}

func (s *AlertStore) GetAlertCount(ctx context.Context, name string) (int, error) {
	queue := s.system(name)
	if queue == nil {
		return 0, pkgerrors.NewUnknownAlertSystem(name)
	}
	return queue.size(), nil
}

func (s *AlertStore) system(name string) *fifo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systems[name]
}
