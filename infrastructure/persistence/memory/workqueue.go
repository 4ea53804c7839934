package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

// fifo is an unbounded multi-producer multi-consumer queue. The signal
// channel wakes one blocked consumer per put; consumers re-check under the
// lock, so a spurious wakeup costs one loop iteration.
type fifo struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newFIFO() *fifo {
	return &fifo{signal: make(chan struct{}, 1)}
}

func (q *fifo) put(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()
	q.wake()
}

func (q *fifo) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	data := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.wake()
	}
	return data, true
}

func (q *fifo) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifo) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// WorkQueueStore keeps per-module FIFO work queues in process memory.
type WorkQueueStore struct {
	mu     sync.RWMutex
	queues map[string]*fifo
}

// NewWorkQueueStore builds an empty store.
func NewWorkQueueStore() *WorkQueueStore {
	return &WorkQueueStore{queues: map[string]*fifo{}}
}

func (s *WorkQueueStore) AddQueue(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; ok {
		return false, nil
	}
	s.queues[name] = newFIFO()
	return true, nil
}

func (s *WorkQueueStore) DeleteQueue(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		return false, nil
	}
	delete(s.queues, name)
	return true, nil
}

func (s *WorkQueueStore) QueueExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.queues[name]
	return ok, nil
}

func (s *WorkQueueStore) Put(ctx context.Context, name string, request *analysis.AnalysisRequest) error {
	queue := s.queue(name)
	if queue == nil {
		return pkgerrors.NewInvalidWorkQueue(name)
	}
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	queue.put(data)
	return nil
}

func (s *WorkQueueStore) Get(ctx context.Context, name string, timeout time.Duration) (*analysis.AnalysisRequest, error) {
	queue := s.queue(name)
	if queue == nil {
		return nil, pkgerrors.NewInvalidWorkQueue(name)
	}

	deadline := time.Now().Add(timeout)
	for {
		if data, ok := queue.pop(); ok {
			return decodeRequest(data)
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

func (s *WorkQueueStore) Size(ctx context.Context, name string) (int, error) {
	queue := s.queue(name)
	if queue == nil {
		return 0, pkgerrors.NewInvalidWorkQueue(name)
	}
	return queue.size(), nil
}

func (s *WorkQueueStore) queue(name string) *fifo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues[name]
}
