// Package redis backs the coordination stores with Redis so multiple server
// processes can share one deployment. Queues and alert feeds are Redis lists,
// events travel over pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

const (
	queueSetKey    = "ace:work:queues"
	queueKeyPrefix = "ace:work:queue:"
)

// WorkQueueStore keeps per-module FIFO work queues in Redis lists. LPUSH plus
// BRPOP gives FIFO order and lets blocked consumers on any process wake up.
type WorkQueueStore struct {
	client *redis.Client
}

// NewWorkQueueStore wraps the client.
func NewWorkQueueStore(client *redis.Client) *WorkQueueStore {
	return &WorkQueueStore{client: client}
}

func (s *WorkQueueStore) AddQueue(ctx context.Context, name string) (bool, error) {
	added, err := s.client.SAdd(ctx, queueSetKey, name).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *WorkQueueStore) DeleteQueue(ctx context.Context, name string) (bool, error) {
	removed, err := s.client.SRem(ctx, queueSetKey, name).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	if err := s.client.Del(ctx, queueKeyPrefix+name).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *WorkQueueStore) QueueExists(ctx context.Context, name string) (bool, error) {
	return s.client.SIsMember(ctx, queueSetKey, name).Result()
}

func (s *WorkQueueStore) Put(ctx context.Context, name string, request *analysis.AnalysisRequest) error {
	if err := s.requireQueue(ctx, name); err != nil {
		return err
	}
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, queueKeyPrefix+name, data).Err()
}

func (s *WorkQueueStore) Get(ctx context.Context, name string, timeout time.Duration) (*analysis.AnalysisRequest, error) {
	if err := s.requireQueue(ctx, name); err != nil {
		return nil, err
	}

	var payload string
	if timeout <= 0 {
		val, err := s.client.RPop(ctx, queueKeyPrefix+name).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		payload = val
	} else {
		vals, err := s.client.BRPop(ctx, timeout, queueKeyPrefix+name).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		payload = vals[1]
	}

	var ar analysis.AnalysisRequest
	if err := json.Unmarshal([]byte(payload), &ar); err != nil {
		return nil, err
	}
	return &ar, nil
}

func (s *WorkQueueStore) Size(ctx context.Context, name string) (int, error) {
	if err := s.requireQueue(ctx, name); err != nil {
		return 0, err
	}
	depth, err := s.client.LLen(ctx, queueKeyPrefix+name).Result()
	if err != nil {
		return 0, err
	}
	return int(depth), nil
}

func (s *WorkQueueStore) requireQueue(ctx context.Context, name string) error {
	exists, err := s.QueueExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return pkgerrors.NewInvalidWorkQueue(name)
	}
	return nil
}
