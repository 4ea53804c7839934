package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "acecore/pkg/errors"
)

const (
	alertSetKey    = "ace:alert:systems"
	alertKeyPrefix = "ace:alert:queue:"
)

// AlertStore keeps alert-system registrations in a Redis set and the pending
// alerts of each system in its own list.
type AlertStore struct {
	client *redis.Client
}

// NewAlertStore wraps the client.
func NewAlertStore(client *redis.Client) *AlertStore {
	return &AlertStore{client: client}
}

func (s *AlertStore) RegisterAlertSystem(ctx context.Context, name string) (bool, error) {
	added, err := s.client.SAdd(ctx, alertSetKey, name).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *AlertStore) UnregisterAlertSystem(ctx context.Context, name string) (bool, error) {
	removed, err := s.client.SRem(ctx, alertSetKey, name).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	if err := s.client.Del(ctx, alertKeyPrefix+name).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *AlertStore) SubmitAlert(ctx context.Context, rootUUID string) (bool, error) {
	systems, err := s.client.SMembers(ctx, alertSetKey).Result()
	if err != nil {
		return false, err
	}
	if len(systems) == 0 {
		return false, nil
	}

	pipe := s.client.Pipeline()
	for _, name := range systems {
		pipe.LPush(ctx, alertKeyPrefix+name, rootUUID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *AlertStore) GetAlerts(ctx context.Context, name string, timeout *time.Duration) ([]string, error) {
	if err := s.requireSystem(ctx, name); err != nil {
		return nil, err
	}

	// without a timeout, drain whatever is pending
	if timeout == nil {
		var result []string
		for {
			val, err := s.client.RPop(ctx, alertKeyPrefix+name).Result()
			if err == redis.Nil {
				return result, nil
			}
			if err != nil {
				return nil, err
			}
			result = append(result, val)
		}
	}

	// with a timeout, block for a single alert
	vals, err := s.client.BRPop(ctx, *timeout, alertKeyPrefix+name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []string{vals[1]}, nil
}

func (s *AlertStore) GetAlertCount(ctx context.Context, name string) (int, error) {
	if err := s.requireSystem(ctx, name); err != nil {
		return 0, err
	}
	count, err := s.client.LLen(ctx, alertKeyPrefix+name).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *AlertStore) requireSystem(ctx context.Context, name string) error {
	registered, err := s.client.SIsMember(ctx, alertSetKey, name).Result()
	if err != nil {
		return err
	}
	if !registered {
		return pkgerrors.NewUnknownAlertSystem(name)
	}
	return nil
}
