package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "ace:ratelimit:"

// RedisLimiter is a fixed window limiter sharing its budget through redis, so
// every node of a deployment counts against the same limit. The counter key
// is created by the first request of a window and expires with it.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a limiter allowing limit requests per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow counts the request against key and reports whether it fits the
// current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	counter := counterKeyPrefix + key
	count, err := l.client.Incr(ctx, counter).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count request for %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, counter, l.window).Err(); err != nil {
			return false, fmt.Errorf("failed to bound window for %s: %w", key, err)
		}
	}
	return count <= int64(l.limit), nil
}

// Reset clears the current window for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, counterKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset limit for %s: %w", key, err)
	}
	return nil
}
