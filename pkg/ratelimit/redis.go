package ratelimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisPrefix = "ratelimit:login:"

// RedisLimiter is a fixed-window limiter shared across instances.
type RedisLimiter struct {
	client *redis.Client
	config Config
}

// NewRedisLimiter creates a redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config Config) *RedisLimiter {
	if config.Attempts <= 0 || config.Window <= 0 {
		config = DefaultConfig()
	}
	return &RedisLimiter{client: client, config: config}
}

// Allow counts one attempt. The INCR and EXPIRE run in one pipeline, so the
// window starts with the first attempt. On backend failure it reports the
// attempt as allowed along with the error.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := redisPrefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit backend failed: %w", err)
	}

	return incr.Val() <= int64(l.config.Attempts), nil
}

// Reset clears the window for a key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, redisPrefix+key).Err()
}
