package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "broker:session:"

// RedisSessionStore keeps broker sessions in redis with server-side TTLs.
// SetNX gives the atomic check-and-set Create requires.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a store over an existing redis client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Create stores a new session, failing if one already exists for key.
func (s *RedisSessionStore) Create(ctx context.Context, key string, sess Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKeyPrefix+key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

// Get returns the session for key, or ErrSessionNotFound once the TTL has
// expired it.
func (s *RedisSessionStore) Get(ctx context.Context, key string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		// Corrupt entry; drop it rather than serve garbage.
		s.client.Del(ctx, sessionKeyPrefix+key)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Update replaces a live session, keeping its remaining TTL.
func (s *RedisSessionStore) Update(ctx context.Context, key string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, sessionKeyPrefix+key, data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setxx failed: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
