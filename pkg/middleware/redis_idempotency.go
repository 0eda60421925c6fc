package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultIdempotencyPrefix = "reslock:idempotency:"

// RedisIdempotencyStore keeps replayable responses in Redis so every replica sees them.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: DefaultIdempotencyPrefix,
		ttl:       ttl,
	}
}

func (s *RedisIdempotencyStore) buildKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	if s.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}

	data, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached response: %w", err)
	}

	var response CachedResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &response, true, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, response *CachedResponse) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	response.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal cached response: %w", err)
	}

	// First writer wins; a concurrent duplicate must not overwrite the original outcome.
	if err := s.client.SetNX(ctx, s.buildKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Stop() {}
