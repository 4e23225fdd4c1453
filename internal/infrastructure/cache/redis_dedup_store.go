package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/backend/internal/domain/shared"
)

const defaultDedupKeyPrefix = "intake:dedup:"

// RedisDedupStore shares claimed keys across instances using SET NX with a TTL
type RedisDedupStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDedupStore creates a store on an existing Redis client.
// An empty prefix selects the default key prefix.
func NewRedisDedupStore(client *redis.Client, keyPrefix string) *RedisDedupStore {
	if keyPrefix == "" {
		keyPrefix = defaultDedupKeyPrefix
	}
	return &RedisDedupStore{client: client, keyPrefix: keyPrefix}
}

// Claim records key for ttl. It returns false when the key is already held.
func (s *RedisDedupStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, shared.Wrap(shared.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Release forgets key so it can be claimed again
func (s *RedisDedupStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return shared.Wrap(shared.ErrStoreUnavailable, err)
	}
	return nil
}
