package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/backend/internal/domain/notification"
	"github.com/storefront/backend/internal/domain/shared"
)

const defaultAckKeyPrefix = "notifications:ack:"

// RedisAckStore implements notification.AckStore using Redis.
// Instances behind a load balancer share one acknowledgment per session key.
type RedisAckStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisAckStore creates a store on an existing Redis client.
// An empty prefix selects the default key prefix.
func NewRedisAckStore(client *redis.Client, keyPrefix string) *RedisAckStore {
	if keyPrefix == "" {
		keyPrefix = defaultAckKeyPrefix
	}
	return &RedisAckStore{client: client, keyPrefix: keyPrefix}
}

// Load implements notification.AckStore
func (s *RedisAckStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, shared.Wrap(shared.ErrStoreUnavailable, err)
	}
	ack, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse acknowledgment %q: %w", raw, err)
	}
	return ack, true, nil
}

// Save implements notification.AckStore
func (s *RedisAckStore) Save(ctx context.Context, key string, ack time.Time) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, ack.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return shared.Wrap(shared.ErrStoreUnavailable, err)
	}
	return nil
}

var _ notification.AckStore = (*RedisAckStore)(nil)
