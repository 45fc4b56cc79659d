package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultIdempotencyTTL = 24 * time.Hour
	// pendingMarker holds a key while the first request is still running.
	pendingMarker = "pending"
	pendingTTL    = 2 * time.Minute
)

// NewRedisClient parses redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// IdempotencyStore keeps request keys in Redis. A key is reserved with SETNX
// and later overwritten with the id of the order it produced.
type IdempotencyStore struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewIdempotencyStore(client redis.Cmdable, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{redis: client, ttl: ttl}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	ok, err := s.redis.SetNX(ctx, key, pendingMarker, pendingTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	val, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; claim it again
		return s.Reserve(ctx, key)
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	return s.redis.Set(ctx, key, orderID, s.ttl).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.redis.Del(ctx, key).Err()
}
