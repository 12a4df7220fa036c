package idempotency

import (
	"context"
	"fmt"
	"time"

	"seller-gateway/internal/cache"
)

const (
	// lockTTL bounds how long a crashed request can block its key. It covers
	// a full submit including the marketplace round trip.
	lockTTL = 30 * time.Second
	// dataTTL is how long a finished save-draft or submit can be replayed.
	dataTTL = 24 * time.Hour
)

// Store keeps idempotency locks and recorded responses in Redis.
type Store struct {
	cache *cache.RedisClient
}

func NewStore(c *cache.RedisClient) *Store {
	return &Store{cache: c}
}

func lockKey(key string) string { return key + ":lock" }
func dataKey(key string) string { return key + ":data" }

// SaveResponse records resp and releases the lock in one step.
func (s *Store) SaveResponse(ctx context.Context, key string, resp IdempotencyResponse) error {
	if err := cache.Replace(s.cache, ctx, dataKey(key), resp, dataTTL, lockKey(key)); err != nil {
		return fmt.Errorf("save idempotent response: %w", err)
	}
	return nil
}

func (s *Store) GetResponse(ctx context.Context, key string) (*IdempotencyResponse, bool, error) {
	return cache.Get[IdempotencyResponse](s.cache, ctx, dataKey(key))
}

// Lock claims key for the calling request. It fails when a response is
// already recorded, so the caller replays it instead of running again.
func (s *Store) Lock(ctx context.Context, key string) (bool, error) {
	_, found, err := s.GetResponse(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	return cache.SetNX(s.cache, ctx, lockKey(key), "1", lockTTL)
}

// Release drops the lock without recording anything, so the request can be
// retried with the same key.
func (s *Store) Release(ctx context.Context, key string) error {
	return cache.Del(s.cache, ctx, lockKey(key))
}
