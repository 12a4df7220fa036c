package checkpoint

import (
	"context"
	"fmt"
	"time"

	"seller-gateway/internal/cache"
	"seller-gateway/internal/wizard"
)

const keyNamespace = "wizard:checkpoint"

var _ wizard.CheckpointStore = (*RedisStore)(nil)

// RedisStore keeps one JSON document per session. Every Set renews the TTL,
// so a session expires after ttl of inactivity.
type RedisStore struct {
	cache *cache.RedisClient
	ttl   time.Duration
}

func NewRedisStore(c *cache.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*wizard.Checkpoint, bool, error) {
	cp, found, err := cache.Get[wizard.Checkpoint](s.cache, ctx, cache.Key(keyNamespace, sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("redis checkpoint get: %w", err)
	}
	return cp, found, nil
}

func (s *RedisStore) Set(ctx context.Context, cp wizard.Checkpoint) error {
	if err := cache.Set(s.cache, ctx, cache.Key(keyNamespace, cp.SessionID), cp, s.ttl); err != nil {
		return fmt.Errorf("redis checkpoint set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := cache.Del(s.cache, ctx, cache.Key(keyNamespace, sessionID)); err != nil {
		return fmt.Errorf("redis checkpoint clear: %w", err)
	}
	return nil
}
