package checkpoint

import (
	"context"
	"fmt"
	"time"

	"seller-gateway/internal/cache"
	"seller-gateway/internal/wizard"
)

const claimNamespace = "wizard:draft-claim"

var _ wizard.DraftClaims = (*RedisDraftClaims)(nil)

// RedisDraftClaims lets exactly one process create the draft of a session.
// A claim lives as long as a checkpoint, after which the session is gone too.
type RedisDraftClaims struct {
	cache *cache.RedisClient
	ttl   time.Duration
}

func NewRedisDraftClaims(c *cache.RedisClient, ttl time.Duration) *RedisDraftClaims {
	return &RedisDraftClaims{cache: c, ttl: ttl}
}

func (d *RedisDraftClaims) Claim(ctx context.Context, sessionID string) (bool, error) {
	ok, err := cache.SetNX(d.cache, ctx, cache.Key(claimNamespace, sessionID), time.Now().UTC(), d.ttl)
	if err != nil {
		return false, fmt.Errorf("redis draft claim: %w", err)
	}
	return ok, nil
}

func (d *RedisDraftClaims) Release(ctx context.Context, sessionID string) error {
	if err := cache.Del(d.cache, ctx, cache.Key(claimNamespace, sessionID)); err != nil {
		return fmt.Errorf("redis draft release: %w", err)
	}
	return nil
}
