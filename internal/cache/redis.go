package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the shared Redis connection. Values go through the generic
// JSON helpers below.
type RedisClient struct {
	rdb *redis.Client
}

type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

func (cfg Config) options() *redis.Options {
	// defaults if not set
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 50 // Every wizard request reads a checkpoint
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = 5
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		// Maximum number of socket connections.
		// If "pool timeout" shows up in the logs, raise REDIS_POOL_SIZE.
		PoolSize: cfg.PoolSize,

		// Kept warm for the burst of checkpoint writes when a seller
		// uploads a batch of photos.
		MinIdleConns: cfg.MinIdleConns,

		// Amount of time to wait for a connection if all are busy.
		// A slow Redis should fail the request, not hang it.
		PoolTimeout: 4 * time.Second,

		// Close connections that have been idle for this long.
		// Prevents stale connections from accumulating.
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// NewRedisClient connects and pings so a bad address fails at startup.
func NewRedisClient(cfg Config) (*RedisClient, error) {
	rdb := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisClient{rdb: rdb}, nil
}

// Wrap adopts an already configured client, e.g. one pointed at miniredis.
func Wrap(rdb *redis.Client) *RedisClient {
	return &RedisClient{rdb: rdb}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// Key joins a namespace and its parts with ':'.
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}

// Set stores value as JSON. A zero ttl keeps the key forever.
func Set[T any](c *RedisClient, ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// Get loads a JSON value. found is false when the key does not exist.
func Get[T any](c *RedisClient, ctx context.Context, key string) (value *T, found bool, err error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

// SetNX stores value only if key is absent and reports whether it did.
func SetNX(c *RedisClient, ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, data, ttl).Result()
}

// Replace stores value under key and deletes the release keys in a single
// MULTI/EXEC, so readers never see both or neither.
func Replace[T any](c *RedisClient, ctx context.Context, key string, value T, ttl time.Duration, release ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		if len(release) > 0 {
			pipe.Del(ctx, release...)
		}
		return nil
	})
	return err
}

func Del(c *RedisClient, ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}
