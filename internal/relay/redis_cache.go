package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 5 * time.Second

// RedisConfig captures the settings for the shared preview cache.
type RedisConfig struct {
	Addr    string
	DB      int
	Timeout time.Duration
}

// ConnectRedis initialises a Redis client and validates connectivity with a ping.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// RedisCache keeps preview handles in Redis so several bot processes can share them.
// Key format: preview:<key>
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache wraps client with the given entry TTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached handle for key.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	handle, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("preview cache get: %w", err)
	}
	return handle, true, nil
}

// Set stores handle for the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key, handle string) error {
	if err := c.client.Set(ctx, c.key(key), handle, c.ttl).Err(); err != nil {
		return fmt.Errorf("preview cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) key(key string) string {
	return "preview:" + key
}
