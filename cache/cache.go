// Package cache is a read-through cache on redis with explicit invalidation.
// Mutating sagas invalidate keys as their final step, after the authoritative
// writes have committed; a reader racing with that window can still repopulate
// stale data, bounded by the entry's TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/envhub/envhub/internal/config"
)

// Cache wraps the shared redis client.
type Cache struct {
	rdb *redis.Client
}

// New creates a cache on an existing redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// NewFromURL connects to redis and verifies the connection.
func NewFromURL(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Cache{rdb: client}, nil
}

// Close closes the underlying redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// TTLShort is the tier for volatile data (permission snapshots, listings).
func TTLShort() time.Duration {
	if d := config.App.CacheTTLShort(); d > 0 {
		return d
	}
	return 5 * time.Minute
}

// TTLLong is the tier for slow-changing data.
func TTLLong() time.Duration {
	if d := config.App.CacheTTLLong(); d > 0 {
		return d
	}
	return time.Hour
}

// GetOrLoad returns the cached value under key if present and unexpired;
// otherwise it invokes loader, stores the result with ttl, and returns it.
// Corrupt cached payloads are dropped and reloaded.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var zero T

	data, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		var value T
		if uerr := json.Unmarshal([]byte(data), &value); uerr == nil {
			return value, nil
		}
		c.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		return zero, fmt.Errorf("redis get failed: %w", err)
	}

	value, err := loader(ctx)
	if err != nil {
		return zero, err
	}

	if payload, merr := json.Marshal(value); merr == nil {
		c.rdb.Set(ctx, key, payload, ttl)
	}
	return value, nil
}

// Invalidate deletes the given keys. Call it only after the authoritative
// store writes the keys describe have committed.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
