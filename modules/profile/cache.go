package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/redis/go-redis/v9"
)

// Cache stores profiles for the cache-aside read path.
type Cache interface {
	Get(ctx context.Context, id string) (*domain.UserProfile, bool, error)
	Set(ctx context.Context, p *domain.UserProfile) error
	Delete(ctx context.Context, id string) error
}

// CacheStats counts cache traffic.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Sets   uint64 `json:"sets"`
	Errors uint64 `json:"errors"`
}

// RedisCache keeps JSON encoded profiles under "<prefix><id>".
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
	errs   atomic.Uint64
}

// NewRedisCache creates a profile cache on client.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached profile and whether it was present.
func (c *RedisCache) Get(ctx context.Context, id string) (*domain.UserProfile, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, false, nil
		}
		c.errs.Add(1)
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}

	var p domain.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		c.errs.Add(1)
		return nil, false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	c.hits.Add(1)
	return &p, true, nil
}

// Set stores p with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, p *domain.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		c.errs.Add(1)
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+p.ID, data, c.ttl).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("cache set error: %w", err)
	}
	c.sets.Add(1)
	return nil
}

// Delete drops the cached profile of id.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.prefix+id).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats returns a snapshot of the counters.
func (c *RedisCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errs.Load(),
	}
}

// noCache is used when no Redis address is configured.
type noCache struct{}

func (noCache) Get(context.Context, string) (*domain.UserProfile, bool, error) { return nil, false, nil }
func (noCache) Set(context.Context, *domain.UserProfile) error                 { return nil }
func (noCache) Delete(context.Context, string) error                            { return nil }
