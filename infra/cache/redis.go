// Package cache provides shared distance-cache backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldops/fsd/core/geo"
)

// DefaultTTL keeps distance entries for a week; road distances between
// fixed points rarely change.
const DefaultTTL = 7 * 24 * time.Hour

// RedisCache is a geo.DistanceCache on Redis, shared across scheduler
// instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to Redis and verifies it responds.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", addr, err)
	}
	return &RedisCache{client: client, ttl: DefaultTTL, prefix: "fsd:dist:"}, nil
}

// SetTTL overrides the entry lifetime. Zero disables expiry.
func (c *RedisCache) SetTTL(ttl time.Duration) { c.ttl = ttl }

func (c *RedisCache) Get(ctx context.Context, key geo.PairKey) (geo.Distance, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return geo.Distance{}, false, nil
	}
	if err != nil {
		return geo.Distance{}, false, err
	}
	var d geo.Distance
	if err := json.Unmarshal(raw, &d); err != nil {
		return geo.Distance{}, false, err
	}
	return d, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key geo.PairKey, d geo.Distance) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+string(key), raw, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }
