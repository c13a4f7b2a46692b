// Package cache is an optional short-TTL Redis cache for projected read-model
// payloads. The collector runs fully without it; a nil *RedisCache is safe to
// call and always misses.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/soaska/botpulse/internal/metrics"
)

const (
	keyPrefix = "botpulse:view:"

	// DefaultTTL keeps projections fresh enough for dashboard polling while
	// absorbing bursts.
	DefaultTTL = 5 * time.Second
)

// RedisCache caches serialized read-model views.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// GetView loads a cached view into dest, reporting whether it was present.
func (r *RedisCache) GetView(ctx context.Context, name string, dest interface{}) bool {
	if r == nil {
		return false
	}
	data, err := r.client.Get(ctx, keyPrefix+name).Bytes()
	if err != nil {
		metrics.CacheMisses.Inc()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		metrics.CacheMisses.Inc()
		return false
	}
	metrics.CacheHits.Inc()
	return true
}

// PutView stores a view under its name with the configured TTL. Failures are
// ignored; the cache is best effort.
func (r *RedisCache) PutView(ctx context.Context, name string, view interface{}) {
	if r == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, keyPrefix+name, data, r.ttl).Err()
}

// Invalidate drops all cached views, used after maintenance sweeps.
func (r *RedisCache) Invalidate(ctx context.Context, names ...string) {
	if r == nil {
		return
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = keyPrefix + name
	}
	_ = r.client.Del(ctx, keys...).Err()
}

// Ping checks the Redis connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}
