package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = time.Hour

// RedisCache implements Cache and Publisher over Redis. It provides
// the TTL execution cache for fast status reads and the channel
// publisher used to fan lifecycle events out to external listeners
// (websocket relays, other services) via Redis pub/sub.
//
// Type parameter E is the execution record type (JSON-serializable).
type RedisCache[E any] struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisCache.
type RedisOption func(*redisConfig)

type redisConfig struct {
	ttl    time.Duration
	prefix string
}

// WithTTL sets the default time-to-live for cached executions.
// Default is one hour.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) { c.ttl = ttl }
}

// WithPrefix sets the Redis key prefix. Default is "flowengine".
func WithPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// NewRedisCache creates a Redis-backed cache and event publisher.
//
// Example:
//
//	cache := store.NewRedisCache[flow.Execution](
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    store.WithTTL(30*time.Minute),
//	)
func NewRedisCache[E any](client *redis.Client, opts ...RedisOption) *RedisCache[E] {
	cfg := redisConfig{ttl: defaultRedisTTL, prefix: "flowengine"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisCache[E]{client: client, ttl: cfg.ttl, prefix: cfg.prefix}
}

// CacheExecution stores the record under id with the given TTL. A
// non-positive TTL uses the configured default.
func (r *RedisCache[E]) CacheExecution(ctx context.Context, id string, e E, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	if err := r.client.Set(ctx, r.executionKey(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetCachedExecution returns the cached record, or ErrNotFound when
// absent or expired.
func (r *RedisCache[E]) GetCachedExecution(ctx context.Context, id string) (E, error) {
	var zero E

	data, err := r.client.Get(ctx, r.executionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("redis get failed: %w", err)
	}

	var record E
	if err := json.Unmarshal(data, &record); err != nil {
		return zero, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return record, nil
}

// PublishEvent delivers payload as JSON on the named Redis channel.
func (r *RedisCache[E]) PublishEvent(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+":"+channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *RedisCache[E]) executionKey(id string) string {
	return r.prefix + ":execution:" + id
}
