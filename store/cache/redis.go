package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheInterface abstracts the L2 cache so the tiered cache can run with
// or without a Redis deployment.
type RedisCacheInterface interface {
	Set(ctx context.Context, key string, value any)
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration)
	Get(ctx context.Context, key string) ([]byte, bool)
	Delete(ctx context.Context, key string)
	Close() error
}

// RedisCacheConfig holds the configuration for the Redis-backed L2 cache.
type RedisCacheConfig struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
	KeyPrefix  string
}

// DefaultRedisConfig returns the default Redis cache configuration.
func DefaultRedisConfig(addr string) *RedisCacheConfig {
	return &RedisCacheConfig{
		Addr:       addr,
		DefaultTTL: 30 * time.Minute,
		KeyPrefix:  "recall:cache:",
	}
}

// RedisCache is the Redis-backed L2 cache. Values are stored JSON-encoded.
type RedisCache struct {
	client *redis.Client
	config *RedisCacheConfig
}

// NewRedisCache creates a Redis cache and verifies connectivity.
func NewRedisCache(config *RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisCache{client: client, config: config}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value any) {
	r.SetWithTTL(ctx, key, value, r.config.DefaultTTL)
}

func (r *RedisCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("failed to marshal cache value", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.config.KeyPrefix+key, data, ttl).Err(); err != nil {
		slog.Warn("redis cache set failed", "key", key, "error", err)
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, r.config.KeyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (r *RedisCache) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.config.KeyPrefix+key).Err(); err != nil {
		slog.Warn("redis cache delete failed", "key", key, "error", err)
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// NilRedisCache is a no-op L2 used when Redis is not configured.
type NilRedisCache struct{}

// NewNilRedisCache creates a no-op Redis cache.
func NewNilRedisCache() *NilRedisCache {
	return &NilRedisCache{}
}

func (n *NilRedisCache) Set(ctx context.Context, key string, value any) {}

func (n *NilRedisCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {}

func (n *NilRedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return nil, false
}

func (n *NilRedisCache) Delete(ctx context.Context, key string) {}

func (n *NilRedisCache) Close() error {
	return nil
}
