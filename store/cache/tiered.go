package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Tiered combines the in-memory L1 with an optional Redis L2. Reads check L1
// first, then L2, promoting L2 hits back into L1. Writes go to both tiers.
type Tiered struct {
	l1 *Cache
	l2 RedisCacheInterface
}

// NewTiered creates a tiered cache. Pass a NilRedisCache when Redis is not
// configured.
func NewTiered(l1 *Cache, l2 RedisCacheInterface) *Tiered {
	if l2 == nil {
		l2 = NewNilRedisCache()
	}
	return &Tiered{l1: l1, l2: l2}
}

// Get retrieves a typed value. dest must be a pointer; it is only written on an
// L2 hit, where the cached JSON is decoded into it. On an L1 hit the raw value
// is returned and dest is untouched.
func (t *Tiered) Get(ctx context.Context, key string, dest any) (any, bool) {
	if v, ok := t.l1.Get(ctx, key); ok {
		return v, true
	}
	data, ok := t.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		slog.Warn("failed to decode L2 cache value", "key", key, "error", err)
		t.l2.Delete(ctx, key)
		return nil, false
	}
	t.l1.Set(ctx, key, dest)
	return dest, true
}

// Set stores a value in both tiers with the default TTLs.
func (t *Tiered) Set(ctx context.Context, key string, value any) {
	t.l1.Set(ctx, key, value)
	t.l2.Set(ctx, key, value)
}

// SetWithTTL stores a value in both tiers with an explicit TTL.
func (t *Tiered) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	t.l1.SetWithTTL(ctx, key, value, ttl)
	t.l2.SetWithTTL(ctx, key, value, ttl)
}

// Delete removes a key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.l1.Delete(ctx, key)
	t.l2.Delete(ctx, key)
}

// Clear empties the L1 tier. L2 entries are left to expire by TTL.
func (t *Tiered) Clear(ctx context.Context) {
	t.l1.Clear(ctx)
}

// Close releases both tiers.
func (t *Tiered) Close() error {
	t.l1.Close()
	return t.l2.Close()
}
