// Package cache provides the tiered caching used by the store:
// an in-memory L1 with TTL eviction and an optional Redis L2.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Config holds the configuration for the in-memory cache.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
	OnEviction      func(key string, value any)
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache with LRU eviction once MaxItems
// is reached.
type Cache struct {
	mu      sync.Mutex
	config  Config
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	closeCh chan struct{}
	closed  bool
}

// New creates a new in-memory cache and starts its cleanup loop.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}
	c := &Cache{
		config:  config,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		closeCh: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	en := el.Value.(*entry)
	if time.Now().After(en.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return en.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry)
		en.value = value
		en.expiresAt = time.Now().Add(ttl)
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&entry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.items[key] = el

	for len(c.items) > c.config.MaxItems {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// Delete removes a key from the cache.
func (c *Cache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes all keys from the cache.
func (c *Cache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
}

// removeElement must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	en := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, en.key)
	if c.config.OnEviction != nil {
		c.config.OnEviction(en.key, en.value)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for _, el := range c.items {
				if now.After(el.Value.(*entry).expiresAt) {
					c.removeElement(el)
				}
			}
			c.mu.Unlock()
		}
	}
}
