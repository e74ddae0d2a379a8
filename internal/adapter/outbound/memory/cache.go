// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/port/outbound"
)

// cacheEntry is one stored value with its expiry.
type cacheEntry struct {
	value     string
	counter   int64
	isCounter bool
	expiresAt time.Time // zero means no expiry
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache implements outbound.CacheStore in process memory. Thread-safe.
// For development and testing; production deployments use the Redis store.
// Includes background cleanup to prevent unbounded growth.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewCache creates an in-memory cache with a 1 minute cleanup interval.
func NewCache() *Cache {
	return NewCacheWithInterval(time.Minute)
}

// NewCacheWithInterval creates an in-memory cache with a custom cleanup
// interval. A non-positive interval disables background cleanup.
func NewCacheWithInterval(cleanupInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

// Get returns the value for key; expired entries are treated as misses.
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		delete(c.entries, key)
		return "", false, nil
	}
	if e.isCounter {
		return strconv.FormatInt(e.counter, 10), true, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Increment atomically adds amount to the counter at key. The TTL applies
// only when the increment creates the counter.
func (c *Cache) Increment(_ context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || e.expired(now) {
		e = cacheEntry{isCounter: true}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	e.counter += amount
	c.entries[key] = e
	return e.counter, nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// DeletePattern removes all keys matching a glob-style pattern.
func (c *Cache) DeletePattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// SetNow overrides the clock. Used in tests.
func (c *Cache) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Compile-time interface verification.
var _ outbound.CacheStore = (*Cache)(nil)
