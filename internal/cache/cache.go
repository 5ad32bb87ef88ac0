// Package cache is a keyed in-memory query cache. Values are stored by
// string key; concurrent loads of the same key are collapsed into a
// single upstream call.
package cache

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache holds query results keyed by string. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	group   singleflight.Group
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]any)}
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[key]

	return v, ok
}

// Set stores a value under key, replacing any existing entry.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value
}

// Invalidate drops the entry for key. A subsequent Fetch reloads it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Keys returns all keys with the given prefix.
func (c *Cache) Keys(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string

	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	return keys
}

// Fetch returns the cached value for key, loading it with loader on a
// miss. Concurrent fetches of the same key share one loader call.
func (c *Cache) Fetch(ctx context.Context, key string, loader func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have stored the
		// value between our miss and the flight starting.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		c.Set(key, v)

		return v, nil
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]any)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
