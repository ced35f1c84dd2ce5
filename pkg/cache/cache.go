// Package cache is a small in-process TTL cache for query results.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	val     any
	expires time.Time
}

// Cache maps string keys to values that expire after a fixed TTL.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry
}

// New returns a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, m: make(map[string]entry)}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.m, key)
		return nil, false
	}
	return e.val, true
}

// Set stores val under key for the cache's TTL.
func (c *Cache) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry{val: val, expires: time.Now().Add(c.ttl)}
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
		}
	}
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]entry)
}

// Len reports the number of live entries, counting expired ones that
// have not been read yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
