package extai

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// CacheKey derives the cache key for a request. Identical provider, model and
// prompt yield the same key; mission, purpose and justification do not affect
// identity.
func CacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Provider))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	response  Response
	expiresAt time.Time
}

// Cache stores provider responses keyed by request identity with a TTL.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[string]cacheEntry
}

// NewCache creates a cache. A zero ttl disables caching entirely.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock()
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached response for key if present and unexpired.
func (c *Cache) Get(key string) (Response, bool) {
	if c.ttl == 0 {
		return Response{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return Response{}, false
	}
	return entry.response, true
}

// Put stores a response under key.
func (c *Cache) Put(key string, resp Response) {
	if c.ttl == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		response:  resp,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
