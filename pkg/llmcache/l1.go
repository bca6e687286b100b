package llmcache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// l1Entry is an envelope plus its absolute expiry.
type l1Entry struct {
	env       Envelope
	expiresAt time.Time
}

// l1Cache is the in-process tier: a size-bounded LRU whose entries also
// carry a per-entry TTL. The underlying lru.Cache is safe for concurrent
// use; expiry is checked lazily on Get.
type l1Cache struct {
	cache  *lru.Cache[string, l1Entry]
	maxTTL time.Duration
}

func newL1Cache(maxEntries int, maxTTL time.Duration) (*l1Cache, error) {
	c, err := lru.New[string, l1Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &l1Cache{cache: c, maxTTL: maxTTL}, nil
}

// Get returns the envelope for key if present and unexpired.
func (c *l1Cache) Get(key string) (Envelope, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return Envelope{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return Envelope{}, false
	}
	return entry.env, true
}

// Set stores env under key. The effective TTL is clamped to the L1 bound so
// a long L2 TTL never pins stale data in-process.
func (c *l1Cache) Set(key string, env Envelope, ttl time.Duration) {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.cache.Add(key, l1Entry{env: env, expiresAt: time.Now().Add(ttl)})
}

// Delete removes key.
func (c *l1Cache) Delete(key string) { c.cache.Remove(key) }

// Clear empties the cache.
func (c *l1Cache) Clear() { c.cache.Purge() }

// Len returns the number of live entries (expired entries may be counted
// until their next Get).
func (c *l1Cache) Len() int { return c.cache.Len() }
