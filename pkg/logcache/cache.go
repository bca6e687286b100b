// Package logcache caches responses of expensive log-backend queries. It
// mirrors the LLM gateway's two-tier layout (in-process LRU+TTL plus an
// optional shared Redis tier) with two TTL classes: queries scoped to a
// single trace ID cache longer than general searches. Identical concurrent
// backend queries are rare and cheap to duplicate, so there is no
// single-flight here.
package logcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/llmcache"
)

// l1MaxEntries bounds the in-process tier. Log query responses are large;
// keep this small relative to the LLM cache.
const l1MaxEntries = 256

// Class is the TTL class of a query.
type Class string

const (
	ClassGeneral Class = "general"
	ClassTrace   Class = "trace"
)

// envelope is the stored value: unix-seconds creation time plus the raw
// response bytes.
type envelope struct {
	CreatedAt int64           `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

type l1Entry struct {
	env       envelope
	expiresAt time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	L2Errors  uint64 `json:"l2_errors"`
	L1Entries int    `json:"l1_entries"`
}

// Cache caches log-backend query responses.
type Cache struct {
	cfg config.LogCacheConfig
	l1  *lru.Cache[string, l1Entry]
	l2  llmcache.L2Store // nil when no shared tier is configured

	hits     atomic.Uint64
	misses   atomic.Uint64
	l2errors atomic.Uint64

	lastL2Log atomic.Int64
}

// New builds a log search cache. l2 may be nil.
func New(cfg config.LogCacheConfig, l2 llmcache.L2Store) (*Cache, error) {
	l1, err := lru.New[string, l1Entry](l1MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("init log cache L1: %w", err)
	}
	return &Cache{cfg: cfg, l1: l1, l2: l2}, nil
}

// FetchFunc produces the response on a cache miss.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Query returns the cached response for (namespace, params), fetching and
// storing it on a miss. The TTL class is derived from params: a non-empty
// trace_id field marks a trace-scoped query.
func (c *Cache) Query(ctx context.Context, namespace string, params any, fetch FetchFunc) (json.RawMessage, bool, error) {
	if !c.cfg.Enabled {
		v, err := fetch(ctx)
		return v, false, err
	}

	key, class, err := c.key(namespace, params)
	if err != nil {
		return nil, false, err
	}

	if env, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return env.Value, true, nil
	}
	c.misses.Add(1)

	value, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	c.store(ctx, key, value, c.ttlFor(class))
	return value, false, nil
}

// key derives "logs:<class>:<sha256 hex>" over the canonical-JSON pair of
// namespace and params, and classifies the query.
func (c *Cache) key(namespace string, params any) (string, Class, error) {
	canonical, err := llmcache.CanonicalJSON([]any{namespace, params})
	if err != nil {
		return "", "", fmt.Errorf("log cache key: %w", err)
	}

	class := ClassGeneral
	var m map[string]any
	if raw, err := json.Marshal(params); err == nil && json.Unmarshal(raw, &m) == nil {
		if id, ok := m["trace_id"].(string); ok && id != "" {
			class = ClassTrace
		}
	}

	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("logs:%s:%s", class, hex.EncodeToString(sum[:])), class, nil
}

func (c *Cache) ttlFor(class Class) time.Duration {
	if class == ClassTrace {
		return c.cfg.TraceTTL
	}
	return c.cfg.GeneralTTL
}

func (c *Cache) lookup(ctx context.Context, key string) (envelope, bool) {
	if entry, ok := c.l1.Get(key); ok {
		if time.Now().Before(entry.expiresAt) {
			return entry.env, true
		}
		c.l1.Remove(key)
	}

	if c.l2 == nil {
		return envelope{}, false
	}
	raw, err := c.l2.Get(ctx, key)
	if err != nil {
		if err != llmcache.ErrL2Miss {
			c.l2errors.Add(1)
			c.warnL2("get", err)
		}
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, false
	}
	c.l1.Add(key, l1Entry{env: env, expiresAt: time.Now().Add(c.cfg.GeneralTTL)})
	return env, true
}

func (c *Cache) store(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) {
	env := envelope{CreatedAt: time.Now().Unix(), Value: value}
	c.l1.Add(key, l1Entry{env: env, expiresAt: time.Now().Add(ttl)})

	if c.l2 == nil {
		return
	}
	raw, err := llmcache.CanonicalJSON(env)
	if err != nil {
		slog.Warn("Failed to encode log cache envelope", "error", err)
		return
	}
	if err := c.l2.Set(ctx, key, raw, ttl); err != nil {
		c.l2errors.Add(1)
		c.warnL2("set", err)
	}
}

// warnL2 rate-limits L2 failure logging to once per minute.
func (c *Cache) warnL2(op string, err error) {
	now := time.Now().UnixNano()
	last := c.lastL2Log.Load()
	if now-last < int64(time.Minute) {
		return
	}
	if c.lastL2Log.CompareAndSwap(last, now) {
		slog.Warn("Log cache L2 unavailable, degrading to L1-only", "op", op, "error", err)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		L2Errors:  c.l2errors.Load(),
		L1Entries: c.l1.Len(),
	}
}
