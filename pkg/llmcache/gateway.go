package llmcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/llm"
)

// ComputeResult is what a compute callback hands back to the gateway. The
// value is cached only when Cacheable is true.
type ComputeResult struct {
	Value     string
	Cacheable bool
}

// ComputeFunc produces the value on a cache miss. Invoked at most once per
// (key, generation) thanks to single-flight.
type ComputeFunc func(ctx context.Context) (ComputeResult, error)

// Stats is a point-in-time snapshot of gateway counters.
type Stats struct {
	HitsL1    uint64 `json:"hits_l1"`
	HitsL2    uint64 `json:"hits_l2"`
	Misses    uint64 `json:"misses"`
	Coalesced uint64 `json:"coalesced"`
	Bypassed  uint64 `json:"bypassed"`
	L2Errors  uint64 `json:"l2_errors"`
	L1Entries int    `json:"l1_entries"`
	InFlight  int    `json:"in_flight"`
}

// Gateway wraps LLM calls with deterministic keying, an L1 LRU+TTL tier, an
// optional shared L2 tier, and single-flight coalescing. Safe for concurrent
// use by many pipeline tasks.
type Gateway struct {
	cfg     config.LLMCacheConfig
	l1      *l1Cache
	l2      L2Store // nil when L2 is disabled
	l2log   l2Logger
	flights *flightGroup

	supported map[string]bool

	hitsL1    atomic.Uint64
	hitsL2    atomic.Uint64
	misses    atomic.Uint64
	coalesced atomic.Uint64
	bypassed  atomic.Uint64
	l2errors  atomic.Uint64
}

// NewGateway builds a gateway from configuration. l2 may be nil.
func NewGateway(cfg config.LLMCacheConfig, l2 L2Store) (*Gateway, error) {
	l1, err := newL1Cache(cfg.L1MaxEntries, cfg.L1TTL)
	if err != nil {
		return nil, fmt.Errorf("init L1 cache: %w", err)
	}
	supported := make(map[string]bool, len(cfg.SupportedCallTypes))
	for _, t := range cfg.SupportedCallTypes {
		supported[t] = true
	}
	return &Gateway{
		cfg:       cfg,
		l1:        l1,
		l2:        l2,
		flights:   newFlightGroup(),
		supported: supported,
	}, nil
}

// Cached runs compute behind the cache for the given request shape.
//
// Read path: L1 → L2 (promoting hits) → single-flight compute. Write path:
// fresh cacheable results go to L1 with the TTL clamped to the L1 bound and
// to L2 with the full policy TTL. L2 failures degrade the call to L1-only.
func (g *Gateway) Cached(ctx context.Context, cacheType, model string, messages []llm.Message, options llm.Options, defaultTTL time.Duration, policy *Policy, compute ComputeFunc) (string, Diagnostics, error) {
	if bypass, status := g.bypassStatus(cacheType, policy); bypass {
		g.bypassed.Add(1)
		diag := Diagnostics{Status: status, Layer: "compute"}
		res, err := compute(ctx)
		recordKey(ctx, "")
		return res.Value, diag, err
	}

	namespace := g.cfg.Namespace
	if policy != nil && policy.Namespace != "" {
		namespace = policy.Namespace
	}
	key, err := deriveKey(g.cfg.GatewayVersion, g.cfg.PromptVersion, namespace, cacheType, model, messages, options)
	if err != nil {
		return "", Diagnostics{}, err
	}
	recordKey(ctx, key)

	noCache := policy != nil && policy.NoCache
	if !noCache {
		if value, diag, ok := g.lookup(ctx, key, policy); ok {
			return value, diag, nil
		}
	}

	ttl := defaultTTL
	if policy != nil && policy.TTL > 0 {
		ttl = policy.TTL
	}
	noStore := policy != nil && policy.NoStore

	value, _, waited, err := g.flights.do(ctx, key, func(fctx context.Context) (string, bool, error) {
		res, err := compute(fctx)
		if err != nil {
			return "", false, err
		}
		if res.Cacheable && !noStore {
			g.store(fctx, key, res.Value, ttl)
		}
		return res.Value, res.Cacheable, nil
	})
	if err != nil {
		return "", Diagnostics{Status: StatusMiss, Layer: "compute", Key: key, KeyPrefix: keyPrefix(key), Waited: waited}, err
	}

	status := StatusMiss
	if waited {
		status = StatusCoalesced
		g.coalesced.Add(1)
	} else {
		g.misses.Add(1)
	}
	return value, Diagnostics{
		Status:    status,
		Layer:     "compute",
		Key:       key,
		KeyPrefix: keyPrefix(key),
		TTL:       ttl,
		Waited:    waited,
	}, nil
}

// bypassStatus decides whether this call skips the cache entirely.
func (g *Gateway) bypassStatus(cacheType string, policy *Policy) (bool, Status) {
	if !g.cfg.Enabled || policy.disabled() {
		return true, StatusBypassDisabled
	}
	if g.cfg.Mode == config.CacheModeDefaultOff && (policy == nil || !policy.UseCache) {
		return true, StatusBypassDefaultOff
	}
	if len(g.supported) > 0 && !g.supported[cacheType] {
		return true, StatusBypassUnsupportedType
	}
	return false, ""
}

// lookup checks L1 then L2, applying the staleness threshold and promoting
// L2 hits into L1.
func (g *Gateway) lookup(ctx context.Context, key string, policy *Policy) (string, Diagnostics, bool) {
	if env, ok := g.l1.Get(key); ok {
		if fresh(env, policy) {
			g.hitsL1.Add(1)
			return env.Value, Diagnostics{Status: StatusHitL1, Layer: "l1", Key: key, KeyPrefix: keyPrefix(key)}, true
		}
		g.l1.Delete(key)
	}

	if g.l2 == nil {
		return "", Diagnostics{}, false
	}
	raw, err := g.l2.Get(ctx, key)
	if err != nil {
		if err != ErrL2Miss {
			g.l2errors.Add(1)
			g.l2log.warn("get", err)
		}
		return "", Diagnostics{}, false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("Discarding undecodable L2 envelope", "key_prefix", keyPrefix(key), "error", err)
		return "", Diagnostics{}, false
	}
	if !fresh(env, policy) {
		return "", Diagnostics{}, false
	}

	g.l1.Set(key, env, g.cfg.L1TTL)
	g.hitsL2.Add(1)
	return env.Value, Diagnostics{Status: StatusHitL2, Layer: "l2", Key: key, KeyPrefix: keyPrefix(key)}, true
}

// store writes the envelope to both tiers. L1 and L2 writes are independent;
// an L2 failure is logged (rate-limited) and otherwise ignored.
func (g *Gateway) store(ctx context.Context, key, value string, ttl time.Duration) {
	env := Envelope{CreatedAt: time.Now().Unix(), Value: value}
	g.l1.Set(key, env, ttl)

	if g.l2 == nil {
		return
	}
	raw, err := CanonicalJSON(env)
	if err != nil {
		slog.Warn("Failed to encode cache envelope", "key_prefix", keyPrefix(key), "error", err)
		return
	}
	if err := g.l2.Set(ctx, key, raw, ttl); err != nil {
		g.l2errors.Add(1)
		g.l2log.warn("set", err)
	}
}

// fresh applies the s_maxage staleness threshold to a stored envelope.
func fresh(env Envelope, policy *Policy) bool {
	if policy == nil || policy.SMaxAge <= 0 {
		return true
	}
	age := time.Since(time.Unix(env.CreatedAt, 0))
	return age <= policy.SMaxAge
}

// Delete removes key from both tiers.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	return g.DeleteMany(ctx, []string{key})
}

// DeleteMany removes keys from both tiers. L2 errors are returned so the
// admin endpoint can report partial failures.
func (g *Gateway) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		g.l1.Delete(k)
	}
	if g.l2 == nil {
		return nil
	}
	if err := g.l2.Delete(ctx, keys...); err != nil {
		g.l2errors.Add(1)
		return fmt.Errorf("l2 delete: %w", err)
	}
	return nil
}

// ClearL1 empties the in-process tier.
func (g *Gateway) ClearL1() { g.l1.Clear() }

// Ping probes L2 liveness with a set/get/delete round-trip and returns the
// observed latency.
func (g *Gateway) Ping(ctx context.Context) (time.Duration, error) {
	if g.l2 == nil {
		return 0, fmt.Errorf("l2 cache is not configured")
	}
	key := fmt.Sprintf("llm:ping:%d", time.Now().UnixNano())
	start := time.Now()
	if err := g.l2.Set(ctx, key, []byte("ping"), 10*time.Second); err != nil {
		return 0, fmt.Errorf("ping set: %w", err)
	}
	if _, err := g.l2.Get(ctx, key); err != nil {
		return 0, fmt.Errorf("ping get: %w", err)
	}
	if err := g.l2.Delete(ctx, key); err != nil {
		return 0, fmt.Errorf("ping delete: %w", err)
	}
	return time.Since(start), nil
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		HitsL1:    g.hitsL1.Load(),
		HitsL2:    g.hitsL2.Load(),
		Misses:    g.misses.Load(),
		Coalesced: g.coalesced.Load(),
		Bypassed:  g.bypassed.Load(),
		L2Errors:  g.l2errors.Load(),
		L1Entries: g.l1.Len(),
		InFlight:  g.flights.inFlight(),
	}
}
