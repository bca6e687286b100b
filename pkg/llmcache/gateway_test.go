package llmcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/llm"
)

// fakeL2 is an in-memory L2Store. failing switches every call to an error to
// simulate an outage.
type fakeL2 struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
	sets    int
}

func newFakeL2() *fakeL2 { return &fakeL2{data: make(map[string][]byte)} }

func (f *fakeL2) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("connection refused")
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrL2Miss
	}
	return v, nil
}

func (f *fakeL2) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection refused")
	}
	f.data[key] = value
	f.sets++
	return nil
}

func (f *fakeL2) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection refused")
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeL2) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection refused")
	}
	return nil
}

func testCacheConfig() config.LLMCacheConfig {
	return config.LLMCacheConfig{
		Enabled:            true,
		Mode:               config.CacheModeDefaultOn,
		Namespace:          "test",
		L1MaxEntries:       64,
		L1TTL:              time.Minute,
		SupportedCallTypes: []string{"extract", "plan", "analyze", "verify"},
		GatewayVersion:     "1",
		PromptVersion:      "1",
	}
}

var testMessages = []llm.Message{{Role: "user", Content: "hello"}}

func computeOnce(value string, calls *atomic.Int32) ComputeFunc {
	return func(context.Context) (ComputeResult, error) {
		calls.Add(1)
		return ComputeResult{Value: value, Cacheable: true}, nil
	}
}

func TestCachedMissThenHitL1(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)

	var calls atomic.Int32
	v, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("result", &calls))
	require.NoError(t, err)
	assert.Equal(t, "result", v)
	assert.Equal(t, StatusMiss, diag.Status)

	v, diag, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, "result", v, "hit must return the value previously stored")
	assert.Equal(t, StatusHitL1, diag.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedHitL2PromotesToL1(t *testing.T) {
	l2 := newFakeL2()
	g, err := NewGateway(testCacheConfig(), l2)
	require.NoError(t, err)

	var calls atomic.Int32
	_, _, err = g.Cached(context.Background(), "plan", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("planned", &calls))
	require.NoError(t, err)

	// Drop L1 so the next read must come from L2.
	g.ClearL1()

	v, diag, err := g.Cached(context.Background(), "plan", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("x", &calls))
	require.NoError(t, err)
	assert.Equal(t, "planned", v)
	assert.Equal(t, StatusHitL2, diag.Status)
	assert.Equal(t, int32(1), calls.Load())

	// The L2 hit must have been promoted.
	v, diag, err = g.Cached(context.Background(), "plan", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("x", &calls))
	require.NoError(t, err)
	assert.Equal(t, "planned", v)
	assert.Equal(t, StatusHitL1, diag.Status)
}

func TestCachedKeyStableAcrossOptionOrder(t *testing.T) {
	temp := float32(0.1)
	a, err := deriveKey("1", "1", "ns", "extract", "m", testMessages, llm.Options{Temperature: &temp})
	require.NoError(t, err)
	b, err := deriveKey("1", "1", "ns", "extract", "m", testMessages, llm.Options{Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Version bumps produce new keys.
	c, err := deriveKey("2", "1", "ns", "extract", "m", testMessages, llm.Options{Temperature: &temp})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCachedBypasses(t *testing.T) {
	cfg := testCacheConfig()
	g, err := NewGateway(cfg, nil)
	require.NoError(t, err)
	var calls atomic.Int32

	// Unsupported call type.
	_, diag, err := g.Cached(context.Background(), "summarize", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusBypassUnsupportedType, diag.Status)

	// Per-request disable.
	off := false
	_, diag, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, &Policy{Enabled: &off}, computeOnce("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusBypassDisabled, diag.Status)

	// default_off mode requires opt-in.
	cfg.Mode = config.CacheModeDefaultOff
	g2, err := NewGateway(cfg, nil)
	require.NoError(t, err)
	_, diag, err = g2.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusBypassDefaultOff, diag.Status)

	_, diag, err = g2.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, &Policy{UseCache: true}, computeOnce("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, diag.Status)
}

func TestCachedNoCacheSkipsLookupButStores(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)
	var calls atomic.Int32

	_, _, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("first", &calls))
	require.NoError(t, err)

	// no_cache recomputes even though a value is cached ...
	v, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, &Policy{NoCache: true}, computeOnce("second", &calls))
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	assert.Equal(t, StatusMiss, diag.Status)
	assert.Equal(t, int32(2), calls.Load())

	// ... and the recomputed value replaced the stored one.
	v, _, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("third", &calls))
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestCachedNoStoreDoesNotWrite(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)
	var calls atomic.Int32

	_, _, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, &Policy{NoStore: true}, computeOnce("v1", &calls))
	require.NoError(t, err)

	_, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, diag.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedSMaxAgeRejectsStale(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)

	// Plant an envelope created two hours ago.
	key, err := deriveKey("1", "1", "test", "extract", "m", testMessages, llm.Options{})
	require.NoError(t, err)
	g.l1.Set(key, Envelope{CreatedAt: time.Now().Add(-2 * time.Hour).Unix(), Value: "stale"}, time.Minute)

	var calls atomic.Int32
	v, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, &Policy{SMaxAge: time.Hour}, computeOnce("fresh", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, StatusMiss, diag.Status)

	// Without the threshold the planted value would have been served.
	v, diag, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("x", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, StatusHitL1, diag.Status)
}

func TestCachedCoalescesConcurrentCalls(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (ComputeResult, error) {
		calls.Add(1)
		<-release
		return ComputeResult{Value: "shared", Cacheable: true}, nil
	}

	key, err := deriveKey("1", "1", "test", "analyze", "m", testMessages, llm.Options{})
	require.NoError(t, err)

	const n = 8
	results := make([]Diagnostics, n)
	values := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], results[i], errs[i] = g.Cached(context.Background(), "analyze", "m", testMessages, llm.Options{}, time.Minute, nil, compute)
		}(i)
	}

	// Let every caller pile onto the flight before releasing the leader.
	require.Eventually(t, func() bool { return g.flights.participants(key) == n }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "compute must run at most once")
	var coalesced int
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", values[i])
		if results[i].Status == StatusCoalesced {
			coalesced++
			assert.True(t, results[i].Waited)
		}
	}
	assert.Equal(t, n-1, coalesced, "all but the leader must coalesce")
}

func TestCachedL2OutageDegradesToL1(t *testing.T) {
	l2 := newFakeL2()
	l2.failing = true
	g, err := NewGateway(testCacheConfig(), l2)
	require.NoError(t, err)

	var calls atomic.Int32
	v, _, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("ok", &calls))
	require.NoError(t, err, "L2 outage must not surface to the caller")
	assert.Equal(t, "ok", v)

	// L1 was still populated.
	v, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("x", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, StatusHitL1, diag.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedUncacheableResultNotStored(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)
	var calls atomic.Int32

	compute := func(context.Context) (ComputeResult, error) {
		calls.Add(1)
		return ComputeResult{Value: "malformed", Cacheable: false}, nil
	}
	_, _, err = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, compute)
	require.NoError(t, err)

	_, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, compute)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, diag.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeleteAndClear(t *testing.T) {
	l2 := newFakeL2()
	g, err := NewGateway(testCacheConfig(), l2)
	require.NoError(t, err)

	var calls atomic.Int32
	_, diag, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	require.NoError(t, err)

	require.NoError(t, g.Delete(context.Background(), diag.Key))
	_, diag2, err := g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, diag2.Status)
}

func TestStatsCounters(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)
	var calls atomic.Int32

	_, _, _ = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	_, _, _ = g.Cached(context.Background(), "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	_, _, _ = g.Cached(context.Background(), "nope", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))

	s := g.Stats()
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.HitsL1)
	assert.Equal(t, uint64(1), s.Bypassed)
	assert.Equal(t, 1, s.L1Entries)
}

func TestRecordedKey(t *testing.T) {
	g, err := NewGateway(testCacheConfig(), nil)
	require.NoError(t, err)

	ctx := WithKeyRecorder(context.Background())
	var calls atomic.Int32
	_, diag, err := g.Cached(ctx, "extract", "m", testMessages, llm.Options{}, time.Minute, nil, computeOnce("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, diag.Key, RecordedKey(ctx))
	assert.Empty(t, RecordedKey(context.Background()))
}
