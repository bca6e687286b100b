package logcache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/config"
)

func testConfig() config.LogCacheConfig {
	return config.LogCacheConfig{
		Enabled:    true,
		GeneralTTL: 4 * time.Hour,
		TraceTTL:   6 * time.Hour,
	}
}

func TestQueryCachesResponse(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	calls := 0
	fetch := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"lines":3}`), nil
	}

	params := map[string]any{"keyword": "npsb", "date": "2024-07-01"}
	v, cached, err := c.Query(context.Background(), "prod", params, fetch)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"lines":3}`, string(v))

	v, cached, err = c.Query(context.Background(), "prod", params, fetch)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.JSONEq(t, `{"lines":3}`, string(v))
	assert.Equal(t, 1, calls)

	// Different namespace is a different key.
	_, cached, err = c.Query(context.Background(), "staging", params, fetch)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, calls)
}

func TestKeyClassification(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	key, class, err := c.key("ns", map[string]any{"trace_id": "abcd1234efgh"})
	require.NoError(t, err)
	assert.Equal(t, ClassTrace, class)
	assert.True(t, strings.HasPrefix(key, "logs:trace:"))

	key, class, err = c.key("ns", map[string]any{"trace_id": ""})
	require.NoError(t, err)
	assert.Equal(t, ClassGeneral, class)
	assert.True(t, strings.HasPrefix(key, "logs:general:"))

	_, class, err = c.key("ns", map[string]any{"keyword": "x"})
	require.NoError(t, err)
	assert.Equal(t, ClassGeneral, class)
}

func TestTTLClasses(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, c.ttlFor(ClassTrace))
	assert.Equal(t, 4*time.Hour, c.ttlFor(ClassGeneral))
}

func TestDisabledCachePassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c, err := New(cfg, nil)
	require.NoError(t, err)

	calls := 0
	fetch := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`1`), nil
	}
	_, cached, err := c.Query(context.Background(), "ns", map[string]any{"a": 1}, fetch)
	require.NoError(t, err)
	assert.False(t, cached)
	_, _, _ = c.Query(context.Background(), "ns", map[string]any{"a": 1}, fetch)
	assert.Equal(t, 2, calls)
}
