package llmcache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/llm"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":null,"z":true}}`, string(out))
}

func TestCanonicalJSONCompactSeparators(t *testing.T) {
	out, err := CanonicalJSON([]any{"x", 1, 2.5, true, nil})
	require.NoError(t, err)
	assert.Equal(t, `["x",1,2.5,true,null]`, string(out))
}

func TestCanonicalJSONStructs(t *testing.T) {
	msgs := []llm.Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}}
	out, err := CanonicalJSON(msgs)
	require.NoError(t, err)
	assert.Equal(t, `[{"content":"s","role":"system"},{"content":"u","role":"user"}]`, string(out))
}

func TestCanonicalJSONIterationOrderIndependent(t *testing.T) {
	// Maps built in different insertion orders must encode identically.
	a := map[string]any{}
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		a[k] = k
	}
	b := map[string]any{}
	for _, k := range []string{"k5", "k3", "k1", "k4", "k2"} {
		b[k] = k
	}
	ea, err := CanonicalJSON(a)
	require.NoError(t, err)
	eb, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}

func TestCanonicalJSONRoundTripEnvelope(t *testing.T) {
	env := Envelope{CreatedAt: 1720000000, Value: `{"relevance_score":90}`}
	raw, err := CanonicalJSON(env)
	require.NoError(t, err)
	assert.Equal(t, `{"created_at":1720000000,"value":"{\"relevance_score\":90}"}`, string(raw))

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, env, decoded)
}
