// Package agents implements the LLM-facing steps of the pipeline. Each
// agent renders a configstore prompt, calls the model through the cache
// gateway and parses the reply as strict JSON against its schema.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/llm"
	"github.com/logsleuth/logsleuth/pkg/llmcache"
)

// ErrParse reports that the model never produced schema-valid JSON, even
// after the no-cache retries.
var ErrParse = errors.New("llm response is not valid JSON for the expected schema")

// maxParseRetries is how many additional attempts follow a parse failure.
// Retries carry no_cache so a poisoned cached reply cannot loop forever.
const maxParseRetries = 2

// Per-call-type cache TTLs. Extraction and planning results age quickly
// with the conversation; trace analyses are stable for a working day.
const (
	extractTTL = time.Hour
	planTTL    = time.Hour
	analyzeTTL = 6 * time.Hour
	verifyTTL  = 6 * time.Hour
)

// Cache call types, matching the gateway's supported-type allow-list.
const (
	callTypeExtract = "extract"
	callTypePlan    = "plan"
	callTypeAnalyze = "analyze"
	callTypeVerify  = "verify"
)

// Deps are the collaborators shared by all agents.
type Deps struct {
	Store    *configstore.Store
	Gateway  *llmcache.Gateway
	Provider llm.Provider
	Model    string
}

// base carries the shared LLM plumbing.
type base struct {
	deps Deps
}

// complete runs one model call through the cache gateway.
func (b *base) complete(ctx context.Context, callType, prompt string, ttl time.Duration, policy *llmcache.Policy) (string, llmcache.Diagnostics, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	compute := func(ctx context.Context) (llmcache.ComputeResult, error) {
		out, err := b.deps.Provider.Generate(ctx, b.deps.Model, messages, llm.Options{})
		if err != nil {
			return llmcache.ComputeResult{}, err
		}
		return llmcache.ComputeResult{Value: out, Cacheable: true}, nil
	}
	return b.deps.Gateway.Cached(ctx, callType, b.deps.Model, messages, llm.Options{}, ttl, policy, compute)
}

// completeJSON runs the call and decodes the reply into target. Replies
// are validated before cache admission: a reply that fails to decode is
// marked non-cacheable and retried with no_cache, so invalid output never
// poisons the cache and the next attempt reaches the model instead of the
// same bytes.
func (b *base) completeJSON(ctx context.Context, callType, prompt string, ttl time.Duration, target any) error {
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	var policy *llmcache.Policy
	var lastErr error
	for attempt := 0; attempt <= maxParseRetries; attempt++ {
		compute := func(ctx context.Context) (llmcache.ComputeResult, error) {
			out, err := b.deps.Provider.Generate(ctx, b.deps.Model, messages, llm.Options{})
			if err != nil {
				return llmcache.ComputeResult{}, err
			}
			cacheable := decodeStrictJSON(out, target) == nil
			return llmcache.ComputeResult{Value: out, Cacheable: cacheable}, nil
		}
		raw, _, err := b.deps.Gateway.Cached(ctx, callType, b.deps.Model, messages, llm.Options{}, ttl, policy, compute)
		if err != nil {
			return err
		}
		if lastErr = decodeStrictJSON(raw, target); lastErr == nil {
			return nil
		}
		policy = &llmcache.Policy{NoCache: true}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrParse, callType, maxParseRetries+1, lastErr)
}

// decodeStrictJSON extracts the JSON object from a model reply and decodes
// it, rejecting fields outside the schema. Models occasionally wrap the
// object in markdown fences or prose despite instructions.
func decodeStrictJSON(raw string, target any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in reply")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw[start : end+1])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	return nil
}

// clampScore forces a model-produced score into [0,100].
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
