package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/llm"
	"github.com/logsleuth/logsleuth/pkg/llmcache"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// fakeProvider replays scripted replies in call order.
type fakeProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
	prompts []string
	err     error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(_ context.Context, _ string, messages []llm.Message, _ llm.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	if p.calls >= len(p.replies) {
		return "", errors.New("fake provider: no more scripted replies")
	}
	reply := p.replies[p.calls]
	p.calls++
	return reply, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

func newTestDeps(t *testing.T, provider llm.Provider) Deps {
	t.Helper()
	gateway, err := llmcache.NewGateway(config.LLMCacheConfig{
		Enabled:            true,
		Mode:               config.CacheModeDefaultOn,
		Namespace:          "test",
		L1MaxEntries:       64,
		L1TTL:              time.Minute,
		SupportedCallTypes: []string{callTypeExtract, callTypePlan, callTypeAnalyze, callTypeVerify},
		GatewayVersion:     "t1",
		PromptVersion:      "t1",
	}, nil)
	require.NoError(t, err)

	return Deps{
		Store:    configstore.NewWithQuerier(nil, config.FeatureFlags{}),
		Gateway:  gateway,
		Provider: provider,
		Model:    "test-model",
	}
}

func TestParameterAgentExtract(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"time_frame":"2024-07-01","domain":"transactions","query_keys":["npsb","status"]}`,
	}}
	agent := NewParameterAgent(newTestDeps(t, provider))

	params, err := agent.Extract(context.Background(), "failed NPSB transactions on 2024-07-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", params.TimeFrame)
	assert.Equal(t, "transactions", params.Domain)
	assert.Equal(t, []string{"npsb", "status"}, params.QueryKeys)

	prompt := provider.lastPrompt()
	assert.Contains(t, prompt, "failed NPSB transactions")
	assert.Contains(t, prompt, "transaction_id")
	assert.NotContains(t, prompt, "{query}")
}

func TestParameterAgentSanitizesOutput(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"time_frame":"sometime last week","domain":"weather","query_keys":["npsb","password","made_up_key","npsb"]}`,
	}}
	agent := NewParameterAgent(newTestDeps(t, provider))

	params, err := agent.Extract(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, params.TimeFrame, "non-date time frame cleared")
	assert.Empty(t, params.Domain, "unknown domain cleared")
	assert.Equal(t, []string{"npsb"}, params.QueryKeys, "excluded, unknown and duplicate keys dropped")
}

func TestParseRetryWithNoCache(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		"I think the parameters are as follows.",
		"```json not quite",
		`{"time_frame":null,"domain":null,"query_keys":["npsb"]}`,
	}}
	agent := NewParameterAgent(newTestDeps(t, provider))

	params, err := agent.Extract(context.Background(), "npsb issues")
	require.NoError(t, err)
	assert.Equal(t, []string{"npsb"}, params.QueryKeys)
	assert.Equal(t, 3, provider.callCount(), "two no-cache retries reached the provider")
}

func TestParseFailureAfterRetries(t *testing.T) {
	provider := &fakeProvider{replies: []string{"nope", "still nope", "never json"}}
	agent := NewParameterAgent(newTestDeps(t, provider))

	_, err := agent.Extract(context.Background(), "npsb issues")
	require.ErrorIs(t, err, ErrParse)
	assert.Equal(t, 3, provider.callCount())
}

func TestMalformedRepliesAreNotCached(t *testing.T) {
	provider := &fakeProvider{replies: []string{"not json 1", "not json 2", "not json 3", "fresh"}}
	b := &base{deps: newTestDeps(t, provider)}

	var got struct {
		Value int `json:"value"`
	}
	err := b.completeJSON(context.Background(), callTypePlan, "plan the work", planTTL, &got)
	require.ErrorIs(t, err, ErrParse)
	require.Equal(t, 3, provider.callCount())

	// An identical call must miss the cache and reach the provider again;
	// none of the malformed replies may have been admitted.
	raw, _, err := b.complete(context.Background(), callTypePlan, "plan the work", planTTL, nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh", raw)
	assert.Equal(t, 4, provider.callCount())
}

func TestProviderErrorSurfaces(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	agent := NewParameterAgent(newTestDeps(t, provider))

	_, err := agent.Extract(context.Background(), "npsb issues")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrParse)
}

func TestPlanningAgent(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"steps":[{"name":"search","description":"scan prod logs"}],"blocking_questions":[]}`,
	}}
	agent := NewPlanningAgent(newTestDeps(t, provider))

	plan, err := agent.Plan(context.Background(),
		models.Parameters{QueryKeys: []string{"npsb"}},
		models.Project{Code: "FILE_A", LogSourceType: models.LogSourceFile},
		"prod")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "search", plan.Steps[0].Name)
	assert.False(t, plan.NeedsClarification())

	prompt := provider.lastPrompt()
	assert.Contains(t, prompt, "FILE_A")
	assert.Contains(t, prompt, `"query_keys":["npsb"]`)
}

func TestPlanningAgentBlockingQuestions(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"steps":[],"blocking_questions":["Which domain is affected?"]}`,
	}}
	agent := NewPlanningAgent(newTestDeps(t, provider))

	plan, err := agent.Plan(context.Background(), models.Parameters{}, models.Project{Code: "REMOTE_A"}, "prod")
	require.NoError(t, err)
	assert.True(t, plan.NeedsClarification())
}

func TestAnalyzeAgent(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"relevance_score":150,"confidence":"high","key_findings":["timeout on debit leg"],"recommendation":"include"}`,
		`{"quality_score":80}`,
	}}
	agent := NewAnalyzeAgent(newTestDeps(t, provider), 100)

	trace := models.CompiledTrace{
		TraceID: "abc123def456",
		Sources: []string{"a.log", "b.log"},
		Lines: []models.Line{
			{Raw: "start trace_id=abc123def456", Source: "a.log"},
			{Raw: "timeout trace_id=abc123def456", Source: "b.log"},
		},
	}
	artifact, err := agent.Analyze(context.Background(), "failed npsb", trace)
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", artifact.TraceID)
	assert.Equal(t, 100, artifact.Findings.RelevanceScore, "score clamped to 100")
	assert.Equal(t, models.RecommendationInclude, artifact.Findings.Recommendation)
	assert.Equal(t, 80, artifact.QualityScore)
}

func TestAnalyzeAgentSingleLineUsesEntryPrompt(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"relevance_score":60,"confidence":"medium","key_findings":[],"recommendation":"REVIEW"}`,
		"NPSB transfer 42 failed with status TIMEOUT at 10:00.",
		`{"quality_score":55}`,
	}}
	agent := NewAnalyzeAgent(newTestDeps(t, provider), 100)

	trace := models.CompiledTrace{
		TraceID: "abc123def456",
		Lines:   []models.Line{{Raw: "transfer 42 failed trace_id=abc123def456"}},
	}
	artifact, err := agent.Analyze(context.Background(), "failed npsb", trace)
	require.NoError(t, err)
	require.NotEmpty(t, artifact.Findings.KeyFindings)
	assert.Contains(t, artifact.Findings.KeyFindings[0], "NPSB transfer 42")
	assert.Equal(t, 3, provider.callCount())
}

func TestAnalyzeAgentTruncatesContext(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"relevance_score":10,"confidence":"low","key_findings":[],"recommendation":"EXCLUDE"}`,
		`{"quality_score":10}`,
	}}
	agent := NewAnalyzeAgent(newTestDeps(t, provider), 2)

	trace := models.CompiledTrace{
		TraceID: "abc123def456",
		Lines: []models.Line{
			{Raw: "one"}, {Raw: "two"}, {Raw: "three"}, {Raw: "four"},
		},
	}
	_, err := agent.Analyze(context.Background(), "q", trace)
	require.NoError(t, err)
	assert.Contains(t, provider.prompts[0], "2 more lines omitted")
	assert.NotContains(t, provider.prompts[0], "three")
}

func TestVerifyAgent(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"traces":[{"trace_id":"abc123def456","relevance_score":-5,"reasoning":"matches the incident","recommendation":"weird"}],"summary":"one relevant trace"}`,
	}}
	agent := NewVerifyAgent(newTestDeps(t, provider))

	artifacts := []models.AnalysisArtifact{{
		TraceID:      "abc123def456",
		Findings:     models.Findings{RelevanceScore: 80, Confidence: "high", Recommendation: models.RecommendationInclude},
		QualityScore: 70,
	}}
	result, err := agent.Verify(context.Background(), "failed npsb",
		models.Parameters{QueryKeys: []string{"npsb"}}, artifacts)
	require.NoError(t, err)
	require.Len(t, result.Traces, 1)
	assert.Equal(t, 0, result.Traces[0].RelevanceScore, "score clamped to 0")
	assert.Equal(t, models.RecommendationReview, result.Traces[0].Recommendation)

	prompt := provider.lastPrompt()
	assert.Contains(t, prompt, "health check", "context rules included")
	assert.Contains(t, prompt, "trace abc123def456")
}

func TestVerifyAgentNoArtifacts(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		`{"traces":[],"summary":"no candidate traces matched the query"}`,
	}}
	agent := NewVerifyAgent(newTestDeps(t, provider))

	result, err := agent.Verify(context.Background(), "failed npsb", models.Parameters{}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Traces)
	assert.Contains(t, result.Summary, "no candidate")
	assert.Contains(t, provider.lastPrompt(), "(no traces were compiled)")
}

func TestRenderPrompt(t *testing.T) {
	p := configstore.Prompt{
		Name:      "test",
		Template:  "query: {query}\nallowed: {keys}\nliteral JSON: {\"a\": 1}",
		Variables: []string{"query", "keys"},
	}

	out, err := renderPrompt(p, map[string]string{"query": "q", "keys": "a, b"})
	require.NoError(t, err)
	assert.Contains(t, out, "query: q")
	assert.Contains(t, out, `literal JSON: {"a": 1}`)

	_, err = renderPrompt(p, map[string]string{"query": "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing variable "keys"`)

	p.Template = "has {unknown} placeholder"
	_, err = renderPrompt(p, map[string]string{"query": "q", "keys": "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved placeholder")
}

func TestDecodeStrictJSON(t *testing.T) {
	var params models.Parameters
	err := decodeStrictJSON("Sure! ```json\n{\"query_keys\":[\"npsb\"]}\n```", &params)
	require.NoError(t, err)
	assert.Equal(t, []string{"npsb"}, params.QueryKeys)

	err = decodeStrictJSON(`{"query_keys":[],"hallucinated":true}`, &params)
	require.Error(t, err, "unknown fields rejected")

	err = decodeStrictJSON("no object here", &params)
	require.Error(t, err)
}
