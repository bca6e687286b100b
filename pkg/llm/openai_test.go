package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/config"
)

func TestNewProviderSelection(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{
		Provider:   config.ProviderLocal,
		LocalURL:   "http://localhost:11434/v1",
		LocalModel: "llama3",
	})
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())
	assert.Equal(t, "llama3", p.DefaultModel())

	p, err = NewProvider(config.LLMConfig{
		Provider:     config.ProviderRemote,
		RemoteAPIKey: "sk-test",
		RemoteModel:  "gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, "remote", p.Name())

	_, err = NewProvider(config.LLMConfig{Provider: config.ProviderRemote})
	assert.Error(t, err)

	_, err = NewProvider(config.LLMConfig{Provider: "nope"})
	assert.Error(t, err)
}

func TestGenerateAgainstLocalServer(t *testing.T) {
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.LLMConfig{
		Provider:   config.ProviderLocal,
		LocalURL:   srv.URL + "/v1",
		LocalModel: "llama3",
	})
	require.NoError(t, err)

	maxTokens := 64
	out, err := p.Generate(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}}, Options{MaxTokens: &maxTokens})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	// Empty model falls back to the configured default.
	assert.Equal(t, "llama3", gotReq.Model)
	assert.Equal(t, 64, gotReq.MaxTokens)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "hi", gotReq.Messages[0].Content)
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.LLMConfig{
		Provider:   config.ProviderLocal,
		LocalURL:   srv.URL + "/v1",
		LocalModel: "llama3",
	})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "llama3", []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	assert.ErrorContains(t, err, "no choices")
}
