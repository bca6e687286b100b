package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/logsleuth/logsleuth/pkg/config"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint.
// The same implementation serves both the hosted API and local servers
// (Ollama, vLLM) via a base-URL override.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
}

// NewProvider builds the provider selected by the configuration.
func NewProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		// Local OpenAI-compatible servers ignore the API key but the
		// client requires a non-empty one.
		c := openai.DefaultConfig("local")
		c.BaseURL = cfg.LocalURL
		slog.Info("Using local LLM provider", "base_url", cfg.LocalURL, "model", cfg.LocalModel)
		return &OpenAIProvider{
			client:       openai.NewClientWithConfig(c),
			name:         "local",
			defaultModel: cfg.LocalModel,
		}, nil

	case config.ProviderRemote:
		if cfg.RemoteAPIKey == "" {
			return nil, fmt.Errorf("LLM_REMOTE_API_KEY is required for the remote provider")
		}
		slog.Info("Using remote LLM provider", "model", cfg.RemoteModel)
		return &OpenAIProvider{
			client:       openai.NewClient(cfg.RemoteAPIKey),
			name:         "remote",
			defaultModel: cfg.RemoteModel,
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// DefaultModel returns the configured model for this provider.
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	if model == "" {
		model = p.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
