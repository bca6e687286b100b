// Package llm defines the provider boundary for language model calls and the
// OpenAI-compatible client implementations behind it.
package llm

import "context"

// Role values for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are provider tunables for one call. Only recognised keys are
// forwarded; everything participates in cache keying.
type Options struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Provider is the opaque LLM boundary. Implementations must honour context
// cancellation within bounded time.
type Provider interface {
	// Name identifies the provider for logging and diagnostics.
	Name() string

	// Generate produces a completion for the given conversation.
	Generate(ctx context.Context, model string, messages []Message, opts Options) (string, error)
}
