package llm

import (
	"context"
	"fmt"
	"strings"

	"workstories/internal/httpx"
)

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Client sends one system+user prompt pair and returns the model's text.
type Client interface {
	Provider() string
	Model() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
}

const (
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

var externalHTTPClient = httpx.Client()

// New returns nil, nil for provider "none": Tier 3 is then disabled.
func New(provider, model, anthropicKey, openAIKey string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "none", "":
		return nil, nil
	case "anthropic":
		if anthropicKey == "" {
			return nil, fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
		if model == "" {
			model = DefaultAnthropicModel
		}
		return NewAnthropic(anthropicKey, model), nil
	case "openai":
		if openAIKey == "" {
			return nil, fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
		if model == "" {
			model = DefaultOpenAIModel
		}
		return NewOpenAI(openAIKey, model), nil
	}
	return nil, fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'none', got '%s'", provider)
}

// StripCodeFence removes a surrounding ```json fence from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
