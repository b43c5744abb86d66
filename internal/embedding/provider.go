package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
)

// Provider turns text into a vector. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CorpusProvider is a provider that derives its weights from the evidence
// text of one run.
type CorpusProvider interface {
	Provider
	WithCorpus(texts []string) Provider
}

// FuncProvider adapts a chromem embedding function.
type FuncProvider struct {
	name  string
	model string
	fn    chromem.EmbeddingFunc
}

func NewFuncProvider(name, model string, fn chromem.EmbeddingFunc) *FuncProvider {
	return &FuncProvider{name: name, model: model, fn: fn}
}

func NewOpenAI(apiKey, model string) *FuncProvider {
	var m chromem.EmbeddingModelOpenAI
	switch model {
	case "text-embedding-ada-002":
		m = chromem.EmbeddingModelOpenAI2Ada
	case "text-embedding-3-large":
		m = chromem.EmbeddingModelOpenAI3Large
	default:
		m = chromem.EmbeddingModelOpenAI3Small
	}
	return NewFuncProvider("openai", string(m), chromem.NewEmbeddingFuncOpenAI(apiKey, m))
}

// NewOllama uses chromem's default endpoint when baseURL is empty.
func NewOllama(model, baseURL string) *FuncProvider {
	if model == "" {
		model = "nomic-embed-text"
	}
	return NewFuncProvider("ollama", model, chromem.NewEmbeddingFuncOllama(model, strings.TrimSpace(baseURL)))
}

func (p *FuncProvider) Name() string  { return p.name }
func (p *FuncProvider) Model() string { return p.model }

func (p *FuncProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := p.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", p.name, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%s embed: empty vector", p.name)
	}
	return v, nil
}

// New builds the provider named in config.
func New(provider, model, apiKey, ollamaURL string, dims int) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "local":
		return NewLocal(dims), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedding provider requires an api key")
		}
		return NewOpenAI(apiKey, model), nil
	case "ollama":
		return NewOllama(model, ollamaURL), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", provider)
}
