package llm

import (
	"context"
	"strings"
)

// OllamaProvider talks to Ollama's OpenAI-compatible endpoint.
type OllamaProvider struct {
	openai *OpenAIProvider
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = "http://localhost:11434/v1"
	}
	return &OllamaProvider{openai: NewOpenAIProvider(cfg)}
}

func (p *OllamaProvider) Generate(ctx context.Context, req Request) (Response, error) {
	return p.openai.Generate(ctx, req)
}
