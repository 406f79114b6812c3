package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lance/pkg/clients"
)

const defaultAnthropicMaxTokens = 1024

type AnthropicProvider struct {
	client    *http.Client
	retry     clients.RetryConfig
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.anthropic.com"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:    &http.Client{Timeout: 60 * time.Second},
		retry:     providerRetry("anthropic"),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if p.model == "" {
		return Response{}, errors.New("anthropic: model is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	body := anthropicRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		System:    req.System,
	}
	for _, m := range req.Messages {
		// the messages API carries system text out of band
		if m.Role == "system" {
			body.System = strings.TrimSpace(body.System + "\n" + m.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	headers := map[string]string{"Anthropic-Version": "2023-06-01"}
	if p.apiKey != "" {
		headers["X-API-Key"] = p.apiKey
	}
	raw, err := postJSON(ctx, p.client, p.retry, "anthropic", p.apiURL+"/v1/messages", headers, payload)
	if err != nil {
		return Response{}, err
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, ErrEmptyCompletion
	}
	return Response{Text: text.String(), Model: out.Model}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
}
