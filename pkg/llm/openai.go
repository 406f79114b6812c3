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

type OpenAIProvider struct {
	client    *http.Client
	retry     clients.RetryConfig
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		client:    &http.Client{Timeout: 60 * time.Second},
		retry:     providerRetry("openai"),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if p.model == "" {
		return Response{}, errors.New("openai: model is required")
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	payload, err := json.Marshal(openAIRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	body, err := postJSON(ctx, p.client, p.retry, "openai", p.apiURL+"/chat/completions", headers, payload)
	if err != nil {
		return Response{}, err
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Response{}, ErrEmptyCompletion
	}
	return Response{Text: out.Choices[0].Message.Content, Model: out.Model}, nil
}

type openAIRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
