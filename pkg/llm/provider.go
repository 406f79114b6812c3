package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lance/pkg/clients"
)

// Provider turns a prompt into a single text completion.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

type Response struct {
	Text  string
	Model string
}

// ErrEmptyCompletion is returned when a provider answered without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Prompt is shorthand for a single user turn under a system instruction.
func Prompt(system, user string) Request {
	return Request{
		System:   system,
		Messages: []Message{{Role: "user", Content: user}},
	}
}

const breakerDelay = 30 * time.Second

// providerRetry gives each provider instance its own circuit breaker.
func providerRetry(name string) clients.RetryConfig {
	cfg := clients.DefaultRetryConfig()
	cfg.Breaker = clients.NewBreaker("llm_"+name, breakerDelay, nil)
	return cfg
}

// postJSON sends payload with the shared retry policy and returns the body of a 2xx reply.
func postJSON(ctx context.Context, client *http.Client, retry clients.RetryConfig, name, url string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := clients.DoWithRetry(ctx, client, req, retry)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s: unexpected status %s: %s", name, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
