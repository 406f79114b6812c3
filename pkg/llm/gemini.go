package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider uses the Google GenAI SDK against the Gemini API backend.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APIURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.APIURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model, maxTokens: cfg.MaxTokens}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	contents, system := geminiContents(req)
	genCfg := &genai.GenerateContentConfig{}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return Response{}, ErrEmptyCompletion
	}
	return Response{Text: text, Model: p.model}, nil
}

// geminiContents maps chat turns onto Gemini roles and folds system turns into one instruction.
func geminiContents(req Request) ([]*genai.Content, string) {
	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = strings.TrimSpace(system + "\n" + m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}
