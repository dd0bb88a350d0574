package engine

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiEngine talks to the Gemini API.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

// NewGeminiEngine creates a Gemini-backed engine. A non-empty baseURL
// overrides the default endpoint.
func NewGeminiEngine(ctx context.Context, apiKey, model, baseURL string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client, model: model}, nil
}

func (e *GeminiEngine) Complete(ctx context.Context, req Request) (string, error) {
	result, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(req.Prompt), generateConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", e.model, err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil ||
		len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini %s: empty response", e.model)
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

func generateConfig(req Request) *genai.GenerateContentConfig {
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.Schema.Definition
	}
	return cfg
}

func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.Models.Get(ctx, e.model, nil)
	return err == nil
}

func (e *GeminiEngine) Name() string {
	return "gemini/" + e.model
}
