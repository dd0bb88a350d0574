package engine

import (
	"context"
	"fmt"
)

// Provider names accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and parameterizes a backend.
type Config struct {
	Provider      string
	Model         string
	OllamaBaseURL string
	OpenAIAPIKey  string
	GeminiAPIKey  string
}

// New builds the Engine named by cfg.Provider. An empty provider means Ollama.
func New(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.Model), nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires openai.api_key")
		}
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.Model), nil
	case ProviderGemini:
		return NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.Model, "")
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
