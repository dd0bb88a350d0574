package engine

import (
	"context"

	"github.com/kalambet/replyd/internal/ollama"
)

// OllamaEngine runs completions against a local Ollama server. It also
// implements ModelManager so startup can pull a missing model.
type OllamaEngine struct {
	client *ollama.Client
	model  string
}

// NewOllamaEngine targets the server at baseURL with the given model tag.
func NewOllamaEngine(baseURL, model string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL), model: model}
}

func (e *OllamaEngine) Complete(ctx context.Context, req Request) (string, error) {
	var msgs []ollama.Message
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.Prompt})

	cr := ollama.ChatRequest{
		Model:    e.model,
		Messages: msgs,
		Options:  &ollama.Options{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	if req.Schema != nil {
		cr.Format = req.Schema.Definition
	}
	return e.client.Chat(ctx, cr)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) Name() string {
	return "ollama/" + e.model
}

func (e *OllamaEngine) Model() string {
	return e.model
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
