package engine

import "context"

// Engine abstracts the language model backend (local Ollama, OpenAI or
// Gemini). Classification, reply drafting, sentiment and content generation
// all go through this interface instead of a concrete client.
type Engine interface {
	// Complete runs a single system+user exchange and returns the raw model
	// text. When req.Schema is set the backend is asked for JSON that
	// conforms to it; callers still validate the result.
	Complete(ctx context.Context, req Request) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// Name identifies the backend and model for logs and status output.
	Name() string
}

// ModelManager is implemented by backends that host models locally and can
// download them on demand.
type ModelManager interface {
	Model() string
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
