package engine

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Schema      *Schema
}

// Schema is a named JSON schema requested for structured output.
type Schema struct {
	Name       string
	Definition map[string]any
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
