package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIEngine talks to the OpenAI Responses API.
type OpenAIEngine struct {
	client *openai.Client
	model  string

	rateLimitWaits   []time.Duration
	serverErrorWaits []time.Duration
}

// NewOpenAIEngine builds an engine for model. Extra request options (base URL,
// HTTP client) are passed through to the SDK.
func NewOpenAIEngine(apiKey, model string, opts ...option.RequestOption) *OpenAIEngine {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIEngine{
		client:           &client,
		model:            model,
		rateLimitWaits:   []time.Duration{20 * time.Second, 40 * time.Second},
		serverErrorWaits: []time.Duration{2 * time.Second, 10 * time.Second},
	}
}

func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (string, error) {
	params := responses.ResponseNewParams{
		Model: e.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Prompt, responses.EasyInputMessageRoleUser),
			},
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Definition,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := e.callWithRetry(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", e.model, err)
	}
	return resp.OutputText(), nil
}

// callWithRetry retries rate-limited and server-side failures with fixed
// waits; every other error is returned immediately.
func (e *OpenAIEngine) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	attempt := 0
	for {
		resp, err := e.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}

		var waits []time.Duration
		switch {
		case isRateLimitError(err):
			waits = e.rateLimitWaits
		case isServerError(err):
			waits = e.serverErrorWaits
		default:
			return nil, err
		}
		if attempt >= len(waits) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waits[attempt]):
		}
		attempt++
	}
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.Models.Get(ctx, e.model)
	return err == nil
}

func (e *OpenAIEngine) Name() string {
	return "openai/" + e.model
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
