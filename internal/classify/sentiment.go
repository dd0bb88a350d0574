package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/engine"
)

type modelSentiment struct {
	Sentiment  string   `json:"sentiment" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	Confidence float64  `json:"confidence"`
	Emotions   []string `json:"emotions"`
	Urgency    string   `json:"urgency" jsonschema:"enum=low,enum=medium,enum=high"`
}

var sentimentSchema = engine.GenerateSchema[modelSentiment]("comment_sentiment")

// SentimentAnalyzer estimates tone and urgency for CRM enrichment.
type SentimentAnalyzer struct {
	engine  engine.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewSentimentAnalyzer creates a SentimentAnalyzer.
func NewSentimentAnalyzer(eng engine.Engine) *SentimentAnalyzer {
	return &SentimentAnalyzer{engine: eng, timeout: classifyTimeout, logger: slog.Default()}
}

// Analyze returns a neutral result with the error recorded when the model
// call or its output is unusable.
func (a *SentimentAnalyzer) Analyze(ctx context.Context, text string) domain.Sentiment {
	s, err := a.analyze(ctx, text)
	if err != nil {
		a.logger.Warn("sentiment analysis failed, using neutral", "error", err)
		fallback := domain.NeutralSentiment()
		fallback.Error = err.Error()
		return fallback
	}
	return s
}

func (a *SentimentAnalyzer) analyze(ctx context.Context, text string) (domain.Sentiment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.engine.Complete(ctx, engine.Request{
		System:      sentimentSystemPrompt,
		Prompt:      fmt.Sprintf("Text: %q", text),
		Temperature: 0.6,
		MaxTokens:   150,
		Schema:      sentimentSchema,
	})
	if err != nil {
		return domain.Sentiment{}, fmt.Errorf("engine: %w", err)
	}

	var out modelSentiment
	if err := engine.DecodeJSON(raw, &out); err != nil {
		return domain.Sentiment{}, err
	}

	label := strings.ToLower(strings.TrimSpace(out.Sentiment))
	switch label {
	case "positive", "negative", "neutral":
	default:
		return domain.Sentiment{}, fmt.Errorf("unknown sentiment %q", out.Sentiment)
	}
	urgency := strings.ToLower(strings.TrimSpace(out.Urgency))
	if urgency != "medium" && urgency != "high" {
		urgency = "low"
	}
	emotions := out.Emotions
	if len(emotions) == 0 {
		emotions = []string{"unknown"}
	}

	return domain.Sentiment{
		Sentiment:  label,
		Confidence: clamp01(out.Confidence),
		Emotions:   emotions,
		Urgency:    urgency,
	}, nil
}
