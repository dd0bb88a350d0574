// Package classify assigns a category to each incoming comment, using cheap
// phrase rules first and the language model only when they do not match.
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

const (
	classifyTimeout = 10 * time.Second

	spamConfidence     = 0.9
	leadConfidence     = 0.8
	fallbackConfidence = 0.5

	ReasonSpamKeywords = "spam_keywords"
	ReasonLeadKeywords = "lead_keywords"
	ReasonFallback     = "fallback"
)

// Rules are the phrase lists checked before any model call.
type Rules struct {
	Spam []string `yaml:"spam" json:"spam"`
	Lead []string `yaml:"lead" json:"lead"`
}

// DefaultRules returns the built-in phrase lists.
func DefaultRules() Rules {
	return Rules{
		Spam: []string{"click here", "follow me", "check my profile", "dm me", "www.", "http"},
		Lead: []string{"interested", "how much", "price", "buy", "want", "need"},
	}
}

// Merge returns r with empty lists replaced by the defaults.
func (r Rules) Merge() Rules {
	def := DefaultRules()
	if len(r.Spam) == 0 {
		r.Spam = def.Spam
	}
	if len(r.Lead) == 0 {
		r.Lead = def.Lead
	}
	return r
}

// modelClassification is the structured output requested from the model.
type modelClassification struct {
	Category   string  `json:"category" jsonschema:"enum=lead,enum=praise,enum=question,enum=complaint,enum=spam,enum=general"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

var classificationSchema = engine.GenerateSchema[modelClassification]("comment_classification")

// Classifier produces exactly one Classification per comment.
type Classifier struct {
	engine  engine.Engine
	rules   Rules
	timeout time.Duration
	logger  *slog.Logger
}

// NewClassifier creates a Classifier. Empty rule lists use the defaults.
func NewClassifier(eng engine.Engine, rules Rules) *Classifier {
	return &Classifier{
		engine:  eng,
		rules:   rules.Merge(),
		timeout: classifyTimeout,
		logger:  slog.Default(),
	}
}

// Classify never returns an error: model failures of any kind fall back to
// general with confidence 0.5 and the cause recorded on the result.
func (c *Classifier) Classify(ctx context.Context, text string, platform domain.Platform) domain.Classification {
	lower := strings.ToLower(text)

	if containsAny(lower, c.rules.Spam) {
		return domain.Classification{Category: domain.Spam, Confidence: spamConfidence, Reasoning: ReasonSpamKeywords, RuleBased: true}
	}
	if containsAny(lower, c.rules.Lead) {
		return domain.Classification{Category: domain.Lead, Confidence: leadConfidence, Reasoning: ReasonLeadKeywords, RuleBased: true}
	}

	result, err := c.classifyWithModel(ctx, text, platform)
	if err != nil {
		c.logger.Warn("model classification failed, using fallback", "platform", platform, "error", err)
		return domain.Classification{
			Category:   domain.General,
			Confidence: fallbackConfidence,
			Reasoning:  ReasonFallback,
			Error:      err.Error(),
		}
	}
	return result
}

func (c *Classifier) classifyWithModel(ctx context.Context, text string, platform domain.Platform) (domain.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	system, user := BuildPrompt(text, platform)
	raw, err := c.engine.Complete(ctx, engine.Request{
		System:      system,
		Prompt:      user,
		Temperature: 0.6,
		MaxTokens:   150,
		Schema:      classificationSchema,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("engine: %w", err)
	}

	var out modelClassification
	if err := engine.DecodeJSON(raw, &out); err != nil {
		return domain.Classification{}, err
	}
	category, err := domain.ParseCategory(out.Category)
	if err != nil {
		return domain.Classification{}, err
	}

	return domain.Classification{
		Category:   category,
		Confidence: clamp01(out.Confidence),
		Reasoning:  out.Reasoning,
	}, nil
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
