// Package reply drafts brand-voice replies and decides whether each one
// needs a human before it is posted.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/engine"
	"github.com/kalambet/replyd/internal/policy"
	"github.com/kalambet/replyd/internal/triggers"
)

// FallbackText stands in for a reply the model failed to produce.
const FallbackText = "Thanks for your comment! I appreciate you being part of this community. 🙏"

const (
	generateTimeout  = 30 * time.Second
	maxTwitterLength = 280
)

var errEmptyReply = errors.New("model returned an empty reply")

// VoiceSource supplies the brand voice prompt block.
type VoiceSource interface {
	Summary() string
}

// Result is one generated reply and its disposition inputs.
type Result struct {
	Text          string
	Triggers      domain.TriggerRecord
	NeedsApproval bool
	Fallback      bool
	Err           error
}

// Generator drafts replies through the text-generation engine.
type Generator struct {
	engine   engine.Engine
	voice    VoiceSource
	detector *triggers.Detector
	policy   *policy.Policy
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGenerator creates a Generator. A nil detector or policy uses the
// package defaults.
func NewGenerator(eng engine.Engine, voice VoiceSource, detector *triggers.Detector, pol *policy.Policy) *Generator {
	if detector == nil {
		detector = triggers.NewDetector(nil)
	}
	if pol == nil {
		pol = policy.Default()
	}
	return &Generator{
		engine:   eng,
		voice:    voice,
		detector: detector,
		policy:   pol,
		timeout:  generateTimeout,
		logger:   slog.Default(),
	}
}

// Generate never returns an error. When the engine fails the result carries
// the fallback text, no triggers, and always needs approval.
func (g *Generator) Generate(ctx context.Context, text string, category domain.Category, platform domain.Platform, postContext string) Result {
	replyText, err := g.complete(ctx, text, category, platform, postContext)
	if err != nil {
		g.logger.Warn("reply generation failed, using fallback", "platform", platform, "category", category, "error", err)
		return Result{
			Text:          FallbackText,
			Triggers:      domain.NewTriggerRecord(nil, nil),
			NeedsApproval: true,
			Fallback:      true,
			Err:           err,
		}
	}

	trig := g.detector.Detect(text, replyText)
	return Result{
		Text:          replyText,
		Triggers:      trig,
		NeedsApproval: g.policy.NeedsApproval(category, trig),
	}
}

func (g *Generator) complete(ctx context.Context, text string, category domain.Category, platform domain.Platform, postContext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	voiceSummary := ""
	if g.voice != nil {
		voiceSummary = g.voice.Summary()
	}

	raw, err := g.engine.Complete(ctx, engine.Request{
		System:      buildSystemPrompt(voiceSummary, category, platform),
		Prompt:      buildUserPrompt(text, category, platform, postContext),
		Temperature: 0.6,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("engine: %w", err)
	}

	out := strings.Trim(strings.TrimSpace(raw), `"`)
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errEmptyReply
	}
	if platform == domain.Twitter {
		out = clipRunes(out, maxTwitterLength)
	}
	return out, nil
}

// clipRunes shortens s to at most n runes, preferring a word boundary.
func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	clipped := string([]rune(s)[:n])
	if i := strings.LastIndex(clipped, " "); i > n/2 {
		clipped = clipped[:i]
	}
	return strings.TrimSpace(clipped)
}
