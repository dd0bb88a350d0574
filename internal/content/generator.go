// Package content drafts long-form posts (captions, devotionals, video
// descriptions, hashtag sets) in the brand voice and keeps them for review.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/engine"
	"github.com/kalambet/replyd/internal/storage"
)

const (
	generateTimeout = 60 * time.Second
	temperature     = 0.8
	defaultTopic    = "personal growth and faith"
	maxCount        = 10

	captionsPerTopic  = 3
	maxBulkTopics     = 20
	defaultSeriesDays = 7
	maxSeriesDays     = 31
	maxCategories     = 20
)

var (
	// ErrUnknownType is returned for a content type without a template.
	ErrUnknownType = errors.New("unknown content type")
	// ErrInvalidBatch is returned when a batch request names nothing to
	// generate or more than a batch allows.
	ErrInvalidBatch = errors.New("invalid batch request")
)

type template struct {
	prompt    string
	maxTokens int
}

var templates = map[string]template{
	"social_caption": {
		prompt:    "Create an engaging social media caption about %s. Include relevant hashtags and a call-to-action.",
		maxTokens: 300,
	},
	"devotional": {
		prompt:    "Write a short daily devotional about %s. Include a Bible verse, reflection, and practical application.",
		maxTokens: 500,
	},
	"video_description": {
		prompt:    "Write a YouTube video description for content about %s. Include timestamps if relevant and engagement hooks.",
		maxTokens: 400,
	},
	"hashtag_set": {
		prompt:    "Generate 20 relevant hashtags for %s content, mixing popular and niche tags.",
		maxTokens: 200,
	},
}

// Types returns the supported content types in a stable order.
func Types() []string {
	return []string{"devotional", "hashtag_set", "social_caption", "video_description"}
}

// DraftStore persists generated drafts. Implemented by storage.Store.
type DraftStore interface {
	SaveDraft(d storage.Draft) (storage.Draft, error)
}

// VoiceSource supplies the brand voice prompt block.
type VoiceSource interface {
	Summary() string
}

// Generator produces drafts through the text-generation engine.
type Generator struct {
	engine  engine.Engine
	voice   VoiceSource
	store   DraftStore
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(eng engine.Engine, voice VoiceSource, store DraftStore) *Generator {
	return &Generator{
		engine:  eng,
		voice:   voice,
		store:   store,
		timeout: generateTimeout,
		logger:  slog.Default(),
	}
}

// Request describes one generation call.
type Request struct {
	Type   string `json:"type"`
	Topic  string `json:"topic,omitempty"`
	Series string `json:"series,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Generate produces req.Count drafts (at least one, at most ten) and stores
// each one. Unlike replies this is operator-initiated, so engine errors are
// returned instead of replaced by fallback text. Drafts saved before a
// failure are returned alongside the error.
func (g *Generator) Generate(ctx context.Context, req Request) ([]storage.Draft, error) {
	return g.generate(ctx, req, maxCount, false)
}

// generate runs up to limit completions for req. With numbered set, every
// draft is told which day of the series it is and carries its day number.
func (g *Generator) generate(ctx context.Context, req Request, limit int, numbered bool) ([]storage.Draft, error) {
	tmpl, ok := templates[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > limit {
		count = limit
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = defaultTopic
	}

	system := buildSystemPrompt(req.Type, g.voice.Summary())
	prompt := fmt.Sprintf(tmpl.prompt, topic)
	if req.Series != "" {
		prompt += fmt.Sprintf(" Write it as part of the %q series.", req.Series)
	}

	drafts := make([]storage.Draft, 0, count)
	for i := 0; i < count; i++ {
		draft := storage.Draft{
			Type:   req.Type,
			Topic:  req.Topic,
			Series: req.Series,
			Status: "draft",
		}
		p := prompt
		if numbered {
			draft.DayNumber = i + 1
			draft.SeriesTitle = fmt.Sprintf("%s - Day %d", topic, i+1)
			p += fmt.Sprintf(" This is day %d of %d.", i+1, count)
		}

		text, err := g.complete(ctx, system, p, tmpl.maxTokens)
		if err != nil {
			return drafts, fmt.Errorf("generating %s %d/%d: %w", req.Type, i+1, count, err)
		}
		draft.Content = text
		d, err := g.store.SaveDraft(draft)
		if err != nil {
			return drafts, fmt.Errorf("saving draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	g.logger.Info("content generated", "type", req.Type, "count", len(drafts), "engine", g.engine.Name())
	return drafts, nil
}

// BulkCaptionsRequest asks for captions across several topics.
type BulkCaptionsRequest struct {
	Topics []string `json:"topics"`
	Series string   `json:"series,omitempty"`
}

// BulkCaptions generates three social captions for every topic, in topic
// order. Blank topics are skipped. On failure the captions produced so far
// are returned with the error.
func (g *Generator) BulkCaptions(ctx context.Context, req BulkCaptionsRequest) ([]storage.Draft, error) {
	topics := nonBlank(req.Topics, false)
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: at least one topic is required", ErrInvalidBatch)
	}
	if len(topics) > maxBulkTopics {
		return nil, fmt.Errorf("%w: %d topics, at most %d", ErrInvalidBatch, len(topics), maxBulkTopics)
	}

	var all []storage.Draft
	for _, topic := range topics {
		drafts, err := g.generate(ctx, Request{
			Type:   "social_caption",
			Topic:  topic,
			Series: req.Series,
			Count:  captionsPerTopic,
		}, captionsPerTopic, false)
		all = append(all, drafts...)
		if err != nil {
			return all, fmt.Errorf("topic %q: %w", topic, err)
		}
	}
	return all, nil
}

// SeriesRequest asks for a numbered devotional series on one theme.
type SeriesRequest struct {
	Theme string `json:"theme"`
	Days  int    `json:"days,omitempty"`
}

// DevotionalSeries generates one devotional per day of a series, seven by
// default. Each draft carries its day number and a "<theme> - Day <n>"
// title, and all of them share the "<theme> Weekly Series" series name.
func (g *Generator) DevotionalSeries(ctx context.Context, req SeriesRequest) ([]storage.Draft, error) {
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		return nil, fmt.Errorf("%w: theme is required", ErrInvalidBatch)
	}
	days := req.Days
	if days <= 0 {
		days = defaultSeriesDays
	}
	return g.generate(ctx, Request{
		Type:   "devotional",
		Topic:  theme,
		Series: theme + " Weekly Series",
		Count:  days,
	}, maxSeriesDays, true)
}

// LibraryRequest asks for one hashtag set per content category.
type LibraryRequest struct {
	Categories []string `json:"categories"`
}

// HashtagLibrary generates a hashtag set for each distinct category and
// returns them keyed by category. Sets generated before a failure are
// returned with the error.
func (g *Generator) HashtagLibrary(ctx context.Context, req LibraryRequest) (map[string]storage.Draft, error) {
	categories := nonBlank(req.Categories, true)
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: at least one category is required", ErrInvalidBatch)
	}
	if len(categories) > maxCategories {
		return nil, fmt.Errorf("%w: %d categories, at most %d", ErrInvalidBatch, len(categories), maxCategories)
	}

	library := make(map[string]storage.Draft, len(categories))
	for _, category := range categories {
		drafts, err := g.generate(ctx, Request{Type: "hashtag_set", Topic: category, Count: 1}, 1, false)
		if err != nil {
			return library, fmt.Errorf("category %q: %w", category, err)
		}
		library[category] = drafts[0]
	}
	return library, nil
}

// nonBlank trims values and drops empty ones. With unique set it drops repeats too.
func nonBlank(values []string, unique bool) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || (unique && seen[v]) {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (g *Generator) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.engine.Complete(ctx, engine.Request{
		System:      system,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("model returned empty content")
	}
	return out, nil
}

func buildSystemPrompt(contentType, voiceSummary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You create %s content for a creator's channels.\n\n", strings.ReplaceAll(contentType, "_", " "))
	sb.WriteString("[Brand Voice]\n")
	sb.WriteString(voiceSummary)
	sb.WriteString("\n\nMake it authentic, inspiring, and actionable. Avoid generic motivational cliches. Output only the content.")
	return sb.String()
}
