package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/replyd/internal/crm"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/platform"
	"github.com/kalambet/replyd/internal/reply"
	"github.com/kalambet/replyd/internal/storage"
)

// Stage names recorded on processing errors.
const (
	StageValidate = "validate"
)

const (
	persistAttempts = 3
	persistBackoff  = 200 * time.Millisecond
)

// Store is the persistence surface used by the processor. Implemented by
// storage.Store.
type Store interface {
	UpsertComment(c domain.Comment) (bool, error)
	RecordCommentError(c domain.Comment, perr domain.ProcessingError) error
	SaveCommentResult(key domain.CommentKey, status domain.CommentStatus, cls *domain.Classification, sent *domain.Sentiment, perr *domain.ProcessingError) error
	InsertReply(r domain.Reply) (domain.Reply, error)
	GetReply(id string) (domain.Reply, error)
	UpdateReplyStatus(id string, to domain.ReplyStatus) error
	MarkReplyPosted(id, externalID string, at time.Time) error
	RecordPostError(id, msg string) error
	EnqueueJob(job storage.Job) (string, error)
}

// Classifier assigns a category to comment text.
type Classifier interface {
	Classify(ctx context.Context, text string, platform domain.Platform) domain.Classification
}

// SentimentAnalyzer scores the tone of comment text.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, text string) domain.Sentiment
}

// ReplyGenerator drafts a reply for a classified comment.
type ReplyGenerator interface {
	Generate(ctx context.Context, text string, category domain.Category, platform domain.Platform, postContext string) reply.Result
}

// Adapters resolves the adapter that posts to a platform.
type Adapters interface {
	Get(p domain.Platform) (platform.Adapter, bool)
}

// Mode is the shared state a cycle processes its comments under.
type Mode struct {
	OwnerActive bool
}

// Outcome summarizes what happened to one comment.
type Outcome struct {
	Key            domain.CommentKey       `json:"key"`
	Status         domain.CommentStatus    `json:"status"`
	Classification *domain.Classification  `json:"classification,omitempty"`
	Sentiment      *domain.Sentiment       `json:"sentiment,omitempty"`
	Reply          *domain.Reply           `json:"reply,omitempty"`
	Posted         bool                    `json:"posted"`
	EscalationJob  string                  `json:"escalation_job,omitempty"`
	Error          *domain.ProcessingError `json:"error,omitempty"`
}

// ErrInFlight is returned by Post when the same reply is already being posted.
var ErrInFlight = errors.New("reply is already being posted")

// PersistError is returned when a storage call keeps failing after retries.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistError) Unwrap() error { return e.Err }

// Processor runs a single comment through classification, reply
// generation, escalation and disposition.
type Processor struct {
	store      Store
	classifier Classifier
	sentiment  SentimentAnalyzer
	generator  ReplyGenerator
	adapters   Adapters
	hub        *events.Hub
	inflight   sync.Map
	attempts   int
	backoff    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewProcessor creates a Processor. hub may be nil.
func NewProcessor(store Store, classifier Classifier, sentiment SentimentAnalyzer, generator ReplyGenerator, adapters Adapters, hub *events.Hub) *Processor {
	return &Processor{
		store:      store,
		classifier: classifier,
		sentiment:  sentiment,
		generator:  generator,
		adapters:   adapters,
		hub:        hub,
		attempts:   persistAttempts,
		backoff:    persistBackoff,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Process handles one comment end to end. Model failures never surface as
// errors; only storage failures that survive the retries do.
func (p *Processor) Process(ctx context.Context, c domain.Comment, mode Mode) (Outcome, error) {
	out := Outcome{Key: c.Key()}

	if err := c.Validate(); err != nil {
		perr := domain.ProcessingError{Stage: StageValidate, Message: err.Error()}
		out.Status = domain.CommentError
		out.Error = &perr
		p.logger.Warn("invalid comment", "platform", c.Platform, "comment_id", c.ID, "error", err)
		if c.Platform != "" && c.ID != "" {
			if err := p.persist(ctx, "recording invalid comment", func() error {
				return p.store.RecordCommentError(c, perr)
			}); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	// 1. Upsert.
	var created bool
	if err := p.persist(ctx, "upserting comment", func() error {
		var err error
		created, err = p.store.UpsertComment(c)
		return err
	}); err != nil {
		return out, err
	}
	if created {
		p.hub.Publish(events.NewComment, c)
	}

	// 2-4. Classify, draft, score.
	cls := p.classifier.Classify(ctx, c.Text, c.Platform)
	gen := p.generator.Generate(ctx, c.Text, cls.Category, c.Platform, c.PostContext)
	sent := p.sentiment.Analyze(ctx, c.Text)
	out.Classification = &cls
	out.Sentiment = &sent

	// 5. Comment results.
	if err := p.persist(ctx, "saving comment result", func() error {
		return p.store.SaveCommentResult(c.Key(), domain.CommentProcessed, &cls, &sent, nil)
	}); err != nil {
		return out, err
	}
	out.Status = domain.CommentProcessed

	// 6. Reply.
	source := domain.SourceAI
	if gen.Fallback {
		source = domain.SourceFallback
	}
	draft := domain.Reply{
		Platform:      c.Platform,
		CommentID:     c.ID,
		Text:          gen.Text,
		Triggers:      gen.Triggers,
		NeedsApproval: gen.NeedsApproval,
		Status:        domain.ReplyPending,
		Source:        source,
		Category:      cls.Category,
		Confidence:    cls.Confidence,
	}
	var r domain.Reply
	if err := p.persist(ctx, "inserting reply", func() error {
		var err error
		r, err = p.store.InsertReply(draft)
		return err
	}); err != nil {
		return out, err
	}
	out.Reply = &r
	p.hub.Publish(events.NewReply, r)

	// 7. Escalation.
	if !gen.Triggers.Empty() {
		esc := crm.Escalation{
			Platform:    c.Platform,
			CommentID:   c.ID,
			AuthorID:    c.AuthorID,
			AuthorName:  c.AuthorName,
			CommentText: c.Text,
			Category:    cls.Category,
			Sentiment:   sent.Sentiment,
			Tags:        gen.Triggers.Tags,
			Workflows:   gen.Triggers.Workflows,
		}
		if err := p.persist(ctx, "enqueueing escalation", func() error {
			var err error
			out.EscalationJob, err = crm.Enqueue(p.store, esc)
			return err
		}); err != nil {
			return out, err
		}
	}

	// 8. Disposition.
	if mode.OwnerActive || r.NeedsApproval {
		p.logger.Info("reply held for review",
			"comment", c.Key(), "category", cls.Category, "owner_active", mode.OwnerActive, "needs_approval", r.NeedsApproval)
		return out, nil
	}

	if err := p.persist(ctx, "auto-approving reply", func() error {
		return p.store.UpdateReplyStatus(r.ID, domain.ReplyAutoApproved)
	}); err != nil {
		return out, err
	}
	r.Status = domain.ReplyAutoApproved
	out.Reply = &r
	p.publishStatus(r)

	posted, err := p.Post(ctx, r)
	out.Reply = &posted
	if err != nil {
		var pe *PersistError
		if errors.As(err, &pe) {
			return out, err
		}
		return out, nil
	}
	out.Posted = true
	return out, nil
}

// Post publishes an approved or auto-approved reply and records the result.
// A platform failure leaves the status unchanged and keeps the error on the
// reply so a later sweep can retry.
func (p *Processor) Post(ctx context.Context, r domain.Reply) (domain.Reply, error) {
	if _, busy := p.inflight.LoadOrStore(r.ID, struct{}{}); busy {
		return r, ErrInFlight
	}
	defer p.inflight.Delete(r.ID)

	current, err := p.store.GetReply(r.ID)
	if err != nil {
		return r, &PersistError{Op: "loading reply", Err: err}
	}
	switch current.Status {
	case domain.ReplyPosted:
		return current, nil
	case domain.ReplyApproved, domain.ReplyAutoApproved:
	default:
		return current, fmt.Errorf("%w: reply %s is %s", storage.ErrInvalidTransition, r.ID, current.Status)
	}
	r = current

	adapter, ok := p.adapters.Get(r.Platform)
	var res platform.PostResult
	var postErr error
	if !ok {
		postErr = fmt.Errorf("no adapter configured for %s", r.Platform)
	} else {
		res, postErr = adapter.PostReply(ctx, r.CommentID, r.Text)
	}

	if postErr != nil {
		p.logger.Warn("posting reply failed", "reply_id", r.ID, "platform", r.Platform, "error", postErr)
		msg := postErr.Error()
		if err := p.persist(ctx, "recording post error", func() error {
			return p.store.RecordPostError(r.ID, msg)
		}); err != nil {
			return r, err
		}
		r.LastError = msg
		r.PostAttempts++
		p.hub.Publish(events.PlatformError, events.PlatformFailure{
			Platform: r.Platform,
			Op:       "post",
			Error:    msg,
			ReplyID:  r.ID,
		})
		return r, fmt.Errorf("posting reply %s: %w", r.ID, postErr)
	}

	at := p.now().UTC()
	if err := p.persist(ctx, "marking reply posted", func() error {
		return p.store.MarkReplyPosted(r.ID, res.ExternalID, at)
	}); err != nil {
		p.logger.Error("reply posted but not recorded", "reply_id", r.ID, "external_id", res.ExternalID, "error", err)
		return r, err
	}
	r.Status = domain.ReplyPosted
	r.ExternalID = res.ExternalID
	r.LastError = ""
	r.PostedAt = &at

	p.logger.Info("reply posted", "reply_id", r.ID, "platform", r.Platform, "comment_id", r.CommentID, "external_id", res.ExternalID)
	p.hub.Publish(events.ReplyPosted, r)
	return r, nil
}

func (p *Processor) publishStatus(r domain.Reply) {
	p.hub.Publish(events.ReplyStatus, events.ReplyStatusChange{
		ReplyID:   r.ID,
		Platform:  r.Platform,
		CommentID: r.CommentID,
		Status:    r.Status,
	})
}

// persist retries fn with exponential backoff. Invalid transitions and
// missing rows are not retried.
func (p *Processor) persist(ctx context.Context, op string, fn func() error) error {
	backoff := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			break
		}
		if attempt == p.attempts {
			break
		}
		p.logger.Warn("storage call failed, retrying", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return &PersistError{Op: op, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return &PersistError{Op: op, Err: err}
}
