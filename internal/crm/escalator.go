package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/storage"
)

// ContactStore remembers which CRM contact belongs to a platform author.
// Implemented by storage.Store.
type ContactStore interface {
	ContactID(p domain.Platform, authorID string) (string, error)
	PutContactID(p domain.Platform, authorID, contactID string) error
}

// Escalation is everything needed to escalate one comment.
type Escalation struct {
	Platform    domain.Platform `json:"platform"`
	CommentID   string          `json:"comment_id"`
	AuthorID    string          `json:"author_id"`
	AuthorName  string          `json:"author_name"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	CommentText string          `json:"comment_text"`
	Category    domain.Category `json:"category"`
	Sentiment   string          `json:"sentiment"`
	Tags        []string        `json:"tags"`
	Workflows   []string        `json:"workflows"`
}

// externalID is the author key the contact is stored under.
func (e Escalation) externalID() string {
	if e.AuthorID != "" {
		return e.AuthorID
	}
	return e.AuthorName
}

// WorkflowResult is the outcome of one workflow trigger.
type WorkflowResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of an escalation.
type Result struct {
	Skipped   bool             `json:"skipped,omitempty"`
	ContactID string           `json:"contact_id,omitempty"`
	Reused    bool             `json:"reused,omitempty"`
	Workflows []WorkflowResult `json:"workflows,omitempty"`
	Err       error            `json:"-"`
}

// Escalator runs the two-step contact upsert and workflow trigger.
type Escalator struct {
	client   Client
	contacts ContactStore
	logger   *slog.Logger
}

// NewEscalator creates an Escalator.
func NewEscalator(client Client, contacts ContactStore) *Escalator {
	return &Escalator{client: client, contacts: contacts, logger: slog.Default()}
}

// Escalate does nothing when no workflow was triggered. A failed upsert is
// returned in Result.Err and no workflow fires; workflow failures are only
// recorded per workflow.
func (e *Escalator) Escalate(ctx context.Context, esc Escalation) Result {
	if len(esc.Workflows) == 0 {
		return Result{Skipped: true}
	}

	extID := esc.externalID()
	existing := ""
	if extID != "" {
		id, err := e.contacts.ContactID(esc.Platform, extID)
		switch {
		case err == nil:
			existing = id
		case !errors.Is(err, storage.ErrNotFound):
			e.logger.Warn("contact lookup failed", "platform", esc.Platform, "author", extID, "error", err)
		}
	}

	name := esc.AuthorName
	if name == "" {
		name = "Unknown"
	}
	contact := Contact{
		ID:         existing,
		Platform:   string(esc.Platform),
		ExternalID: extID,
		Name:       name,
		Email:      esc.Email,
		Phone:      esc.Phone,
		Tags:       esc.Tags,
		CustomFields: map[string]string{
			"comment_sentiment":   esc.Sentiment,
			"comment_type":        string(esc.Category),
			"engagement_platform": string(esc.Platform),
		},
		Note: "Social media engagement: " + esc.CommentText,
	}

	contactID, err := e.client.UpsertContact(ctx, contact)
	if err != nil {
		return Result{Err: fmt.Errorf("upserting contact: %w", err)}
	}
	res := Result{ContactID: contactID, Reused: existing != "" && existing == contactID}

	if extID != "" {
		if err := e.contacts.PutContactID(esc.Platform, extID, contactID); err != nil {
			e.logger.Warn("storing contact id failed", "contact_id", contactID, "error", err)
		}
	}

	if res.Reused && len(esc.Tags) > 0 {
		if err := e.client.AddTags(ctx, contactID, esc.Tags); err != nil {
			e.logger.Warn("adding tags failed", "contact_id", contactID, "error", err)
		}
	}

	payload := map[string]string{
		"comment_text": esc.CommentText,
		"platform":     string(esc.Platform),
		"sentiment":    esc.Sentiment,
	}
	for _, wf := range esc.Workflows {
		wr := WorkflowResult{Name: wf}
		if err := e.client.TriggerWorkflow(ctx, wf, contactID, payload); err != nil {
			e.logger.Warn("workflow trigger failed", "workflow", wf, "contact_id", contactID, "error", err)
			wr.Error = err.Error()
		}
		res.Workflows = append(res.Workflows, wr)
	}
	return res
}
