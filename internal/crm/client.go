// Package crm escalates engaged commenters into the CRM: it upserts a
// contact and starts the workflows their comment triggered.
package crm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Contact is the CRM record for one commenter.
type Contact struct {
	ID           string            `json:"id,omitempty"`
	Platform     string            `json:"platform"`
	ExternalID   string            `json:"external_id"`
	Name         string            `json:"name"`
	Email        string            `json:"email,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields"`
	Note         string            `json:"note,omitempty"`
}

// Client is the CRM collaborator.
type Client interface {
	UpsertContact(ctx context.Context, c Contact) (string, error)
	TriggerWorkflow(ctx context.Context, name, contactID string, payload map[string]string) error
	AddTags(ctx context.Context, contactID string, tags []string) error
}

// LogClient records calls in the log instead of talking to a CRM. It is
// used when no API key is configured.
type LogClient struct {
	logger *slog.Logger
}

// NewLogClient creates a LogClient.
func NewLogClient() *LogClient {
	return &LogClient{logger: slog.Default()}
}

func (l *LogClient) UpsertContact(_ context.Context, c Contact) (string, error) {
	id := c.ID
	if id == "" {
		sum := sha256.Sum256([]byte(c.Platform + ":" + c.ExternalID))
		id = "mock_contact_" + hex.EncodeToString(sum[:6])
	}
	l.logger.Info("crm upsert contact (log only)", "contact_id", id, "platform", c.Platform, "name", c.Name, "tags", c.Tags)
	return id, nil
}

func (l *LogClient) TriggerWorkflow(_ context.Context, name, contactID string, payload map[string]string) error {
	l.logger.Info("crm trigger workflow (log only)", "workflow", name, "contact_id", contactID, "platform", payload["platform"])
	return nil
}

func (l *LogClient) AddTags(_ context.Context, contactID string, tags []string) error {
	l.logger.Info("crm add tags (log only)", "contact_id", contactID, "tags", tags)
	return nil
}
