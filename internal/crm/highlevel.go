package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/platform"
)

const (
	defaultHighLevelURL = "https://services.leadconnectorhq.com"
	highLevelVersion    = "2021-07-28"
)

// HighLevelConfig configures the HighLevel client.
type HighLevelConfig struct {
	BaseURL     string
	APIKey      string
	LocationID  string
	WorkflowIDs map[string]string
}

// HighLevel talks to a GoHighLevel-style REST API.
type HighLevel struct {
	cfg    HighLevelConfig
	client *platform.HTTPClient
	logger *slog.Logger
}

// NewHighLevel creates a HighLevel client. A nil http client retries 429
// and 5xx responses with the shared defaults.
func NewHighLevel(cfg HighLevelConfig, client *platform.HTTPClient) *HighLevel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultHighLevelURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = platform.NewHTTPClient(platform.WithRetries(4, time.Second))
	}
	return &HighLevel{cfg: cfg, client: client, logger: slog.Default()}
}

func (h *HighLevel) headers() map[string]string {
	hdr := platform.Bearer(h.cfg.APIKey)
	hdr["Version"] = highLevelVersion
	return hdr
}

type customField struct {
	Key   string `json:"key"`
	Value string `json:"field_value"`
}

// UpsertContact creates or updates the contact and attaches the note.
func (h *HighLevel) UpsertContact(ctx context.Context, c Contact) (string, error) {
	fields := make([]customField, 0, len(c.CustomFields))
	for k, v := range c.CustomFields {
		fields = append(fields, customField{Key: k, Value: v})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

	body := map[string]any{
		"locationId":   h.cfg.LocationID,
		"name":         c.Name,
		"source":       c.Platform,
		"tags":         c.Tags,
		"customFields": fields,
	}
	if c.Email != "" {
		body["email"] = c.Email
	}
	if c.Phone != "" {
		body["phone"] = c.Phone
	}

	var resp struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	if err := h.client.Do(ctx, platform.Request{
		Method:  http.MethodPost,
		URL:     h.cfg.BaseURL + "/contacts/upsert",
		Body:    body,
		Headers: h.headers(),
	}, &resp); err != nil {
		return "", fmt.Errorf("upserting contact: %w", err)
	}
	if resp.Contact.ID == "" {
		return "", errors.New("upserting contact: response has no contact id")
	}

	if c.Note != "" {
		if err := h.client.Do(ctx, platform.Request{
			Method:  http.MethodPost,
			URL:     h.cfg.BaseURL + "/contacts/" + url.PathEscape(resp.Contact.ID) + "/notes",
			Body:    map[string]string{"body": c.Note},
			Headers: h.headers(),
		}, nil); err != nil {
			h.logger.Warn("adding contact note failed", "contact_id", resp.Contact.ID, "error", err)
		}
	}
	return resp.Contact.ID, nil
}

// TriggerWorkflow enrolls the contact in the workflow configured for name.
func (h *HighLevel) TriggerWorkflow(ctx context.Context, name, contactID string, payload map[string]string) error {
	workflowID, ok := h.cfg.WorkflowIDs[name]
	if !ok || workflowID == "" {
		return fmt.Errorf("no workflow id configured for %q", name)
	}
	body := map[string]any{
		"eventStartTime": time.Now().UTC().Format(time.RFC3339),
		"triggerData":    payload,
	}
	if err := h.client.Do(ctx, platform.Request{
		Method:  http.MethodPost,
		URL:     h.cfg.BaseURL + "/contacts/" + url.PathEscape(contactID) + "/workflow/" + url.PathEscape(workflowID),
		Body:    body,
		Headers: h.headers(),
	}, nil); err != nil {
		return fmt.Errorf("triggering workflow %s: %w", name, err)
	}
	return nil
}

// AddTags appends tags to an existing contact.
func (h *HighLevel) AddTags(ctx context.Context, contactID string, tags []string) error {
	if err := h.client.Do(ctx, platform.Request{
		Method:  http.MethodPost,
		URL:     h.cfg.BaseURL + "/contacts/" + url.PathEscape(contactID) + "/tags",
		Body:    map[string][]string{"tags": tags},
		Headers: h.headers(),
	}, nil); err != nil {
		return fmt.Errorf("adding tags: %w", err)
	}
	return nil
}

// ParseWorkflowIDs parses "name=id,name=id".
func ParseWorkflowIDs(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, id, ok := strings.Cut(pair, "=")
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if !ok || name == "" || id == "" {
			return nil, fmt.Errorf("invalid workflow mapping %q (want name=id)", pair)
		}
		out[name] = id
	}
	return out, nil
}
