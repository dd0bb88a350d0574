// Package linkedin reads comments on an organization's shares and replies
// to them through the v2 social actions API.
package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/platform"
)

const (
	defaultBaseURL   = "https://api.linkedin.com/v2"
	commentURNPrefix = "urn:li:comment:("
)

// Config holds the organization and its access token.
type Config struct {
	OrganizationID string
	AccessToken    string
	BaseURL        string
}

// Adapter implements platform.Adapter for LinkedIn.
type Adapter struct {
	cfg    Config
	client *platform.HTTPClient
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates an Adapter. A nil client gets the default limits.
func New(cfg Config, client *platform.HTTPClient) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = platform.NewHTTPClient(platform.WithRateLimit(30, time.Minute))
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Platform() domain.Platform { return domain.LinkedIn }

func (a *Adapter) orgURN() string { return "urn:li:organization:" + a.cfg.OrganizationID }

func (a *Adapter) headers() map[string]string {
	h := platform.Bearer(a.cfg.AccessToken)
	h["X-Restli-Protocol-Version"] = "2.0.0"
	return h
}

type sharesResponse struct {
	Elements []struct {
		ID       string `json:"id"`
		Activity string `json:"activity"`
	} `json:"elements"`
}

type commentsResponse struct {
	Elements []struct {
		URN     string `json:"$URN"`
		ID      string `json:"id"`
		Actor   string `json:"actor"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
		Created struct {
			Time int64 `json:"time"`
		} `json:"created"`
	} `json:"elements"`
}

// FetchSince lists recent shares, then the comments on each.
func (a *Adapter) FetchSince(ctx context.Context, since time.Time) ([]domain.Comment, error) {
	q := url.Values{"q": {"owners"}, "owners": {a.orgURN()}, "count": {"25"}}
	var shares sharesResponse
	if err := a.client.Do(ctx, platform.Request{
		Method:  http.MethodGet,
		URL:     a.cfg.BaseURL + "/shares?" + q.Encode(),
		Headers: a.headers(),
	}, &shares); err != nil {
		return nil, fmt.Errorf("linkedin: listing shares: %w", err)
	}

	var out []domain.Comment
	for _, s := range shares.Elements {
		postURN := s.Activity
		if postURN == "" {
			postURN = "urn:li:share:" + s.ID
		}

		var resp commentsResponse
		if err := a.client.Do(ctx, platform.Request{
			Method:  http.MethodGet,
			URL:     a.cfg.BaseURL + "/socialActions/" + url.PathEscape(postURN) + "/comments",
			Headers: a.headers(),
		}, &resp); err != nil {
			return nil, fmt.Errorf("linkedin: listing comments for %s: %w", postURN, err)
		}

		for _, c := range resp.Elements {
			at := time.UnixMilli(c.Created.Time).UTC()
			if at.Before(since) {
				continue
			}
			id := c.URN
			if id == "" {
				id = commentURN(postURN, c.ID)
			}
			out = append(out, domain.Comment{
				Platform:    domain.LinkedIn,
				ID:          id,
				Text:        c.Message.Text,
				AuthorName:  c.Actor,
				AuthorID:    c.Actor,
				PublishedAt: at,
				PostID:      postURN,
				PostContext: "LinkedIn post",
			})
		}
	}
	return out, nil
}

func commentURN(postURN, id string) string {
	return commentURNPrefix + postURN + "," + id + ")"
}

// parentObject extracts the post URN from a comment URN of the form
// urn:li:comment:(<post urn>,<id>).
func parentObject(commentID string) (string, error) {
	if !strings.HasPrefix(commentID, commentURNPrefix) || !strings.HasSuffix(commentID, ")") {
		return "", fmt.Errorf("linkedin: %q is not a comment URN", commentID)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(commentID, commentURNPrefix), ")")
	i := strings.LastIndex(inner, ",")
	if i <= 0 {
		return "", fmt.Errorf("linkedin: %q has no parent object", commentID)
	}
	return inner[:i], nil
}

// PostReply posts a nested comment under commentID.
func (a *Adapter) PostReply(ctx context.Context, commentID, text string) (platform.PostResult, error) {
	object, err := parentObject(commentID)
	if err != nil {
		return platform.PostResult{}, err
	}
	body := map[string]any{
		"actor":         a.orgURN(),
		"object":        object,
		"parentComment": commentID,
		"message":       map[string]string{"text": text},
	}
	var resp struct {
		URN string `json:"$URN"`
		ID  string `json:"id"`
	}
	if err := a.client.Do(ctx, platform.Request{
		Method:  http.MethodPost,
		URL:     a.cfg.BaseURL + "/socialActions/" + url.PathEscape(commentID) + "/comments",
		Body:    body,
		Headers: a.headers(),
	}, &resp); err != nil {
		return platform.PostResult{}, fmt.Errorf("linkedin: posting reply: %w", err)
	}
	id := resp.URN
	if id == "" {
		id = resp.ID
	}
	return platform.PostResult{ExternalID: id}, nil
}
