// Package twitter reads replies in the conversations of a user's recent
// tweets and answers them through API v2.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/platform"
)

const (
	defaultBaseURL = "https://api.twitter.com/2"
	// recent search only covers the last seven days.
	searchWindow = 7*24*time.Hour - time.Minute
)

// Config holds the account and tokens. BearerToken is app-only and used for
// reads; UserToken acts on behalf of the account and is required to post.
type Config struct {
	UserID      string
	BearerToken string
	UserToken   string
	BaseURL     string
}

// Adapter implements platform.Adapter for Twitter.
type Adapter struct {
	cfg    Config
	client *platform.HTTPClient
	now    func() time.Time
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates an Adapter. A nil client gets the default limits.
func New(cfg Config, client *platform.HTTPClient) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = platform.NewHTTPClient(platform.WithRateLimit(15, 15*time.Minute))
	}
	return &Adapter{cfg: cfg, client: client, now: time.Now}
}

func (a *Adapter) Platform() domain.Platform { return domain.Twitter }

type tweet struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
	PublicMetrics  struct {
		LikeCount int `json:"like_count"`
	} `json:"public_metrics"`
}

type tweetsResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

// FetchSince searches the conversation of every recent tweet for replies
// by other accounts.
func (a *Adapter) FetchSince(ctx context.Context, since time.Time) ([]domain.Comment, error) {
	q := url.Values{"max_results": {"20"}, "tweet.fields": {"created_at,conversation_id"}}
	var own tweetsResponse
	if err := a.client.Do(ctx, platform.Request{
		Method:  http.MethodGet,
		URL:     a.cfg.BaseURL + "/users/" + url.PathEscape(a.cfg.UserID) + "/tweets?" + q.Encode(),
		Headers: platform.Bearer(a.cfg.BearerToken),
	}, &own); err != nil {
		return nil, fmt.Errorf("twitter: listing tweets: %w", err)
	}

	start := since
	if floor := a.now().Add(-searchWindow); start.Before(floor) {
		start = floor
	}

	seen := map[string]bool{}
	var out []domain.Comment
	for _, root := range own.Data {
		conv := root.ConversationID
		if conv == "" {
			conv = root.ID
		}
		if seen[conv] {
			continue
		}
		seen[conv] = true

		replies, err := a.searchConversation(ctx, conv, start)
		if err != nil {
			return nil, err
		}
		postCtx := platform.PostContext("Tweet", root.Text)
		for _, c := range replies {
			c.PostContext = postCtx
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *Adapter) searchConversation(ctx context.Context, conversationID string, start time.Time) ([]domain.Comment, error) {
	q := url.Values{
		"query":        {"conversation_id:" + conversationID},
		"tweet.fields": {"created_at,author_id,conversation_id,public_metrics"},
		"expansions":   {"author_id"},
		"user.fields":  {"username"},
		"max_results":  {"100"},
		"start_time":   {start.UTC().Format(time.RFC3339)},
	}
	var resp tweetsResponse
	if err := a.client.Do(ctx, platform.Request{
		Method:  http.MethodGet,
		URL:     a.cfg.BaseURL + "/tweets/search/recent?" + q.Encode(),
		Headers: platform.Bearer(a.cfg.BearerToken),
	}, &resp); err != nil {
		return nil, fmt.Errorf("twitter: searching conversation %s: %w", conversationID, err)
	}

	names := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		names[u.ID] = u.Username
	}

	var out []domain.Comment
	for _, t := range resp.Data {
		if t.ID == conversationID || t.AuthorID == a.cfg.UserID {
			continue
		}
		at, err := platform.ParseTime(t.CreatedAt)
		if err != nil || at.Before(start) {
			continue
		}
		out = append(out, domain.Comment{
			Platform:    domain.Twitter,
			ID:          t.ID,
			Text:        t.Text,
			AuthorName:  names[t.AuthorID],
			AuthorID:    t.AuthorID,
			PublishedAt: at,
			ParentID:    conversationID,
			PostID:      conversationID,
			LikeCount:   t.PublicMetrics.LikeCount,
		})
	}
	return out, nil
}

// PostReply tweets text in reply to commentID.
func (a *Adapter) PostReply(ctx context.Context, commentID, text string) (platform.PostResult, error) {
	if a.cfg.UserToken == "" {
		return platform.PostResult{}, errors.New("twitter: posting requires a user token")
	}
	body := map[string]any{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": commentID},
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := a.client.Do(ctx, platform.Request{
		Method:  http.MethodPost,
		URL:     a.cfg.BaseURL + "/tweets",
		Body:    body,
		Headers: platform.Bearer(a.cfg.UserToken),
	}, &resp); err != nil {
		return platform.PostResult{}, fmt.Errorf("twitter: posting reply: %w", err)
	}
	return platform.PostResult{ExternalID: resp.Data.ID}, nil
}
