// Package instagram reads media comments of a business account and replies
// to them through the Graph API.
package instagram

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
	defaultBaseURL = "https://graph.facebook.com/v18.0"
	mediaFields    = "id,caption,timestamp,comments.limit(100){id,text,username,from,timestamp,like_count,replies{id,text,username,from,timestamp,like_count}}"
)

// Config holds the business account and its access token.
type Config struct {
	AccountID   string
	AccessToken string
	BaseURL     string
}

// Adapter implements platform.Adapter for Instagram.
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
		client = platform.NewHTTPClient(platform.WithRateLimit(100, time.Minute))
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Platform() domain.Platform { return domain.Instagram }

type igComment struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Username string `json:"username"`
	From     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Timestamp string `json:"timestamp"`
	LikeCount int    `json:"like_count"`
	Replies   struct {
		Data []igComment `json:"data"`
	} `json:"replies"`
}

type mediaResponse struct {
	Data []struct {
		ID       string `json:"id"`
		Caption  string `json:"caption"`
		Comments struct {
			Data []igComment `json:"data"`
		} `json:"comments"`
	} `json:"data"`
}

// FetchSince reads recent media with comments and their replies.
func (a *Adapter) FetchSince(ctx context.Context, since time.Time) ([]domain.Comment, error) {
	q := url.Values{
		"fields":       {mediaFields},
		"limit":        {"25"},
		"access_token": {a.cfg.AccessToken},
	}
	var resp mediaResponse
	if err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		URL:    a.cfg.BaseURL + "/" + url.PathEscape(a.cfg.AccountID) + "/media?" + q.Encode(),
	}, &resp); err != nil {
		return nil, fmt.Errorf("instagram: listing media: %w", err)
	}

	var out []domain.Comment
	for _, media := range resp.Data {
		postCtx := platform.PostContext("Instagram post", media.Caption)
		for _, c := range media.Comments.Data {
			if dc, ok := normalize(c, media.ID, "", postCtx, since); ok {
				out = append(out, dc)
			}
			for _, r := range c.Replies.Data {
				if dc, ok := normalize(r, media.ID, c.ID, postCtx, since); ok {
					out = append(out, dc)
				}
			}
		}
	}
	return out, nil
}

func normalize(c igComment, mediaID, parentID, postCtx string, since time.Time) (domain.Comment, bool) {
	at, err := platform.ParseTime(c.Timestamp)
	if err != nil || at.Before(since) {
		return domain.Comment{}, false
	}
	name := c.Username
	if name == "" {
		name = c.From.Username
	}
	authorID := c.From.ID
	if authorID == "" {
		authorID = name
	}
	return domain.Comment{
		Platform:    domain.Instagram,
		ID:          c.ID,
		Text:        c.Text,
		AuthorName:  name,
		AuthorID:    authorID,
		PublishedAt: at,
		ParentID:    parentID,
		PostID:      mediaID,
		PostContext: postCtx,
		LikeCount:   c.LikeCount,
	}, true
}

// PostReply replies to the given comment.
func (a *Adapter) PostReply(ctx context.Context, commentID, text string) (platform.PostResult, error) {
	q := url.Values{"access_token": {a.cfg.AccessToken}}
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + "/" + url.PathEscape(commentID) + "/replies?" + q.Encode(),
		Body:   map[string]string{"message": text},
	}, &resp); err != nil {
		return platform.PostResult{}, fmt.Errorf("instagram: posting reply: %w", err)
	}
	return platform.PostResult{ExternalID: resp.ID}, nil
}
