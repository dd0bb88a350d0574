// Package platform defines the adapter contract every social network
// implements and the HTTP plumbing the adapters share.
package platform

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/kalambet/replyd/internal/domain"
)

// PostResult is what a platform reports after publishing a reply.
type PostResult struct {
	ExternalID string `json:"external_id"`
}

// Adapter fetches comments from one platform and posts replies to it.
type Adapter interface {
	Platform() domain.Platform

	// FetchSince returns comments published at or after since. It may
	// over-return near the boundary; callers deduplicate.
	FetchSince(ctx context.Context, since time.Time) ([]domain.Comment, error)

	// PostReply publishes text as a reply to the given comment.
	PostReply(ctx context.Context, commentID, text string) (PostResult, error)
}

const postContextRunes = 50

// PostContext formats a short description of the post a comment belongs to,
// e.g. "Facebook post: Sunday service recap...".
func PostContext(prefix, body string) string {
	if utf8.RuneCountInString(body) > postContextRunes {
		body = string([]rune(body)[:postContextRunes])
	}
	return prefix + ": " + body + "..."
}

// graphTimeLayout is the Graph API timestamp form, e.g. 2024-05-01T10:00:00+0000.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

// ParseTime accepts RFC 3339 and Graph API timestamps and returns UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(graphTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
