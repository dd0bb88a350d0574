package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/replyd/internal/domain"
)

func sampleComment(id string, published time.Time) domain.Comment {
	return domain.Comment{
		Platform:    domain.YouTube,
		ID:          id,
		Text:        "Love this video!",
		AuthorName:  "Ana",
		AuthorID:    "UC-ana",
		PublishedAt: published,
		PostID:      "vid-1",
		PostContext: "YouTube video: Morning Routine",
		LikeCount:   2,
	}
}

func TestUpsertComment_CreatesThenUpdates(t *testing.T) {
	s := openTestStore(t)
	published := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := s.UpsertComment(sampleComment("c1", published))
	if err != nil {
		t.Fatalf("UpsertComment: %v", err)
	}
	if !created {
		t.Error("first upsert should report created")
	}

	again := sampleComment("c1", published)
	again.Text = "edited text"
	again.LikeCount = 9
	created, err = s.UpsertComment(again)
	if err != nil {
		t.Fatalf("UpsertComment (again): %v", err)
	}
	if created {
		t.Error("second upsert should not report created")
	}

	got, err := s.GetComment(domain.CommentKey{Platform: domain.YouTube, CommentID: "c1"})
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if got.Text != "Love this video!" {
		t.Errorf("Text = %q, original text must be kept", got.Text)
	}
	if got.LikeCount != 9 {
		t.Errorf("LikeCount = %d, want 9", got.LikeCount)
	}
	if got.Status != domain.CommentPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if !got.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, published)
	}
}

func TestUpsertComment_RejectsInvalid(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertComment(domain.Comment{Platform: domain.YouTube, ID: "c1"}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestRecordCommentError(t *testing.T) {
	s := openTestStore(t)
	c := domain.Comment{Platform: domain.YouTube, ID: "bad"}
	perr := domain.ProcessingError{Stage: "validate", Message: "comment missing required fields: text"}
	if err := s.RecordCommentError(c, perr); err != nil {
		t.Fatalf("RecordCommentError: %v", err)
	}

	got, err := s.GetComment(c.Key())
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if got.Status != domain.CommentError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.Error == nil || got.Error.Stage != "validate" {
		t.Errorf("Error = %+v", got.Error)
	}

	if err := s.RecordCommentError(domain.Comment{Platform: domain.YouTube}, perr); err == nil {
		t.Error("expected error for missing comment id")
	}
}

func TestSaveCommentResult(t *testing.T) {
	s := openTestStore(t)
	c := sampleComment("c2", time.Now().UTC())
	if _, err := s.UpsertComment(c); err != nil {
		t.Fatalf("UpsertComment: %v", err)
	}

	cls := &domain.Classification{Category: domain.Praise, Confidence: 0.9, Reasoning: "positive"}
	sent := domain.NeutralSentiment()
	if err := s.SaveCommentResult(c.Key(), domain.CommentProcessed, cls, &sent, nil); err != nil {
		t.Fatalf("SaveCommentResult: %v", err)
	}

	got, err := s.GetComment(c.Key())
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if got.Status != domain.CommentProcessed {
		t.Errorf("Status = %q, want processed", got.Status)
	}
	if got.Classification == nil || got.Classification.Category != domain.Praise {
		t.Errorf("Classification = %+v, want praise", got.Classification)
	}
	if got.Sentiment == nil || got.Sentiment.Sentiment != "neutral" {
		t.Errorf("Sentiment = %+v, want neutral", got.Sentiment)
	}
	if got.Error != nil {
		t.Errorf("Error = %+v, want nil", got.Error)
	}
}

func TestSaveCommentResult_NotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveCommentResult(domain.CommentKey{Platform: domain.Twitter, CommentID: "nope"}, domain.CommentError, nil, nil,
		&domain.ProcessingError{Stage: "classify", Message: "boom"})
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetCommentNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetComment(domain.CommentKey{Platform: domain.YouTube, CommentID: "missing"})
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListComments_FilterAndOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 5; j++ {
		c := sampleComment(fmt.Sprintf("yt-%02d", j), base.Add(time.Duration(j)*time.Hour))
		if _, err := s.UpsertComment(c); err != nil {
			t.Fatalf("UpsertComment %d: %v", j, err)
		}
	}
	fb := sampleComment("fb-1", base)
	fb.Platform = domain.Facebook
	if _, err := s.UpsertComment(fb); err != nil {
		t.Fatalf("UpsertComment fb: %v", err)
	}

	got, err := s.ListComments(CommentFilter{Platform: domain.YouTube, Limit: 3})
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d comments, want 3", len(got))
	}
	if got[0].ID != "yt-04" {
		t.Errorf("first ID = %q, want yt-04", got[0].ID)
	}
	for _, c := range got {
		if c.Platform != domain.YouTube {
			t.Errorf("unexpected platform %q", c.Platform)
		}
	}

	counts, err := s.CountComments()
	if err != nil {
		t.Fatalf("CountComments: %v", err)
	}
	if counts["pending"] != 6 {
		t.Errorf("pending = %d, want 6", counts["pending"])
	}
}
