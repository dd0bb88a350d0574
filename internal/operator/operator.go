// Package operator is the control surface shared by the HTTP API, the MCP
// server, the Telegram bot and the CLI.
package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/replyd/internal/crm"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/pipeline"
	"github.com/kalambet/replyd/internal/scheduler"
	"github.com/kalambet/replyd/internal/storage"
)

// ErrInvalidInput marks a request the caller has to fix.
var ErrInvalidInput = errors.New("invalid input")

// ErrAlreadyReplied is returned when reprocessing a comment that already
// has a reply.
var ErrAlreadyReplied = errors.New("comment already has a reply")

// Store is the persistence surface used by the operator. Implemented by
// storage.Store.
type Store interface {
	GetComment(key domain.CommentKey) (domain.Comment, error)
	ListComments(f storage.CommentFilter) ([]domain.Comment, error)
	CountComments() (map[string]int, error)
	HasReply(key domain.CommentKey) (bool, error)
	LatestReplyForComment(key domain.CommentKey) (domain.Reply, error)
	InsertReply(r domain.Reply) (domain.Reply, error)
	GetReply(id string) (domain.Reply, error)
	ListReplies(f storage.ReplyFilter) ([]domain.Reply, error)
	GetPendingReplies(limit int) ([]domain.Reply, error)
	UpdateReplyStatus(id string, to domain.ReplyStatus) error
	ReplyCounts() (map[string]int, error)
	GetOwnerActivity() (bool, error)
	SetOwnerActivity(active bool) error
	CountJobs(jobType string) (map[string]int, error)
}

// Processor runs a stored comment through the pipeline.
type Processor interface {
	Process(ctx context.Context, c domain.Comment, mode pipeline.Mode) (pipeline.Outcome, error)
}

// StateSource reports per-platform loop state.
type StateSource interface {
	States() []scheduler.PlatformState
}

// Service implements the operator operations.
type Service struct {
	store  Store
	proc   Processor
	states StateSource
	hub    *events.Hub
	logger *slog.Logger
}

// New creates a Service. states and hub may be nil.
func New(store Store, proc Processor, states StateSource, hub *events.Hub) *Service {
	return &Service{store: store, proc: proc, states: states, hub: hub, logger: slog.Default()}
}

// CommentView is a stored comment with its latest reply.
type CommentView struct {
	domain.Comment
	Reply *domain.Reply `json:"reply,omitempty"`
}

// ListComments returns recent comments, newest first.
func (s *Service) ListComments(limit int, p domain.Platform) ([]CommentView, error) {
	comments, err := s.store.ListComments(storage.CommentFilter{Platform: p, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		v := CommentView{Comment: c}
		r, err := s.store.LatestReplyForComment(c.Key())
		switch {
		case err == nil:
			v.Reply = &r
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("loading reply for %s: %w", c.Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ListPending returns replies waiting for a decision, newest first.
func (s *Service) ListPending(limit int) ([]domain.Reply, error) {
	replies, err := s.store.GetPendingReplies(limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending replies: %w", err)
	}
	if replies == nil {
		replies = []domain.Reply{}
	}
	return replies, nil
}

// SubmitReply stores an owner-written reply as approved and rejects any
// earlier reply to the comment that has not been posted, so only the
// owner's goes out. The next sweep posts it.
func (s *Service) SubmitReply(p domain.Platform, commentID, text string) (domain.Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Reply{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if commentID == "" {
		return domain.Reply{}, fmt.Errorf("%w: comment_id is required", ErrInvalidInput)
	}
	key := domain.CommentKey{Platform: p, CommentID: commentID}
	c, err := s.store.GetComment(key)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("loading comment %s: %w", key, err)
	}

	r := domain.Reply{
		Platform:  p,
		CommentID: commentID,
		Text:      text,
		Triggers:  domain.NewTriggerRecord(nil, nil),
		Status:    domain.ReplyApproved,
		Source:    domain.SourceOwner,
		Category:  domain.General,
	}
	if c.Classification != nil {
		r.Category = c.Classification.Category
		r.Confidence = c.Classification.Confidence
	}
	if err := s.supersede(key); err != nil {
		return domain.Reply{}, err
	}
	saved, err := s.store.InsertReply(r)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("saving reply: %w", err)
	}
	s.logger.Info("owner reply submitted", "reply_id", saved.ID, "comment", key)
	s.hub.Publish(events.NewReply, saved)
	return saved, nil
}

// supersede rejects the unposted replies of a comment. A reply posted in
// the meantime is left alone.
func (s *Service) supersede(key domain.CommentKey) error {
	earlier, err := s.store.ListReplies(storage.ReplyFilter{
		Statuses:  []domain.ReplyStatus{domain.ReplyPending, domain.ReplyApproved, domain.ReplyAutoApproved},
		Platform:  key.Platform,
		CommentID: key.CommentID,
	})
	if err != nil {
		return fmt.Errorf("listing replies for %s: %w", key, err)
	}
	for _, r := range earlier {
		err := s.store.UpdateReplyStatus(r.ID, domain.ReplyRejected)
		if errors.Is(err, storage.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return fmt.Errorf("rejecting reply %s: %w", r.ID, err)
		}
		s.logger.Info("reply superseded by owner reply", "reply_id", r.ID, "comment", key)
		s.hub.Publish(events.ReplyStatus, events.ReplyStatusChange{
			ReplyID:   r.ID,
			Platform:  r.Platform,
			CommentID: r.CommentID,
			Status:    domain.ReplyRejected,
		})
	}
	return nil
}

// Approve marks a reply approved for posting.
func (s *Service) Approve(replyID string) (domain.Reply, error) {
	return s.decide(replyID, domain.ReplyApproved)
}

// Reject marks a reply rejected. It will never be posted.
func (s *Service) Reject(replyID string) (domain.Reply, error) {
	return s.decide(replyID, domain.ReplyRejected)
}

func (s *Service) decide(replyID string, to domain.ReplyStatus) (domain.Reply, error) {
	if replyID == "" {
		return domain.Reply{}, fmt.Errorf("%w: reply id is required", ErrInvalidInput)
	}
	if err := s.store.UpdateReplyStatus(replyID, to); err != nil {
		return domain.Reply{}, fmt.Errorf("updating reply %s: %w", replyID, err)
	}
	r, err := s.store.GetReply(replyID)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("loading reply %s: %w", replyID, err)
	}
	s.logger.Info("reply decided", "reply_id", replyID, "status", to)
	s.hub.Publish(events.ReplyStatus, events.ReplyStatusChange{
		ReplyID:   r.ID,
		Platform:  r.Platform,
		CommentID: r.CommentID,
		Status:    r.Status,
	})
	return r, nil
}

// BulkResult is the outcome for one id in BulkApprove.
type BulkResult struct {
	ID     string             `json:"id"`
	Status domain.ReplyStatus `json:"status,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// BulkApprove approves each id independently.
func (s *Service) BulkApprove(ids []string) []BulkResult {
	out := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		res := BulkResult{ID: id}
		r, err := s.Approve(id)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Status = r.Status
		}
		out = append(out, res)
	}
	return out
}

// SetOwnerActivity switches between autonomous and manual mode. The next
// fetch cycle picks the value up.
func (s *Service) SetOwnerActivity(active bool) error {
	if err := s.store.SetOwnerActivity(active); err != nil {
		return fmt.Errorf("saving owner activity: %w", err)
	}
	s.logger.Info("owner activity changed", "active", active)
	s.hub.Publish(events.OwnerActivity, map[string]bool{"active": active})
	return nil
}

// OwnerActivity returns the current flag.
func (s *Service) OwnerActivity() (bool, error) {
	active, err := s.store.GetOwnerActivity()
	if err != nil {
		return false, fmt.Errorf("reading owner activity: %w", err)
	}
	return active, nil
}

// Reprocess runs the pipeline again for a stored comment that never got a
// reply.
func (s *Service) Reprocess(ctx context.Context, p domain.Platform, commentID string) (pipeline.Outcome, error) {
	key := domain.CommentKey{Platform: p, CommentID: commentID}
	c, err := s.store.GetComment(key)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("loading comment %s: %w", key, err)
	}
	replied, err := s.store.HasReply(key)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("checking replies for %s: %w", key, err)
	}
	if replied {
		return pipeline.Outcome{}, fmt.Errorf("%s: %w", key, ErrAlreadyReplied)
	}
	active, err := s.OwnerActivity()
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return s.proc.Process(ctx, c, pipeline.Mode{OwnerActive: active})
}

// Stats is the dashboard summary.
type Stats struct {
	OwnerActive bool                      `json:"owner_active"`
	Replies     map[string]int            `json:"replies"`
	Comments    map[string]int            `json:"comments"`
	Escalations map[string]int            `json:"escalations"`
	Platforms   []scheduler.PlatformState `json:"platforms"`
}

// Stats returns reply and comment counts plus platform loop state.
func (s *Service) Stats() (Stats, error) {
	var st Stats
	var err error
	if st.OwnerActive, err = s.OwnerActivity(); err != nil {
		return st, err
	}
	if st.Replies, err = s.store.ReplyCounts(); err != nil {
		return st, fmt.Errorf("counting replies: %w", err)
	}
	if st.Comments, err = s.store.CountComments(); err != nil {
		return st, fmt.Errorf("counting comments: %w", err)
	}
	if st.Escalations, err = s.store.CountJobs(crm.JobType); err != nil {
		return st, fmt.Errorf("counting escalations: %w", err)
	}
	st.Platforms = []scheduler.PlatformState{}
	if s.states != nil {
		st.Platforms = s.states.States()
	}
	return st, nil
}
