package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/pipeline"
	"github.com/kalambet/replyd/internal/storage"
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	Delivered    int  `json:"delivered"`
	AutoApproved int  `json:"auto_approved"`
	Failed       int  `json:"failed"`
	OwnerActive  bool `json:"owner_active"`
}

// Sweep posts approved replies that have not gone out yet and, while the
// owner is away, auto-approves pending replies that pass the policy gate.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var rep SweepReport

	ready, err := s.store.ListReplies(storage.ReplyFilter{
		Statuses:        []domain.ReplyStatus{domain.ReplyApproved, domain.ReplyAutoApproved},
		Limit:           s.cfg.SweepLimit,
		OldestFirst:     true,
		MaxPostAttempts: s.cfg.MaxPostAttempts,
	})
	if err != nil {
		return rep, fmt.Errorf("listing approved replies: %w", err)
	}
	for _, r := range ready {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if s.post(ctx, r) {
			rep.Delivered++
		} else {
			rep.Failed++
		}
	}

	ownerActive, err := s.store.GetOwnerActivity()
	if err != nil {
		return rep, fmt.Errorf("reading owner activity: %w", err)
	}
	rep.OwnerActive = ownerActive
	if ownerActive {
		return rep, nil
	}

	pending, err := s.store.GetPendingReplies(s.cfg.SweepLimit)
	if err != nil {
		return rep, fmt.Errorf("listing pending replies: %w", err)
	}
	for _, r := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if !s.policy.CanAutoApprove(r) {
			continue
		}
		if err := s.store.UpdateReplyStatus(r.ID, domain.ReplyAutoApproved); err != nil {
			if errors.Is(err, storage.ErrInvalidTransition) {
				// Decided by an operator since it was listed.
				continue
			}
			return rep, fmt.Errorf("auto-approving reply %s: %w", r.ID, err)
		}
		r.Status = domain.ReplyAutoApproved
		rep.AutoApproved++
		s.hub.Publish(events.ReplyStatus, events.ReplyStatusChange{
			ReplyID:   r.ID,
			Platform:  r.Platform,
			CommentID: r.CommentID,
			Status:    r.Status,
		})
		if s.post(ctx, r) {
			rep.Delivered++
		} else {
			rep.Failed++
		}
	}

	if rep.Delivered+rep.AutoApproved+rep.Failed > 0 {
		s.logger.Info("sweep complete", "delivered", rep.Delivered, "auto_approved", rep.AutoApproved, "failed", rep.Failed)
	}
	return rep, nil
}

func (s *Scheduler) post(ctx context.Context, r domain.Reply) bool {
	got, err := s.proc.Post(ctx, r)
	if err == nil {
		return true
	}
	var pe *pipeline.PersistError
	switch {
	case errors.Is(err, pipeline.ErrInFlight):
		s.logger.Debug("reply already being posted", "reply_id", r.ID)
	case errors.As(err, &pe):
		s.logger.Error("recording post result failed", "reply_id", r.ID, "error", err)
	case got.PostAttempts >= s.cfg.MaxPostAttempts:
		s.logger.Error("giving up on reply after repeated post failures",
			"reply_id", r.ID, "platform", r.Platform, "attempts", got.PostAttempts, "error", got.LastError)
	}
	return false
}
