package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/replyd/internal/storage"
)

// JobType is the queue type for escalations.
const JobType = "crm_escalate"

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) (string, error)
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Enqueue schedules an escalation. Escalations without workflows are not
// queued and return an empty job id.
func Enqueue(store Enqueuer, esc Escalation) (string, error) {
	if len(esc.Workflows) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(esc)
	if err != nil {
		return "", fmt.Errorf("encoding escalation: %w", err)
	}
	id, err := store.EnqueueJob(storage.Job{Type: JobType, PayloadJSON: string(payload)})
	if err != nil {
		return "", fmt.Errorf("enqueueing escalation: %w", err)
	}
	return id, nil
}

// Worker drains crm_escalate jobs from the SQLite queue. A failed
// escalation goes back to the queue with backoff; see storage.FailJob.
type Worker struct {
	store     JobStore
	escalator *Escalator
	poll      time.Duration
	log       *slog.Logger
}

// NewWorker returns a Worker polling every poll (500ms when <= 0).
func NewWorker(store JobStore, escalator *Escalator, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Worker{store: store, escalator: escalator, poll: poll, log: slog.Default().With("component", "crm")}
}

// Run works through every due job, sleeps for the poll interval and
// repeats until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	wake := time.NewTimer(0)
	defer wake.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake.C:
		}
		for ctx.Err() == nil {
			worked, err := w.RunOnce(ctx)
			if err != nil {
				w.log.Error("queue", "error", err)
			}
			if !worked || err != nil {
				break
			}
		}
		wake.Reset(w.poll)
	}
}

// RunOnce claims one due job and settles it. worked is false when the
// queue had nothing due.
func (w *Worker) RunOnce(ctx context.Context) (worked bool, err error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil || job == nil {
		return false, err
	}

	if escErr := w.escalate(ctx, job); escErr != nil {
		w.log.Warn("escalation failed", "job_id", job.ID, "attempt", job.Attempts+1, "of", job.MaxAttempts, "error", escErr)
		if err := w.store.FailJob(job.ID, escErr.Error()); err != nil {
			return true, fmt.Errorf("recording failure of job %s: %w", job.ID, err)
		}
		return true, nil
	}
	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) escalate(ctx context.Context, job *storage.Job) error {
	var esc Escalation
	if err := json.Unmarshal([]byte(job.PayloadJSON), &esc); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	res := w.escalator.Escalate(ctx, esc)
	if res.Err != nil {
		return res.Err
	}
	if !res.Skipped {
		w.log.Info("escalated", "platform", esc.Platform, "comment_id", esc.CommentID,
			"contact_id", res.ContactID, "workflows", len(res.Workflows))
	}
	return nil
}
