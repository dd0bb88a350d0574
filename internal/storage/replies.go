package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/replyd/internal/domain"
)

const replyColumns = `id, platform, comment_id, text, triggers_json, needs_approval, status, source, category,
	confidence, external_id, last_error, post_attempts, created_at, updated_at, posted_at`

// InsertReply persists a new reply and returns it with its assigned ID and timestamps.
func (s *Store) InsertReply(r domain.Reply) (domain.Reply, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = domain.ReplyPending
	}
	if r.Source == "" {
		r.Source = domain.SourceAI
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	triggers, err := json.Marshal(r.Triggers)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("encoding triggers: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO replies (`+replyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, ?, ?, NULL)`,
		r.ID, string(r.Platform), r.CommentID, r.Text, string(triggers), boolToInt(r.NeedsApproval),
		string(r.Status), string(r.Source), string(r.Category), r.Confidence, formatTime(now), formatTime(now))
	if err != nil {
		return domain.Reply{}, fmt.Errorf("inserting reply for %s: %w", r.CommentKey(), err)
	}
	return r, nil
}

// GetReply loads a reply by ID.
func (s *Store) GetReply(id string) (domain.Reply, error) {
	r, err := scanReply(s.db.QueryRow(`SELECT `+replyColumns+` FROM replies WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return domain.Reply{}, ErrNotFound
	}
	return r, err
}

// LatestReplyForComment returns the most recently created reply for a comment.
func (s *Store) LatestReplyForComment(key domain.CommentKey) (domain.Reply, error) {
	r, err := scanReply(s.db.QueryRow(`SELECT `+replyColumns+` FROM replies
		WHERE platform = ? AND comment_id = ? ORDER BY created_at DESC LIMIT 1`,
		string(key.Platform), key.CommentID))
	if err == sql.ErrNoRows {
		return domain.Reply{}, ErrNotFound
	}
	return r, err
}

// HasReply reports whether any reply has been generated for the comment.
func (s *Store) HasReply(key domain.CommentKey) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM replies WHERE platform = ? AND comment_id = ?`,
		string(key.Platform), key.CommentID).Scan(&n)
	return n > 0, err
}

// UpdateReplyStatus moves a reply to status to. Only forward transitions are
// accepted; anything else yields ErrInvalidTransition.
func (s *Store) UpdateReplyStatus(id string, to domain.ReplyStatus) error {
	return s.transition(id, to, "", nil)
}

// MarkReplyPosted records a successful publish.
func (s *Store) MarkReplyPosted(id, externalID string, at time.Time) error {
	return s.transition(id, domain.ReplyPosted, externalID, &at)
}

func (s *Store) transition(id string, to domain.ReplyStatus, externalID string, postedAt *time.Time) error {
	from := domain.PredecessorsOf(to)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", ErrInvalidTransition, to)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")

	query := `UPDATE replies SET status = ?, updated_at = ?`
	args := []interface{}{string(to), nowString()}
	if postedAt != nil {
		query += `, external_id = ?, posted_at = ?, last_error = ''`
		args = append(args, externalID, formatTime(*postedAt))
	}
	query += ` WHERE id = ? AND status IN (` + placeholders + `)`
	args = append(args, id)
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetReply(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

// RecordPostError keeps the latest publish failure on the reply and counts
// the attempt without changing its status, so the next sweep retries it.
func (s *Store) RecordPostError(id, msg string) error {
	res, err := s.db.Exec(`UPDATE replies SET last_error = ?, post_attempts = post_attempts + 1, updated_at = ? WHERE id = ?`,
		msg, nowString(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReplyFilter narrows ListReplies. OldestFirst flips the default newest-first order.
// A positive MaxPostAttempts drops replies that have failed to post that many
// times and lists the least-tried replies first.
type ReplyFilter struct {
	Statuses        []domain.ReplyStatus
	Platform        domain.Platform
	CommentID       string
	Limit           int
	OldestFirst     bool
	MaxPostAttempts int
}

// ListReplies returns replies matching f.
func (s *Store) ListReplies(f ReplyFilter) ([]domain.Reply, error) {
	query := `SELECT ` + replyColumns + ` FROM replies WHERE 1 = 1`
	var args []interface{}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",") + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, string(f.Platform))
	}
	if f.CommentID != "" {
		query += ` AND comment_id = ?`
		args = append(args, f.CommentID)
	}
	order := ` ORDER BY `
	if f.MaxPostAttempts > 0 {
		query += ` AND post_attempts < ?`
		args = append(args, f.MaxPostAttempts)
		order += `post_attempts ASC, `
	}
	if f.OldestFirst {
		query += order + `created_at ASC`
	} else {
		query += order + `created_at DESC`
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Reply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetPendingReplies returns replies awaiting a decision, newest first.
func (s *Store) GetPendingReplies(limit int) ([]domain.Reply, error) {
	return s.ListReplies(ReplyFilter{Statuses: []domain.ReplyStatus{domain.ReplyPending}, Limit: limit})
}

// ReplyCounts returns the number of replies per status.
func (s *Store) ReplyCounts() (map[string]int, error) {
	return s.countBy(`SELECT status, COUNT(*) FROM replies GROUP BY status`)
}

func scanReply(r rowScanner) (domain.Reply, error) {
	var rep domain.Reply
	var platform, triggers, status, source, category, createdAt, updatedAt string
	var needsApproval int
	var postedAt sql.NullString
	err := r.Scan(&rep.ID, &platform, &rep.CommentID, &rep.Text, &triggers, &needsApproval, &status, &source,
		&category, &rep.Confidence, &rep.ExternalID, &rep.LastError, &rep.PostAttempts,
		&createdAt, &updatedAt, &postedAt)
	if err != nil {
		return domain.Reply{}, err
	}
	rep.Platform = domain.Platform(platform)
	rep.Status = domain.ReplyStatus(status)
	rep.Source = domain.ReplySource(source)
	rep.Category = domain.Category(category)
	rep.NeedsApproval = needsApproval != 0

	if err := json.Unmarshal([]byte(triggers), &rep.Triggers); err != nil {
		return domain.Reply{}, fmt.Errorf("decoding triggers: %w", err)
	}
	if rep.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Reply{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if rep.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Reply{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if postedAt.Valid {
		t, err := parseTime(postedAt.String)
		if err != nil {
			return domain.Reply{}, fmt.Errorf("parsing posted_at: %w", err)
		}
		rep.PostedAt = &t
	}
	return rep, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
