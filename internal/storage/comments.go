package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/replyd/internal/domain"
)

const commentColumns = `platform, comment_id, text, author_name, author_id, published_at, parent_id, post_id,
	post_context, like_count, status, classification_json, sentiment_json, error_json, created_at, updated_at`

// UpsertComment stores a fetched comment. Re-fetching an existing comment
// refreshes its mutable metadata but never rewrites text or pipeline results.
// Reports whether the row was newly created.
func (s *Store) UpsertComment(c domain.Comment) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	now := nowString()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM comments WHERE platform = ? AND comment_id = ?`,
		string(c.Platform), c.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking comment %s: %w", c.Key(), err)
	}

	if exists > 0 {
		_, err = tx.Exec(`UPDATE comments SET author_name = ?, like_count = ?, post_context = ?, updated_at = ?
			WHERE platform = ? AND comment_id = ?`,
			c.AuthorName, c.LikeCount, c.PostContext, now, string(c.Platform), c.ID)
	} else {
		status := c.Status
		if status == "" {
			status = domain.CommentPending
		}
		_, err = tx.Exec(`INSERT INTO comments (`+commentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`,
			string(c.Platform), c.ID, c.Text, c.AuthorName, c.AuthorID, formatTime(c.PublishedAt),
			c.ParentID, c.PostID, c.PostContext, c.LikeCount, string(status), now, now)
	}
	if err != nil {
		return false, fmt.Errorf("writing comment %s: %w", c.Key(), err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing comment %s: %w", c.Key(), err)
	}
	return exists == 0, nil
}

// SaveCommentResult records the outcome of running a comment through the pipeline.
func (s *Store) SaveCommentResult(key domain.CommentKey, status domain.CommentStatus, cls *domain.Classification, sent *domain.Sentiment, perr *domain.ProcessingError) error {
	clsJSON, err := marshalOptional(cls)
	if err != nil {
		return fmt.Errorf("encoding classification: %w", err)
	}
	sentJSON, err := marshalOptional(sent)
	if err != nil {
		return fmt.Errorf("encoding sentiment: %w", err)
	}
	errJSON, err := marshalOptional(perr)
	if err != nil {
		return fmt.Errorf("encoding processing error: %w", err)
	}

	res, err := s.db.Exec(`UPDATE comments SET status = ?, classification_json = ?, sentiment_json = ?, error_json = ?, updated_at = ?
		WHERE platform = ? AND comment_id = ?`,
		string(status), clsJSON, sentJSON, errJSON, nowString(), string(key.Platform), key.CommentID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordCommentError stores a comment that could not be processed, keeping
// whatever fields it has. Only platform and comment ID are required.
func (s *Store) RecordCommentError(c domain.Comment, perr domain.ProcessingError) error {
	if c.Platform == "" || c.ID == "" {
		return fmt.Errorf("comment missing key: platform=%q comment_id=%q", c.Platform, c.ID)
	}
	errJSON, err := json.Marshal(perr)
	if err != nil {
		return fmt.Errorf("encoding processing error: %w", err)
	}
	published := c.PublishedAt
	if published.IsZero() {
		published = time.Now()
	}
	now := nowString()
	_, err = s.db.Exec(`INSERT INTO comments (`+commentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, ?)
		ON CONFLICT(platform, comment_id) DO UPDATE SET status = excluded.status, error_json = excluded.error_json, updated_at = excluded.updated_at`,
		string(c.Platform), c.ID, c.Text, c.AuthorName, c.AuthorID, formatTime(published),
		c.ParentID, c.PostID, c.PostContext, c.LikeCount, string(domain.CommentError), string(errJSON), now, now)
	if err != nil {
		return fmt.Errorf("recording error for %s: %w", c.Key(), err)
	}
	return nil
}

// GetComment loads a single comment by key.
func (s *Store) GetComment(key domain.CommentKey) (domain.Comment, error) {
	row := s.db.QueryRow(`SELECT `+commentColumns+` FROM comments WHERE platform = ? AND comment_id = ?`,
		string(key.Platform), key.CommentID)
	c, err := scanComment(row)
	if err == sql.ErrNoRows {
		return domain.Comment{}, ErrNotFound
	}
	return c, err
}

// CommentFilter narrows ListComments. Zero values mean no constraint.
type CommentFilter struct {
	Platform domain.Platform
	Status   domain.CommentStatus
	Since    time.Time
	Limit    int
}

// ListComments returns comments newest first.
func (s *Store) ListComments(f CommentFilter) ([]domain.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE 1 = 1`
	var args []interface{}
	if f.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, string(f.Platform))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		query += ` AND published_at >= ?`
		args = append(args, formatTime(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY published_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// CountComments returns the number of stored comments per status.
func (s *Store) CountComments() (map[string]int, error) {
	return s.countBy(`SELECT status, COUNT(*) FROM comments GROUP BY status`)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComment(r rowScanner) (domain.Comment, error) {
	var c domain.Comment
	var platform, status, publishedAt, createdAt, updatedAt string
	var clsJSON, sentJSON, errJSON string
	err := r.Scan(&platform, &c.ID, &c.Text, &c.AuthorName, &c.AuthorID, &publishedAt, &c.ParentID, &c.PostID,
		&c.PostContext, &c.LikeCount, &status, &clsJSON, &sentJSON, &errJSON, &createdAt, &updatedAt)
	if err != nil {
		return domain.Comment{}, err
	}
	c.Platform = domain.Platform(platform)
	c.Status = domain.CommentStatus(status)

	if c.PublishedAt, err = parseTime(publishedAt); err != nil {
		return domain.Comment{}, fmt.Errorf("parsing published_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Comment{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Comment{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	if clsJSON != "" {
		c.Classification = &domain.Classification{}
		if err := json.Unmarshal([]byte(clsJSON), c.Classification); err != nil {
			return domain.Comment{}, fmt.Errorf("decoding classification: %w", err)
		}
	}
	if sentJSON != "" {
		c.Sentiment = &domain.Sentiment{}
		if err := json.Unmarshal([]byte(sentJSON), c.Sentiment); err != nil {
			return domain.Comment{}, fmt.Errorf("decoding sentiment: %w", err)
		}
	}
	if errJSON != "" {
		c.Error = &domain.ProcessingError{}
		if err := json.Unmarshal([]byte(errJSON), c.Error); err != nil {
			return domain.Comment{}, fmt.Errorf("decoding processing error: %w", err)
		}
	}
	return c, nil
}

func marshalOptional[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) countBy(query string, args ...interface{}) (map[string]int, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
