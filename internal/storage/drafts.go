package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveDraft stores generated content and returns it with ID and timestamp filled in.
func (s *Store) SaveDraft(d Draft) (Draft, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = "draft"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO content_drafts (id, type, topic, series, day_number, series_title, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Type, d.Topic, d.Series, d.DayNumber, d.SeriesTitle, d.Content, d.Status, formatTime(d.CreatedAt),
	)
	if err != nil {
		return Draft{}, err
	}
	return d, nil
}

// ListDrafts returns drafts newest first, optionally restricted to one content type.
func (s *Store) ListDrafts(contentType string, limit int) ([]Draft, error) {
	query := `SELECT id, type, topic, series, day_number, series_title, content, status, created_at FROM content_drafts`
	var args []interface{}
	if contentType != "" {
		query += ` WHERE type = ?`
		args = append(args, contentType)
	}
	query += ` ORDER BY created_at DESC, day_number DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Draft
	for rows.Next() {
		var d Draft
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Type, &d.Topic, &d.Series, &d.DayNumber, &d.SeriesTitle, &d.Content, &d.Status, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}
