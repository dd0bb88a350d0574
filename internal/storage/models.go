package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a reply status change would move
// the reply backwards or sideways in its lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Draft is a generated piece of long-form content kept for the owner to review.
type Draft struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Topic       string    `json:"topic,omitempty"`
	Series      string    `json:"series,omitempty"`
	DayNumber   int       `json:"day_number,omitempty"`
	SeriesTitle string    `json:"series_title,omitempty"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
