package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultJobAttempts = 3

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, COALESCE(last_error, '')`

// EnqueueJob adds a pending job. ID defaults to a UUID, MaxAttempts to 3
// and RunAfter to now.
func (s *Store) EnqueueJob(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = defaultJobAttempts
	}
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	_, err := s.db.Exec(`INSERT INTO jobs (id, type, payload_json, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, job.MaxAttempts, formatTime(job.RunAfter), formatTime(now), formatTime(now))
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// ClaimNextJob atomically moves the earliest due pending job of one of
// types to running and returns it, or nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := nowString()
	args := []any{now, now}
	for _, t := range types {
		args = append(args, t)
	}
	row := s.db.QueryRow(`UPDATE jobs SET status = 'running', updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= ? AND type IN (?`+strings.Repeat(", ?", len(types)-1)+`)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING `+jobColumns, args...)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, nowString(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailJob records a failed attempt. Until max_attempts is used up the job
// returns to pending with a 2^attempts second delay; after that it is
// parked as failed.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var attempts, limit int
		err := tx.QueryRow(`SELECT attempts + 1, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &limit)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now()
		status, runAfter := "pending", now.Add(time.Second<<attempts)
		if attempts >= limit {
			status, runAfter = "failed", now
		}
		_, err = tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			status, attempts, errMsg, formatTime(runAfter), formatTime(now), id)
		return err
	})
}

// requeueRunningJobs moves jobs claimed by a process that exited before
// finishing them back to pending. Only one process opens the database, so
// at Open nothing can legitimately be running.
func (s *Store) requeueRunningJobs() error {
	_, err := s.db.Exec(`UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`, nowString())
	return err
}

// CountJobs returns the number of jobs of one type per status.
func (s *Store) CountJobs(jobType string) (map[string]int, error) {
	return s.countBy(`SELECT status, COUNT(*) FROM jobs WHERE type = ? GROUP BY status`, jobType)
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var runAfter, created, updated string
	if err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &created, &updated, &j.LastError); err != nil {
		return nil, err
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		raw string
	}{{&j.RunAfter, runAfter}, {&j.CreatedAt, created}, {&j.UpdatedAt, updated}} {
		if *f.dst, err = parseTime(f.raw); err != nil {
			return nil, err
		}
	}
	return &j, nil
}
