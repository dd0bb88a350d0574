package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/kalambet/replyd/internal/domain"
)

const ownerActiveKey = "owner_active"

// GetOwnerActivity reports the owner activity flag. An unset flag means inactive.
func (s *Store) GetOwnerActivity() (bool, error) {
	v, err := s.GetSetting(ownerActiveKey)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	active, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", ownerActiveKey, err)
	}
	return active, nil
}

// SetOwnerActivity persists the owner activity flag.
func (s *Store) SetOwnerActivity(active bool) error {
	return s.SetSetting(ownerActiveKey, strconv.FormatBool(active))
}

// GetWatermark returns the stored watermark for p. ok is false when none exists.
func (s *Store) GetWatermark(p domain.Platform) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT watermark FROM watermarks WHERE platform = ?", string(p)).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing watermark for %s: %w", p, err)
	}
	return t, true, nil
}

// SetWatermark stores t for p unless the stored watermark is already later.
func (s *Store) SetWatermark(p domain.Platform, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO watermarks (platform, watermark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(platform) DO UPDATE SET watermark = excluded.watermark, updated_at = excluded.updated_at
		WHERE excluded.watermark > watermarks.watermark`,
		string(p), formatTime(t), nowString(),
	)
	return err
}

// Watermarks returns every stored watermark keyed by platform.
func (s *Store) Watermarks() (map[domain.Platform]time.Time, error) {
	rows, err := s.db.Query("SELECT platform, watermark FROM watermarks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Platform]time.Time)
	for rows.Next() {
		var p, raw string
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, err
		}
		t, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing watermark for %s: %w", p, err)
		}
		out[domain.Platform(p)] = t
	}
	return out, rows.Err()
}
