package storage

import (
	"database/sql"
	"errors"
)

// Settings and brand voice fields share one (key, value, updated_at) shape.
const (
	settingsTable = "settings"
	voiceTable    = "brand_voice"
)

func (s *Store) putKV(table, key, value string) error {
	_, err := s.db.Exec(`INSERT INTO `+table+` (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowString())
	return err
}

func (s *Store) getKV(table, key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM `+table+` WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Store) allKV(table string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM ` + table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetSetting upserts a runtime setting.
func (s *Store) SetSetting(key, value string) error { return s.putKV(settingsTable, key, value) }

// GetSetting returns ErrNotFound when key was never set.
func (s *Store) GetSetting(key string) (string, error) { return s.getKV(settingsTable, key) }

// SetVoiceKey upserts one brand voice field.
func (s *Store) SetVoiceKey(key, value string) error { return s.putKV(voiceTable, key, value) }

func (s *Store) GetVoiceKey(key string) (string, error) { return s.getKV(voiceTable, key) }

func (s *Store) GetAllVoiceKeys() (map[string]string, error) { return s.allKV(voiceTable) }

func (s *Store) DeleteVoiceKey(key string) error {
	_, err := s.db.Exec(`DELETE FROM brand_voice WHERE key = ?`, key)
	return err
}
