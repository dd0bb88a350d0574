package storage

import (
	"database/sql"

	"github.com/kalambet/replyd/internal/domain"
)

// ContactID returns the CRM contact previously created for a platform author.
func (s *Store) ContactID(p domain.Platform, authorID string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT contact_id FROM crm_contacts WHERE platform = ? AND external_id = ?`,
		string(p), authorID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// PutContactID remembers the CRM contact for a platform author.
func (s *Store) PutContactID(p domain.Platform, authorID, contactID string) error {
	_, err := s.db.Exec(`
		INSERT INTO crm_contacts (platform, external_id, contact_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(platform, external_id) DO UPDATE SET contact_id = excluded.contact_id, updated_at = excluded.updated_at`,
		string(p), authorID, contactID, nowString(),
	)
	return err
}
