package store

import (
	"database/sql"
	"time"
)

// RecordTombstone permanently registers a deleted provider message id.
// Idempotent: re-recording an existing id is a no-op.
func (db *DB) RecordTombstone(providerID string) error {
	if providerID == "" {
		return nil
	}
	_, err := db.Exec(`
		INSERT INTO tombstones (provider_message_id, created_at)
		VALUES (?, ?)
		ON CONFLICT(provider_message_id) DO NOTHING`,
		providerID, time.Now().UnixMilli())
	return err
}

// IsTombstoned reports whether a provider message id was deleted
// locally. Sync must skip such ids forever.
func (db *DB) IsTombstoned(providerID string) (bool, error) {
	if providerID == "" {
		return false, nil
	}
	var one int
	err := db.QueryRow(`SELECT 1 FROM tombstones WHERE provider_message_id = ?`, providerID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
