// Package store owns the SQLite database backing the message raw
// stores, the tombstone registry, contacts and the send outbox.
//
// The four raw stores (inbound, outbound, auto-response, campaign)
// share one column shape and are read together through the
// raw_messages UNION ALL view; writes always target a single table.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the app-owned smsdesk.db.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and recommended
// pragmas, and verifies it with a ping.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
