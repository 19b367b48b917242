package store

import (
	"database/sql"
	"time"
)

// CreateContact inserts a contact and fills in its id.
func (db *DB) CreateContact(c *Contact) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	res, err := db.Exec(`
		INSERT INTO contacts (name, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		c.Name, c.Phone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateContact rewrites a contact's name and phone.
func (db *DB) UpdateContact(c *Contact) error {
	c.UpdatedAt = time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET name = ?, phone = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Phone, c.UpdatedAt, c.ID)
	return err
}

// GetContact returns a contact by id, or nil.
func (db *DB) GetContact(id int64) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, name, phone, created_at, updated_at FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts ordered by name. The inbox
// projection loads this once per pass for display-name resolution.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT id, name, phone, created_at, updated_at FROM contacts ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact by id.
func (db *DB) DeleteContact(id int64) error {
	_, err := db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	return err
}

// ContactCount returns the number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
