package store

import "time"

// QueueOutbox adds an outgoing send to the outbox. The sender will
// record a fresh outbound row for it when it drains.
func (db *DB) QueueOutbox(clientMsgID, phone, body string) error {
	return db.queueOutbox(clientMsgID, phone, body, "", 0)
}

// QueueOutboxFor adds an outgoing send whose raw row already exists.
// The sender settles that row's status and provider id rather than
// inserting a second copy of the message.
func (db *DB) QueueOutboxFor(clientMsgID, phone, body string, origin Source, originID int64) error {
	return db.queueOutbox(clientMsgID, phone, body, origin, originID)
}

func (db *DB) queueOutbox(clientMsgID, phone, body string, origin Source, originID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, phone, body, status, origin_source, origin_id, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?, ?, ?)`,
		clientMsgID, phone, body, string(origin), originID, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending'.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the provider
// message id assigned by the remote API.
func (db *DB) MarkOutboxSent(clientMsgID, providerMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', provider_message_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		providerMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns queued entries oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, phone, body, status, error_message, provider_message_id, origin_source, origin_id
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var origin string
		if err := rows.Scan(&e.ID, &e.ClientMessageID, &e.Phone, &e.Body, &e.Status, &e.ErrorMessage, &e.ProviderMessageID, &origin, &e.OriginID); err != nil {
			return nil, err
		}
		e.OriginSource = Source(origin)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
