package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/smsdesk/smsdesk/internal/phone"
)

// rawColumns is the shared column list of the four raw tables, in scan
// order (without the source tag).
const rawColumns = "id, direction, phone, body, status, provider_message_id, conversation_id, occurred_at, created_at, is_read, read_at, is_starred, archived_at"

// effectiveTS orders rows by provider time when known, falling back to
// local write time. Every "most recent message" query uses it.
const effectiveTS = "CASE WHEN occurred_at > 0 THEN occurred_at ELSE created_at END"

func scanRaw(scanner interface{ Scan(...any) error }, source Source) (*RawMessage, error) {
	var m RawMessage
	var pid, cid sql.NullString
	err := scanner.Scan(&m.ID, &m.Direction, &m.Phone, &m.Body, &m.Status, &pid, &cid,
		&m.OccurredAt, &m.CreatedAt, &m.IsRead, &m.ReadAt, &m.IsStarred, &m.ArchivedAt)
	if err != nil {
		return nil, err
	}
	m.Source = source
	m.ProviderMessageID = pid.String
	m.ConversationID = cid.String
	return &m, nil
}

func scanRawWithSource(scanner interface{ Scan(...any) error }) (*RawMessage, error) {
	var m RawMessage
	var src string
	var pid, cid sql.NullString
	err := scanner.Scan(&src, &m.ID, &m.Direction, &m.Phone, &m.Body, &m.Status, &pid, &cid,
		&m.OccurredAt, &m.CreatedAt, &m.IsRead, &m.ReadAt, &m.IsStarred, &m.ArchivedAt)
	if err != nil {
		return nil, err
	}
	m.Source = Source(src)
	m.ProviderMessageID = pid.String
	m.ConversationID = cid.String
	return &m, nil
}

// nullable maps "" to SQL NULL so the partial unique indexes on
// provider_message_id only apply to real provider ids.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func variantArgs(variants []string) []any {
	args := make([]any, len(variants))
	for i, v := range variants {
		args[i] = v
	}
	return args
}

// phoneMatch builds the predicate for "belongs to this number". The
// variant IN-match covers the historical storage formats; the
// phone_canonical comparison catches rows stored in any other
// formatting ("+61 412 345 678"), so mutations reach exactly the rows
// the inbox groups together.
func phoneMatch(variants []string) (string, []any) {
	clause := "phone IN (" + placeholders(len(variants)) + ")"
	args := variantArgs(variants)
	if canon := phone.Canonical(variants[0]); canon != "" {
		clause = "(" + clause + " OR phone_canonical = ?)"
		args = append(args, canon)
	}
	return clause, args
}

// InsertRawMessage inserts m into its source table and fills in m.ID.
// CreatedAt defaults to now when unset.
func (db *DB) InsertRawMessage(m *RawMessage) error {
	table, err := m.Source.Table()
	if err != nil {
		return err
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	res, err := db.Exec(fmt.Sprintf(`
		INSERT INTO %s (direction, phone, phone_canonical, body, status, provider_message_id, conversation_id, occurred_at, created_at, is_read, read_at, is_starred, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		m.Direction, m.Phone, phone.Canonical(m.Phone), m.Body, m.Status, nullable(m.ProviderMessageID), nullable(m.ConversationID),
		m.OccurredAt, m.CreatedAt, m.IsRead, m.ReadAt, m.IsStarred, m.ArchivedAt)
	if err != nil {
		return fmt.Errorf("insert %s row: %w", table, err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateRawMessage rewrites the mutable columns of an existing row.
// Callers merge fields first; the store does not decide what changed.
func (db *DB) UpdateRawMessage(m *RawMessage) error {
	table, err := m.Source.Table()
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`
		UPDATE %s SET phone = ?, phone_canonical = ?, body = ?, status = ?, conversation_id = ?, occurred_at = ?,
			is_read = ?, read_at = ?, is_starred = ?, archived_at = ?
		WHERE id = ?`, table),
		m.Phone, phone.Canonical(m.Phone), m.Body, m.Status, nullable(m.ConversationID), m.OccurredAt,
		m.IsRead, m.ReadAt, m.IsStarred, m.ArchivedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", table, m.ID, err)
	}
	return nil
}

// SetProviderMessageID stamps the provider-assigned id on a row that
// was written before the provider acknowledged it. Later pulls then
// dedupe against this row instead of importing a twin.
func (db *DB) SetProviderMessageID(source Source, id int64, providerID string) error {
	table, err := source.Table()
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`UPDATE %s SET provider_message_id = ? WHERE id = ?`, table),
		nullable(providerID), id)
	return err
}

// GetRawMessage returns a single row by source and id, or nil.
func (db *DB) GetRawMessage(source Source, id int64) (*RawMessage, error) {
	table, err := source.Table()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, rawColumns, table), id)
	m, err := scanRaw(row, source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindByProviderID returns the row carrying the provider id within a
// single source table, or nil.
func (db *DB) FindByProviderID(source Source, providerID string) (*RawMessage, error) {
	if providerID == "" {
		return nil, nil
	}
	table, err := source.Table()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM %s WHERE provider_message_id = ?`, rawColumns, table), providerID)
	m, err := scanRaw(row, source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindAnyByProviderID searches all four sources for a provider id,
// returning the first match in fixed source order, or nil.
func (db *DB) FindAnyByProviderID(providerID string) (*RawMessage, error) {
	if providerID == "" {
		return nil, nil
	}
	row := db.QueryRow(`
		SELECT source, `+rawColumns+` FROM raw_messages
		WHERE provider_message_id = ?
		ORDER BY CASE source
			WHEN 'inbound' THEN 0 WHEN 'outbound' THEN 1
			WHEN 'auto_response' THEN 2 ELSE 3 END
		LIMIT 1`, providerID)
	m, err := scanRawWithSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindByConversationAndBody returns the newest row in a source with
// the given conversation id and body. Used as the identity fallback
// when a remote record carries no provider id.
func (db *DB) FindByConversationAndBody(source Source, conversationID, body string) (*RawMessage, error) {
	if conversationID == "" {
		return nil, nil
	}
	table, err := source.Table()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE conversation_id = ? AND body = ?
		ORDER BY %s DESC LIMIT 1`, rawColumns, table, effectiveTS),
		conversationID, body)
	m, err := scanRaw(row, source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// LatestByPhoneVariants returns the most recent row across all sources
// whose stored phone matches any variant, or nil. An empty variant set
// matches nothing.
func (db *DB) LatestByPhoneVariants(variants []string) (*RawMessage, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	pred, args := phoneMatch(variants)
	row := db.QueryRow(`
		SELECT source, `+rawColumns+` FROM raw_messages
		WHERE `+pred+`
		ORDER BY `+effectiveTS+` DESC, id DESC
		LIMIT 1`, args...)
	m, err := scanRawWithSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListByPhoneVariants returns every row across all sources whose phone
// matches a variant, ordered by effective timestamp ascending.
func (db *DB) ListByPhoneVariants(variants []string) ([]RawMessage, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	pred, args := phoneMatch(variants)
	rows, err := db.Query(`
		SELECT source, `+rawColumns+` FROM raw_messages
		WHERE `+pred+`
		ORDER BY `+effectiveTS+` ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	return collectRaw(rows)
}

// ListByConversationID returns every row across all sources carrying
// the conversation id, ordered by effective timestamp ascending.
func (db *DB) ListByConversationID(conversationID string) ([]RawMessage, error) {
	if conversationID == "" {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT source, `+rawColumns+` FROM raw_messages
		WHERE conversation_id = ?
		ORDER BY `+effectiveTS+` ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectRaw(rows)
}

// ListRawMessages returns all rows from all four sources. The inbox
// projection consumes this snapshot in one pass.
func (db *DB) ListRawMessages() ([]RawMessage, error) {
	rows, err := db.Query(`SELECT source, ` + rawColumns + ` FROM raw_messages ORDER BY ` + effectiveTS + ` ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return collectRaw(rows)
}

func collectRaw(rows *sql.Rows) ([]RawMessage, error) {
	defer func() { _ = rows.Close() }()
	var out []RawMessage
	for rows.Next() {
		m, err := scanRawWithSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetConversationID backfills a missing conversation id on a row.
func (db *DB) SetConversationID(source Source, id int64, conversationID string) error {
	table, err := source.Table()
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`UPDATE %s SET conversation_id = ? WHERE id = ?`, table),
		nullable(conversationID), id)
	return err
}

// MarkReadByPhoneVariants marks every unread inbound-direction row
// matching the variant set as read, in one statement per source.
// Returns the total number of rows transitioned; repeat calls are
// no-ops.
func (db *DB) MarkReadByPhoneVariants(variants []string, now int64) (int64, error) {
	if len(variants) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pred, pargs := phoneMatch(variants)
	var total int64
	for _, source := range Sources {
		table, err := source.Table()
		if err != nil {
			return 0, err
		}
		res, err := tx.Exec(`
			UPDATE `+table+` SET status = ?, is_read = 1, read_at = ?
			WHERE direction = ? AND status != ? AND `+pred,
			append([]any{StatusRead, now, DirectionInbound, StatusRead}, pargs...)...)
		if err != nil {
			return 0, fmt.Errorf("mark read in %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// MarkReadOne marks a single row as read regardless of its phone.
// Fallback for rows whose number is unresolvable.
func (db *DB) MarkReadOne(source Source, id int64, now int64) (int64, error) {
	table, err := source.Table()
	if err != nil {
		return 0, err
	}
	res, err := db.Exec(fmt.Sprintf(`
		UPDATE %s SET status = ?, is_read = 1, read_at = ?
		WHERE id = ? AND status != ?`, table), StatusRead, now, id, StatusRead)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ToggleStar flips a row's starred flag and returns the new value.
func (db *DB) ToggleStar(source Source, id int64) (bool, error) {
	table, err := source.Table()
	if err != nil {
		return false, err
	}
	if _, err := db.Exec(fmt.Sprintf(`UPDATE %s SET is_starred = 1 - is_starred WHERE id = ?`, table), id); err != nil {
		return false, err
	}
	var starred bool
	err = db.QueryRow(fmt.Sprintf(`SELECT is_starred FROM %s WHERE id = ?`, table), id).Scan(&starred)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%s row %d not found", table, id)
	}
	return starred, err
}

// SetArchivedByPhoneVariants sets (or clears, with archivedAt=0) the
// archived marker on every row matching the variant set.
func (db *DB) SetArchivedByPhoneVariants(variants []string, archivedAt int64) (int64, error) {
	if len(variants) == 0 {
		return 0, nil
	}
	pred, pargs := phoneMatch(variants)
	var total int64
	for _, source := range Sources {
		table, err := source.Table()
		if err != nil {
			return 0, err
		}
		res, err := db.Exec(`
			UPDATE `+table+` SET archived_at = ? WHERE `+pred,
			append([]any{archivedAt}, pargs...)...)
		if err != nil {
			return 0, fmt.Errorf("archive in %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// DeleteRawMessage hard-deletes a single row. Only the deletion
// coordinator calls this, after tombstoning the provider id.
func (db *DB) DeleteRawMessage(source Source, id int64) error {
	table, err := source.Table()
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	return err
}

// RawMessageCount returns the total row count across all four sources.
func (db *DB) RawMessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM raw_messages`).Scan(&count)
	return count, err
}
