package inbox

import (
	"fmt"
	"time"

	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/phone"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// DeletionCoordinator removes messages and whole conversations. Every
// provider-identified row is tombstoned before its delete commits, so
// a later pull-sync cannot resurrect it.
type DeletionCoordinator struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewDeletionCoordinator creates a coordinator. The bus may be nil in
// tests.
func NewDeletionCoordinator(db *store.DB, b *bus.Bus, logger *zap.Logger) *DeletionCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeletionCoordinator{db: db, bus: b, logger: logger}
}

// DeleteMessage deletes one message. Deleting an already-deleted
// message is a no-op, not an error.
func (d *DeletionCoordinator) DeleteMessage(source store.Source, id int64) error {
	row, err := d.db.GetRawMessage(source, id)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if err := d.deleteRow(row); err != nil {
		return err
	}
	d.publish()
	return nil
}

// DeleteConversation deletes every message of the group identified by
// key, across all phone formats and all four sources. Deletion is
// per-row: a failure on one row is collected and the rest proceed.
// Returns the number of rows deleted plus any per-row errors.
func (d *DeletionCoordinator) DeleteConversation(key string) (int, []string, error) {
	variants := phone.Variants(key)
	if len(variants) == 0 {
		return 0, nil, nil
	}
	rows, err := d.db.ListByPhoneVariants(variants)
	if err != nil {
		return 0, nil, err
	}
	deleted, errs := d.deleteRows(rows)
	if deleted > 0 {
		d.publish()
	}
	return deleted, errs, nil
}

// DeleteConversationByAnchor deletes the conversation containing the
// given message. When the anchor's phone yields no usable group key,
// the group is recovered through its conversation id instead, so
// unresolvable threads can still be deleted whole.
func (d *DeletionCoordinator) DeleteConversationByAnchor(source store.Source, id int64) (int, []string, error) {
	row, err := d.db.GetRawMessage(source, id)
	if err != nil {
		return 0, nil, err
	}
	if row == nil {
		return 0, nil, nil
	}
	if variants := phone.Variants(row.Phone); len(variants) > 0 {
		return d.DeleteConversation(row.Phone)
	}

	var rows []store.RawMessage
	if row.ConversationID != "" {
		rows, err = d.db.ListByConversationID(row.ConversationID)
		if err != nil {
			return 0, nil, err
		}
	} else {
		rows = []store.RawMessage{*row}
	}
	deleted, errs := d.deleteRows(rows)
	if deleted > 0 {
		d.publish()
	}
	return deleted, errs, nil
}

func (d *DeletionCoordinator) deleteRows(rows []store.RawMessage) (int, []string) {
	var deleted int
	var errs []string
	for i := range rows {
		if err := d.deleteRow(&rows[i]); err != nil {
			errs = append(errs, fmt.Sprintf("%s/%d: %v", rows[i].Source, rows[i].ID, err))
			continue
		}
		deleted++
	}
	return deleted, errs
}

// deleteRow tombstones first, then deletes. If the delete fails the
// stray tombstone is harmless: it only suppresses re-import of a
// message the operator already asked to remove.
func (d *DeletionCoordinator) deleteRow(row *store.RawMessage) error {
	if row.ProviderMessageID != "" {
		if err := d.db.RecordTombstone(row.ProviderMessageID); err != nil {
			return fmt.Errorf("record tombstone: %w", err)
		}
	}
	if err := d.db.DeleteRawMessage(row.Source, row.ID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	d.logger.Debug("message deleted",
		zap.String("source", string(row.Source)),
		zap.Int64("id", row.ID),
		zap.String("provider_message_id", row.ProviderMessageID))
	return nil
}

func (d *DeletionCoordinator) publish() {
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: "inbox.updated", Timestamp: time.Now()})
	}
}
