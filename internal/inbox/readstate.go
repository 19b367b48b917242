package inbox

import (
	"time"

	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/phone"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// ReadStateTracker applies read receipts. Marking is conversation
// scoped: opening a thread clears every unread inbound row in the
// group, across all phone formats the counterpart has appeared under.
type ReadStateTracker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewReadStateTracker creates a tracker. The bus may be nil in tests.
func NewReadStateTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) *ReadStateTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadStateTracker{db: db, bus: b, logger: logger, now: time.Now}
}

// MarkConversationRead marks every unread inbound message of the group
// as read and returns how many rows changed. Already-read rows are
// untouched, so repeated calls are no-ops.
func (t *ReadStateTracker) MarkConversationRead(key string) (int64, error) {
	variants := phone.Variants(key)
	if len(variants) == 0 {
		return 0, nil
	}
	n, err := t.db.MarkReadByPhoneVariants(variants, t.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Debug("conversation marked read",
			zap.String("key", key),
			zap.Int64("rows", n))
		t.publish()
	}
	return n, nil
}

// MarkMessageRead marks the conversation containing the given message
// as read. When the row's phone yields no usable group key, only the
// row itself is updated.
func (t *ReadStateTracker) MarkMessageRead(source store.Source, id int64) (int64, error) {
	row, err := t.db.GetRawMessage(source, id)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	if variants := phone.Variants(row.Phone); len(variants) > 0 {
		return t.MarkConversationRead(row.Phone)
	}
	n, err := t.db.MarkReadOne(source, id, t.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.publish()
	}
	return n, nil
}

func (t *ReadStateTracker) publish() {
	if t.bus != nil {
		t.bus.Publish(bus.Event{Kind: "inbox.updated", Timestamp: t.now()})
	}
}
