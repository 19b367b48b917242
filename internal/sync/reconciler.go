// Package sync ingests remote provider messages into the raw stores.
//
// Webhook pushes and pull-syncs both funnel through the same
// find-by-provider-id-or-insert path, so a webhook racing a pull for
// the same message converges on one row instead of duplicating it.
package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/conversation"
	"github.com/smsdesk/smsdesk/internal/provider"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// Item is one remote record plus any hints known locally at the call
// site (the webhook handler, for instance, may already know the
// conversation).
type Item struct {
	provider.Message
	ConversationID string
}

// Result summarizes one ingestion batch. Per-message failures land in
// Errors; they never abort the rest of the batch.
type Result struct {
	Checked  int      `json:"checked"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// Reconciler idempotently merges remote messages into local storage.
type Reconciler struct {
	db       *store.DB
	resolver *conversation.Resolver
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(db *store.DB, resolver *conversation.Resolver, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:       db,
		resolver: resolver,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// IngestBatch processes a batch of remote messages. Running the same
// batch twice yields zero additional rows the second time.
func (r *Reconciler) IngestBatch(items []Item) Result {
	var res Result
	for i := range items {
		res.Checked++
		imported, err := r.ingestOne(&items[i])
		if err != nil {
			r.logger.Warn("message ingest failed",
				zap.String("provider_message_id", items[i].SID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", items[i].SID, err))
			continue
		}
		if imported {
			res.Imported++
		}
	}
	return res
}

func (r *Reconciler) ingestOne(item *Item) (bool, error) {
	// A locally deleted message must never come back, on any pass.
	tombstoned, err := r.db.IsTombstoned(item.SID)
	if err != nil {
		return false, fmt.Errorf("tombstone check: %w", err)
	}
	if tombstoned {
		return false, nil
	}

	source := store.SourceInbound
	direction := store.DirectionInbound
	if item.Direction == provider.DirectionOutbound {
		source = store.SourceOutbound
		direction = store.DirectionOutbound
	}

	existing, err := r.findExisting(source, item)
	if err != nil {
		return false, err
	}

	remoteTS := resolveTimestamp(&item.Message)

	if existing != nil {
		r.merge(existing, item, remoteTS)
		if err := r.db.UpdateRawMessage(existing); err != nil {
			return false, err
		}
		return false, nil
	}

	msg := &store.RawMessage{
		Source:            source,
		Direction:         direction,
		Phone:             item.Counterpart(),
		Body:              item.Body,
		Status:            item.Status,
		ProviderMessageID: item.SID,
		ConversationID:    item.ConversationID,
		OccurredAt:        remoteTS,
	}
	if msg.Status == "" {
		if direction == store.DirectionInbound {
			msg.Status = "received"
		} else {
			msg.Status = "sent"
		}
	}
	if msg.OccurredAt == 0 {
		// No remote timestamp parsed and no local one exists yet:
		// fall back to local receipt time.
		msg.OccurredAt = r.now().UnixMilli()
	}
	msg.ConversationID = r.resolver.Resolve(msg)

	if err := r.db.InsertRawMessage(msg); err != nil {
		// A concurrent webhook/pull may have inserted the same
		// provider id between lookup and insert; fall back to the
		// update path rather than failing the message.
		if isUniqueViolation(err) && item.SID != "" {
			raced, ferr := r.db.FindByProviderID(source, item.SID)
			if ferr == nil && raced != nil {
				r.merge(raced, item, remoteTS)
				return false, r.db.UpdateRawMessage(raced)
			}
		}
		return false, err
	}

	if r.bus != nil {
		r.bus.Publish(bus.Event{Kind: "message.ingested", Timestamp: r.now(), Payload: msg})
	}
	return true, nil
}

// findExisting locates the local row a remote record corresponds to:
// by provider id within the source table, or, for records without one,
// by conversation hint plus body.
func (r *Reconciler) findExisting(source store.Source, item *Item) (*store.RawMessage, error) {
	if item.SID != "" {
		return r.db.FindByProviderID(source, item.SID)
	}
	if item.ConversationID != "" {
		return r.db.FindByConversationAndBody(source, item.ConversationID, item.Body)
	}
	return nil, nil
}

// merge applies remote fields onto an existing row without regressing
// locally advanced state.
func (r *Reconciler) merge(existing *store.RawMessage, item *Item, remoteTS int64) {
	if item.Body != "" {
		existing.Body = item.Body
	}
	if p := item.Counterpart(); p != "" {
		existing.Phone = p
	}
	// A message the operator already read stays read no matter what
	// status the provider re-delivers.
	if item.Status != "" && !existing.IsRead && existing.Status != store.StatusRead {
		existing.Status = item.Status
	}
	if existing.ConversationID == "" {
		if item.ConversationID != "" {
			existing.ConversationID = item.ConversationID
		} else {
			existing.ConversationID = r.resolver.Resolve(existing)
		}
	}
	// Never overwrite an existing local timestamp with an absent
	// remote one.
	if remoteTS != 0 {
		existing.OccurredAt = remoteTS
	}
}

// resolveTimestamp picks the provider time for a message: sent, then
// created, then updated. Zero means nothing parseable was reported.
func resolveTimestamp(m *provider.Message) int64 {
	for _, t := range []time.Time{m.DateSent, m.DateCreated, m.DateUpdated} {
		if !t.IsZero() {
			return t.UnixMilli()
		}
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdateCheckpoint records a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := r.now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}
