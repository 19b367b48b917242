// Package outbox drains queued sends to the SMS provider and records
// the outcome as outbound raw messages.
package outbox

import (
	"context"
	"time"

	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/conversation"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// TextSender sends one SMS and returns the provider-assigned id.
type TextSender interface {
	SendMessage(ctx context.Context, to, body string) (providerMsgID string, err error)
}

// DefaultDrainInterval is how often the sender polls for queued work.
const DefaultDrainInterval = 500 * time.Millisecond

// Sender drains the outbox queue through a TextSender. Each queued
// entry becomes an outbound raw message: written optimistically with
// status "sending" so the thread shows it immediately, then settled to
// "sent" or "failed" once the provider answers.
type Sender struct {
	db       *store.DB
	sender   TextSender
	resolver *conversation.Resolver
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, ts TextSender, resolver *conversation.Resolver, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   ts,
		resolver: resolver,
		bus:      b,
		logger:   logger,
		interval: DefaultDrainInterval,
	}
}

// Start begins polling the outbox for queued entries.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending drains every queued entry once. Exposed so the HTTP
// surface can flush synchronously after accepting a send.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		s.sendOne(ctx, entry)
	}
}

func (s *Sender) sendOne(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMessageID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMessageID))
		return
	}

	msg, err := s.originRow(entry)
	if err != nil {
		s.logger.Error("failed to read origin row", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMessageID))
		_ = s.db.MarkOutboxFailed(entry.ClientMessageID, err.Error())
		return
	}
	if msg != nil {
		msg.Status = "sending"
		if err := s.db.UpdateRawMessage(msg); err != nil {
			s.logger.Error("failed to update origin row", zap.Error(err), zap.Int64("id", msg.ID))
		}
	} else {
		// Optimistic row: the reply shows in the thread before the
		// provider answers.
		msg = &store.RawMessage{
			Source:    store.SourceOutbound,
			Direction: store.DirectionOutbound,
			Phone:     entry.Phone,
			Body:      entry.Body,
			Status:    "sending",
		}
		msg.ConversationID = s.resolver.Resolve(msg)
		if err := s.db.InsertRawMessage(msg); err != nil {
			s.logger.Error("failed to write outbound row", zap.Error(err),
				zap.String("client_msg_id", entry.ClientMessageID))
			_ = s.db.MarkOutboxFailed(entry.ClientMessageID, err.Error())
			return
		}
	}
	s.publish("inbox.updated", map[string]string{"client_msg_id": entry.ClientMessageID})

	providerMsgID, err := s.sender.SendMessage(ctx, entry.Phone, entry.Body)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMessageID))
		_ = s.db.MarkOutboxFailed(entry.ClientMessageID, err.Error())
		msg.Status = "failed"
		_ = s.db.UpdateRawMessage(msg)
		s.publish("outbox.failed", map[string]string{
			"client_msg_id": entry.ClientMessageID,
			"error":         err.Error(),
		})
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMessageID, providerMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err),
			zap.String("client_msg_id", entry.ClientMessageID))
	}
	msg.Status = "sent"
	msg.OccurredAt = time.Now().UnixMilli()
	if err := s.db.UpdateRawMessage(msg); err != nil {
		s.logger.Error("failed to settle outbound row", zap.Error(err), zap.Int64("id", msg.ID))
	}
	if err := s.db.SetProviderMessageID(msg.Source, msg.ID, providerMsgID); err != nil {
		s.logger.Error("failed to stamp provider id", zap.Error(err), zap.Int64("id", msg.ID))
	}

	s.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMessageID),
		zap.String("provider_msg_id", providerMsgID))
	s.publish("outbox.sent", map[string]string{
		"client_msg_id":   entry.ClientMessageID,
		"provider_msg_id": providerMsgID,
	})
}

// originRow loads the raw row an entry was queued on behalf of. Nil
// means the sender should write its own outbound row, either because
// the entry carries no origin or because the row was deleted while
// queued.
func (s *Sender) originRow(entry store.OutboxEntry) (*store.RawMessage, error) {
	if entry.OriginID == 0 || !entry.OriginSource.Valid() {
		return nil, nil
	}
	return s.db.GetRawMessage(entry.OriginSource, entry.OriginID)
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}
