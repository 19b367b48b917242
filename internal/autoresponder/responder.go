// Package autoresponder replies to inbound messages that match
// configured keyword rules. It is the only writer of the
// auto_response source.
package autoresponder

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// Rule maps a keyword to a canned reply. Matching is a
// case-insensitive substring check against the inbound body.
type Rule struct {
	Keyword string
	Reply   string
}

// Responder listens for inbound ingests and fires keyword replies.
// The reply is recorded as an auto_response raw row immediately and
// delivered through the outbox like any other send.
type Responder struct {
	db     *store.DB
	bus    *bus.Bus
	rules  []Rule
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates a responder with the given rules. An empty rule set is
// valid and makes Start a no-op.
func New(db *store.DB, b *bus.Bus, rules []Rule, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{db: db, bus: b, rules: rules, logger: logger}
}

// Start subscribes to ingest events and processes them until Stop.
func (r *Responder) Start(ctx context.Context) {
	if len(r.rules) == 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("message.ingested", 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (r *Responder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Responder) handle(evt bus.Event) {
	msg, ok := evt.Payload.(*store.RawMessage)
	if !ok {
		return
	}
	r.Respond(msg)
}

// Respond applies the rule set to one message. Only freshly ingested
// inbound-source rows trigger a reply: everything else, including our
// own auto-responses, is ignored so rules cannot feed back on
// themselves.
func (r *Responder) Respond(msg *store.RawMessage) {
	if msg.Source != store.SourceInbound || msg.Direction != store.DirectionInbound {
		return
	}
	if msg.Phone == "" {
		return
	}
	rule, ok := r.match(msg.Body)
	if !ok {
		return
	}

	reply := &store.RawMessage{
		Source:         store.SourceAutoResponse,
		Direction:      store.DirectionOutbound,
		Phone:          msg.Phone,
		Body:           rule.Reply,
		Status:         "queued",
		ConversationID: msg.ConversationID,
		OccurredAt:     time.Now().UnixMilli(),
	}
	if err := r.db.InsertRawMessage(reply); err != nil {
		r.logger.Error("failed to record auto-response", zap.Error(err),
			zap.String("phone", msg.Phone))
		return
	}
	if err := r.db.QueueOutboxFor(uuid.New().String(), msg.Phone, rule.Reply, store.SourceAutoResponse, reply.ID); err != nil {
		r.logger.Error("failed to queue auto-response", zap.Error(err),
			zap.String("phone", msg.Phone))
		return
	}
	r.logger.Info("auto-response queued",
		zap.String("keyword", rule.Keyword),
		zap.String("phone", msg.Phone))
}

func (r *Responder) match(body string) (Rule, bool) {
	lowered := strings.ToLower(body)
	for _, rule := range r.rules {
		if rule.Keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(rule.Keyword)) {
			return rule, true
		}
	}
	return Rule{}, false
}
