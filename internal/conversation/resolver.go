// Package conversation assigns conversation identifiers to messages.
//
// conversation_id is an opportunistic optimization: phone-based
// grouping at projection time remains the final authority. The
// resolver's job is to make the hint agree across sources wherever a
// linking signal exists.
package conversation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/smsdesk/smsdesk/internal/phone"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// Resolver looks up or mints a conversation id for a message candidate.
type Resolver struct {
	db     *store.DB
	logger *zap.Logger
}

// NewResolver creates a resolver over the raw stores.
func NewResolver(db *store.DB, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: db, logger: logger}
}

// Resolve returns the conversation id to attach to m before
// persistence. Precedence, first match wins:
//
//  1. m's own non-empty ConversationID.
//  2. An existing row with the same provider message id.
//  3. The latest existing row matching m's phone variants; if that row
//     has no id yet, one is minted and backfilled onto it so repeated
//     resolution converges instead of splitting the thread.
//  4. A freshly minted id.
//
// Resolution is best-effort and never fails the message: lookup errors
// fall through to minting.
func (r *Resolver) Resolve(m *store.RawMessage) string {
	if m.ConversationID != "" {
		return m.ConversationID
	}

	if m.ProviderMessageID != "" {
		existing, err := r.db.FindAnyByProviderID(m.ProviderMessageID)
		if err != nil {
			r.logger.Warn("conversation lookup by provider id failed",
				zap.String("provider_message_id", m.ProviderMessageID), zap.Error(err))
		} else if existing != nil && existing.ConversationID != "" {
			return existing.ConversationID
		}
	}

	variants := phone.Variants(m.Phone)
	if len(variants) > 0 {
		latest, err := r.db.LatestByPhoneVariants(variants)
		if err != nil {
			r.logger.Warn("conversation lookup by phone failed",
				zap.String("phone", m.Phone), zap.Error(err))
		} else if latest != nil {
			if latest.ConversationID != "" {
				return latest.ConversationID
			}
			id := mint(latest.ProviderMessageID)
			if err := r.db.SetConversationID(latest.Source, latest.ID, id); err != nil {
				r.logger.Warn("conversation id backfill failed",
					zap.String("source", string(latest.Source)),
					zap.Int64("id", latest.ID), zap.Error(err))
			}
			return id
		}
	}

	return mint(m.ProviderMessageID)
}

// mint derives a conversation id. A provider message id is preferred
// because it is stable across re-sync passes; otherwise an opaque uuid.
func mint(providerID string) string {
	if providerID != "" {
		return fmt.Sprintf("conv-%s", providerID)
	}
	return uuid.New().String()
}
