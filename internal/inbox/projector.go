// Package inbox builds the unified conversation view over the four raw
// stores and owns the read-state and deletion flows that mutate them.
//
// The projection is a pure function of the raw stores plus the contact
// list: it is recomputed on every read and never persisted.
package inbox

import (
	"sort"
	"strings"

	"github.com/smsdesk/smsdesk/internal/phone"
	"github.com/smsdesk/smsdesk/internal/store"
	"go.uber.org/zap"
)

// Conversation is one projected inbox group.
type Conversation struct {
	Key         string // canonical digits-only phone number
	DisplayName string
	Messages    []store.RawMessage // ascending by effective time
	Latest      store.RawMessage
	UnreadCount int
	IsStarred   bool
	Archived    bool
}

// ListOptions filters and paginates the inbox listing.
type ListOptions struct {
	Query           string
	Page            int
	PerPage         int
	IncludeArchived bool
}

const (
	defaultPerPage = 50
	minPerPage     = 10
	maxPerPage     = 200
)

// Page is one page of projected conversations plus the total group
// count across all pages.
type Page struct {
	Conversations []Conversation
	TotalGroups   int
}

// Projector computes the inbox view. It performs no writes.
type Projector struct {
	db     *store.DB
	logger *zap.Logger
}

// NewProjector creates a projector over the raw stores.
func NewProjector(db *store.DB, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{db: db, logger: logger}
}

// EffectiveTime is the single ordering authority for "most recent
// message": provider time when known, local write time otherwise.
func EffectiveTime(m *store.RawMessage) int64 {
	if m.OccurredAt > 0 {
		return m.OccurredAt
	}
	return m.CreatedAt
}

// Latest picks the most recent message of a group. Exact timestamp
// ties prefer an outbound row: the operator's own reply is the current
// state of the thread.
func Latest(msgs []store.RawMessage) store.RawMessage {
	best := msgs[0]
	for _, m := range msgs[1:] {
		bt, mt := EffectiveTime(&best), EffectiveTime(&m)
		switch {
		case mt > bt:
			best = m
		case mt == bt && m.Direction == store.DirectionOutbound && best.Direction != store.DirectionOutbound:
			best = m
		}
	}
	return best
}

// GroupKey computes the ConversationKey for a row: canonical digits of
// the counterpart number, falling back to the raw string for numbers
// with no digits. Rows with no phone at all are unprojectable.
func GroupKey(m *store.RawMessage) string {
	if k := phone.Canonical(m.Phone); k != "" {
		return k
	}
	return m.Phone
}

// List projects the inbox: groups by ConversationKey, resolves display
// names, computes unread counts and orders by latest activity.
func (p *Projector) List(opts ListOptions) (*Page, error) {
	rows, err := p.db.ListRawMessages()
	if err != nil {
		return nil, err
	}
	contacts, err := p.db.ListContacts()
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if k := phone.Canonical(c.Phone); k != "" {
			if _, taken := names[k]; !taken {
				names[k] = c.Name
			}
		}
	}

	query := strings.ToLower(opts.Query)

	// One pass: canonical key per row, grouped into a map. Rows are
	// already ordered ascending, so each group stays sorted.
	groups := make(map[string][]store.RawMessage)
	var order []string
	for i := range rows {
		m := rows[i]
		if query != "" && !matchesQuery(&m, query) {
			continue
		}
		key := GroupKey(&m)
		if key == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	conversations := make([]Conversation, 0, len(groups))
	for _, key := range order {
		msgs := groups[key]

		// A lone outbound message with no reply is a send, not a
		// conversation.
		if len(msgs) == 1 && msgs[0].Direction == store.DirectionOutbound {
			continue
		}

		conv := Conversation{
			Key:      key,
			Messages: msgs,
			Latest:   Latest(msgs),
			Archived: true,
		}
		for i := range msgs {
			m := &msgs[i]
			if m.Direction == store.DirectionInbound && m.Status != store.StatusRead {
				conv.UnreadCount++
			}
			if m.IsStarred {
				conv.IsStarred = true
			}
			if m.ArchivedAt == 0 {
				conv.Archived = false
			}
		}
		if conv.Archived && !opts.IncludeArchived {
			continue
		}

		if name, ok := names[key]; ok && name != "" {
			conv.DisplayName = name
		} else {
			conv.DisplayName = conv.Latest.Phone
		}
		conversations = append(conversations, conv)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		ti := EffectiveTime(&conversations[i].Latest)
		tj := EffectiveTime(&conversations[j].Latest)
		if ti != tj {
			return ti > tj
		}
		return conversations[i].Key < conversations[j].Key
	})

	total := len(conversations)
	page, perPage := opts.Page, opts.PerPage
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	} else if perPage < minPerPage {
		perPage = minPerPage
	} else if perPage > maxPerPage {
		perPage = maxPerPage
	}

	start := (page - 1) * perPage
	if start >= total {
		return &Page{Conversations: []Conversation{}, TotalGroups: total}, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return &Page{Conversations: conversations[start:end], TotalGroups: total}, nil
}

// Thread returns every raw message for a ConversationKey, merged
// across all four sources, ascending by effective time.
func (p *Projector) Thread(key string) ([]store.RawMessage, error) {
	variants := phone.Variants(key)
	if len(variants) == 0 {
		return nil, nil
	}
	return p.db.ListByPhoneVariants(variants)
}

func matchesQuery(m *store.RawMessage, lowered string) bool {
	return strings.Contains(strings.ToLower(m.Body), lowered) ||
		strings.Contains(strings.ToLower(m.Phone), lowered)
}
