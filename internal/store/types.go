package store

import "fmt"

// Source identifies which raw store a message row lives in. The set is
// closed: every subsystem that writes messages owns exactly one source.
type Source string

const (
	SourceInbound      Source = "inbound"
	SourceOutbound     Source = "outbound"
	SourceAutoResponse Source = "auto_response"
	SourceCampaign     Source = "campaign"
)

// Sources lists every raw store in a fixed order. Cross-source reads
// iterate this slice rather than probing for tables dynamically.
var Sources = []Source{SourceInbound, SourceOutbound, SourceAutoResponse, SourceCampaign}

var sourceTables = map[Source]string{
	SourceInbound:      "inbound_messages",
	SourceOutbound:     "outbound_messages",
	SourceAutoResponse: "auto_responses",
	SourceCampaign:     "campaign_sends",
}

// Table returns the backing table name for a source.
func (s Source) Table() (string, error) {
	t, ok := sourceTables[s]
	if !ok {
		return "", fmt.Errorf("unknown message source %q", string(s))
	}
	return t, nil
}

// Valid reports whether s is one of the four known sources.
func (s Source) Valid() bool {
	_, ok := sourceTables[s]
	return ok
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// StatusRead is the terminal inbound status; re-sync must never
// regress a row out of it.
const StatusRead = "read"

// RawMessage is a persisted message row from one of the four sources.
// All timestamps are Unix milliseconds; zero means unset.
type RawMessage struct {
	ID                int64
	Source            Source
	Direction         string
	Phone             string // counterpart number as recorded by the writer
	Body              string
	Status            string
	ProviderMessageID string // provider-assigned id; "" = none, unique per source otherwise
	ConversationID    string // opportunistic grouping hint; phone grouping is authoritative
	OccurredAt        int64  // provider-reported time; 0 = unknown
	CreatedAt         int64  // local write time
	IsRead            bool
	ReadAt            int64
	IsStarred         bool
	ArchivedAt        int64
}

// Contact is an address-book entry used for display-name resolution.
// Served over the API as-is, hence the json tags.
type Contact struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// OutboxEntry is a queued outgoing send awaiting delivery to the
// provider.
type OutboxEntry struct {
	ID                int64
	ClientMessageID   string
	Phone             string
	Body              string
	Status            string // queued, sending, sent, failed
	ErrorMessage      string
	ProviderMessageID string

	// OriginSource and OriginID point at the raw row this entry was
	// queued on behalf of, when one already exists (auto-responses).
	// The sender settles that row instead of writing its own.
	OriginSource Source
	OriginID     int64
}
