package provider

import "time"

// Direction of a message as reported by the provider.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is the provider's record of an SMS, populated once at the
// API boundary. Internal code reads these fields directly and never
// digs into the provider payload for optional keys.
type Message struct {
	SID         string
	From        string
	To          string
	Body        string
	Status      string
	Direction   Direction
	DateSent    time.Time // zero = not reported
	DateCreated time.Time
	DateUpdated time.Time
}

// Counterpart returns the remote party's number: the sender for
// inbound messages, the recipient for outbound ones.
func (m *Message) Counterpart() string {
	if m.Direction == DirectionInbound {
		return m.From
	}
	return m.To
}

// wire mirrors the provider's JSON field names.
type wire struct {
	SID         string `json:"sid"`
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"body"`
	Status      string `json:"status"`
	Direction   string `json:"direction"`
	DateSent    string `json:"date_sent"`
	DateCreated string `json:"date_created"`
	DateUpdated string `json:"date_updated"`
}

type listResponse struct {
	Messages []wire `json:"messages"`
}

type sendResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ParseDate parses the provider's timestamp formats leniently. The
// REST API uses RFC 1123 with a numeric zone; webhooks have been seen
// delivering RFC 3339. An unparseable or empty value yields the zero
// time, which ingestion treats as "not reported".
func ParseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (w *wire) toMessage() Message {
	dir := DirectionOutbound
	// The REST API reports outbound flavors like "outbound-api" and
	// "outbound-reply"; everything starting with "inbound" is inbound.
	if len(w.Direction) >= len("inbound") && w.Direction[:len("inbound")] == "inbound" {
		dir = DirectionInbound
	}
	return Message{
		SID:         w.SID,
		From:        w.From,
		To:          w.To,
		Body:        w.Body,
		Status:      w.Status,
		Direction:   dir,
		DateSent:    ParseDate(w.DateSent),
		DateCreated: ParseDate(w.DateCreated),
		DateUpdated: ParseDate(w.DateUpdated),
	}
}
