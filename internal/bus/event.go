package bus

import "time"

// Event is a domain event published on the in-process bus.
//
// Kinds are dot-namespaced: "message.ingested", "inbox.updated",
// "sync.completed", "sync.failed", "outbox.sent", "outbox.failed",
// "daemon.status_changed". Subscribers filter by namespace prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
