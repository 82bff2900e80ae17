package webhookevent

import (
	"time"

	"github.com/tokenrail/tokenrail/internal/types"
)

// WebhookEvent marks a gateway event as processed. Presence of a row is the
// whole contract: the unique event_id index makes redeliveries collide and
// the dispatcher treats the collision as "already handled".
type WebhookEvent struct {
	ID         string    `db:"id" json:"id"`
	EventID    string    `db:"event_id" json:"event_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

func New(eventID, eventType string, receivedAt time.Time) *WebhookEvent {
	return &WebhookEvent{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: receivedAt.UTC(),
	}
}

func (e *WebhookEvent) TableName() string {
	return "webhook_events"
}
