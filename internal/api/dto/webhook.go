package dto

// WebhookStatus is the dispatcher's verdict on one inbound event.
type WebhookStatus string

const (
	// WebhookStatusProcessed means the event's effects were committed
	WebhookStatusProcessed WebhookStatus = "processed"
	// WebhookStatusDuplicate means the event id was already handled
	WebhookStatusDuplicate WebhookStatus = "duplicate"
	// WebhookStatusSkipped means the event was deliberately not handled;
	// Reason says why. Skips answer 200 because a retry cannot help.
	WebhookStatusSkipped WebhookStatus = "skipped"
)

// WebhookResult reports how one gateway event was handled.
type WebhookResult struct {
	Status    WebhookStatus `json:"status"`
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	Reason    string        `json:"reason,omitempty"`
}
