package webhookevent

import (
	"context"
)

// Repository defines the interface for webhook event dedupe records
type Repository interface {
	// Create inserts the marker row; a duplicate event_id is reported as
	// an already-exists error
	Create(ctx context.Context, e *WebhookEvent) error
	GetByEventID(ctx context.Context, eventID string) (*WebhookEvent, error)
}
