package testutil

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/webhookevent"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// InMemoryWebhookEventStore implements webhookevent.Repository
type InMemoryWebhookEventStore struct {
	*InMemoryStore[*webhookevent.WebhookEvent]
}

// NewInMemoryWebhookEventStore creates a new in-memory webhook event store
func NewInMemoryWebhookEventStore() *InMemoryWebhookEventStore {
	return &InMemoryWebhookEventStore{
		InMemoryStore: NewInMemoryStore[*webhookevent.WebhookEvent](),
	}
}

func (s *InMemoryWebhookEventStore) Create(ctx context.Context, e *webhookevent.WebhookEvent) error {
	dup, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, item *webhookevent.WebhookEvent) bool {
		return item.EventID == e.EventID
	}, nil)
	if err != nil {
		return err
	}
	if len(dup) > 0 {
		return webhookEventAlreadyExists(e.EventID)
	}

	copied := *e
	if err := s.InMemoryStore.Create(ctx, e.ID, &copied); err != nil {
		return webhookEventAlreadyExists(e.EventID)
	}
	return nil
}

func (s *InMemoryWebhookEventStore) GetByEventID(ctx context.Context, eventID string) (*webhookevent.WebhookEvent, error) {
	matches, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, item *webhookevent.WebhookEvent) bool {
		return item.EventID == eventID
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ierr.NewError("webhook event not found").
			WithHint("Webhook event not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *matches[0]
	return &copied, nil
}

func webhookEventAlreadyExists(eventID string) error {
	return ierr.NewError("webhook event already processed").
		WithHint("This gateway event has already been processed").
		WithReportableDetails(map[string]any{
			"event_id": eventID,
		}).
		Mark(ierr.ErrAlreadyExists)
}
