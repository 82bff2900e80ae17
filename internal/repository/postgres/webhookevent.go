package postgres

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/webhookevent"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
)

type webhookEventRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewWebhookEventRepository creates a new instance of webhook event repository
func NewWebhookEventRepository(db postgres.IClient, logger *logger.Logger) webhookevent.Repository {
	return &webhookEventRepository{
		db:     db,
		logger: logger,
	}
}

func (r *webhookEventRepository) Create(ctx context.Context, e *webhookevent.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, event_id, event_type, received_at)
		VALUES (:id, :event_id, :event_type, :received_at)`

	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		if isUniqueViolation(err, "idx_webhook_events_event_id") {
			return ierr.WithError(err).
				WithHint("This event was already processed").
				WithReportableDetails(map[string]any{
					"event_id": e.EventID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to record webhook event").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *webhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*webhookevent.WebhookEvent, error) {
	query := `SELECT * FROM webhook_events WHERE event_id = :event_id`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"event_id": eventID,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query webhook event").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("webhook event not found").
			WithHint("Webhook event not found").
			Mark(ierr.ErrNotFound)
	}

	var e webhookevent.WebhookEvent
	if err := rows.StructScan(&e); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan webhook event").
			Mark(ierr.ErrDatabase)
	}
	return &e, nil
}
