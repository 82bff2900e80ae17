package postgres

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/types"
)

type tokenEventRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewTokenEventRepository creates a new instance of token event repository
func NewTokenEventRepository(db postgres.IClient, logger *logger.Logger) tokenevent.Repository {
	return &tokenEventRepository{
		db:     db,
		logger: logger,
	}
}

func (r *tokenEventRepository) Append(ctx context.Context, e *tokenevent.TokenEvent) error {
	query := `
		INSERT INTO token_events (id, user_id, batch_id, delta, reason, at)
		VALUES (:id, :user_id, :batch_id, :delta, :reason, :at)`

	r.logger.Debugw("appending token event",
		"event_id", e.ID,
		"user_id", e.UserID,
		"batch_id", e.BatchID,
		"delta", e.Delta,
		"reason", e.Reason,
	)

	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append token event").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *tokenEventRepository) ListByUserID(ctx context.Context, userID string, filter *types.QueryFilter) ([]*tokenevent.TokenEvent, error) {
	if filter == nil {
		filter = &types.QueryFilter{}
	}

	query := `
		SELECT * FROM token_events
		WHERE user_id = :user_id
		ORDER BY at DESC, id DESC
		LIMIT :limit OFFSET :offset`

	params := map[string]interface{}{
		"user_id": userID,
		"limit":   filter.GetLimit(),
		"offset":  filter.GetOffset(),
	}

	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query token events").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var events []*tokenevent.TokenEvent
	for rows.Next() {
		var e tokenevent.TokenEvent
		if err := rows.StructScan(&e); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan token event").
				Mark(ierr.ErrDatabase)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate token events").
			Mark(ierr.ErrDatabase)
	}
	return events, nil
}

func (r *tokenEventRepository) SumDeltaByUserID(ctx context.Context, userID string) (int64, error) {
	return r.sum(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM token_events WHERE user_id = :user_id`,
		map[string]interface{}{"user_id": userID})
}

func (r *tokenEventRepository) SumDeltaByBatchID(ctx context.Context, batchID string) (int64, error) {
	return r.sum(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM token_events WHERE batch_id = :batch_id`,
		map[string]interface{}{"batch_id": batchID})
}

func (r *tokenEventRepository) sum(ctx context.Context, query string, params map[string]interface{}) (int64, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to sum token events").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, ierr.WithError(err).
				WithHint("Failed to scan token event sum").
				Mark(ierr.ErrDatabase)
		}
	}
	return total, nil
}
