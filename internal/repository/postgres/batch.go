package postgres

import (
	"context"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/batch"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/types"
)

type batchRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewBatchRepository creates a new instance of token batch repository
func NewBatchRepository(db postgres.IClient, logger *logger.Logger) batch.Repository {
	return &batchRepository{
		db:     db,
		logger: logger,
	}
}

func (r *batchRepository) Create(ctx context.Context, b *batch.TokenBatch) error {
	query := `
		INSERT INTO token_batches (
			id, user_id, source, subscription_id, purchase_id, referrer_id,
			invoice_id, amount, consumed, expires_at, is_active, note,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :user_id, :source, :subscription_id, :purchase_id, :referrer_id,
			:invoice_id, :amount, :consumed, :expires_at, :is_active, :note,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating token batch",
		"batch_id", b.ID,
		"user_id", b.UserID,
		"source", b.Source,
		"amount", b.Amount,
		"expires_at", b.ExpiresAt,
	)

	if _, err := r.db.NamedExecContext(ctx, query, b); err != nil {
		if isUniqueViolation(err, "idx_token_batches_invoice_id") {
			return ierr.WithError(err).
				WithHint("A batch for this invoice already exists").
				WithReportableDetails(map[string]any{
					"invoice_id": b.InvoiceID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create token batch").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *batchRepository) GetByID(ctx context.Context, id string) (*batch.TokenBatch, error) {
	return r.getOne(ctx, `SELECT * FROM token_batches WHERE id = :id`, map[string]interface{}{
		"id": id,
	})
}

func (r *batchRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*batch.TokenBatch, error) {
	return r.getOne(ctx, `SELECT * FROM token_batches WHERE invoice_id = :invoice_id`, map[string]interface{}{
		"invoice_id": invoiceID,
	})
}

func (r *batchRepository) getOne(ctx context.Context, query string, params map[string]interface{}) (*batch.TokenBatch, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query token batch").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("token batch not found").
			WithHint("Token batch not found").
			Mark(ierr.ErrNotFound)
	}

	var b batch.TokenBatch
	if err := rows.StructScan(&b); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan token batch").
			Mark(ierr.ErrDatabase)
	}
	return &b, nil
}

// LockActiveFIFO locks the user's spendable batches in consumption order.
// The lock order (expires_at, id) is the same for every caller, which keeps
// concurrent consumers of the same user deadlock-free.
func (r *batchRepository) LockActiveFIFO(ctx context.Context, userID string, now time.Time) ([]*batch.TokenBatch, error) {
	query := `
		SELECT * FROM token_batches
		WHERE user_id = :user_id
		AND is_active = TRUE
		AND expires_at > :now
		ORDER BY expires_at ASC, id ASC
		FOR UPDATE`

	params := map[string]interface{}{
		"user_id": userID,
		"now":     now.UTC(),
	}

	r.logger.Debugw("locking active batches", "user_id", userID)

	return r.list(ctx, query, params)
}

func (r *batchRepository) ApplyConsumption(ctx context.Context, id string, delta int64) error {
	query := `
		UPDATE token_batches
		SET
			consumed = consumed + :delta,
			updated_at = NOW(),
			updated_by = :updated_by
		WHERE id = :id
		AND consumed + :delta <= amount`

	params := map[string]interface{}{
		"id":         id,
		"delta":      delta,
		"updated_by": types.GetUserID(ctx),
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to apply batch consumption").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to apply batch consumption").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("consumption exceeds batch amount").
			WithHint("Batch not found or consumption would exceed its amount").
			WithReportableDetails(map[string]any{
				"batch_id": id,
				"delta":    delta,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

func (r *batchRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE token_batches
		SET is_active = FALSE, updated_at = NOW(), updated_by = :updated_by
		WHERE id = :id`

	params := map[string]interface{}{
		"id":         id,
		"updated_by": types.GetUserID(ctx),
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to deactivate token batch").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to deactivate token batch").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("token batch not found").
			WithHint("Token batch with given ID not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *batchRepository) ListDueForExpiry(ctx context.Context, now time.Time) ([]*batch.TokenBatch, error) {
	query := `
		SELECT * FROM token_batches
		WHERE is_active = TRUE
		AND expires_at <= :now
		ORDER BY expires_at ASC, id ASC
		FOR UPDATE`

	return r.list(ctx, query, map[string]interface{}{"now": now.UTC()})
}

func (r *batchRepository) ActiveBalance(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(GREATEST(amount - consumed, 0)), 0) AS balance
		FROM token_batches
		WHERE user_id = :user_id
		AND is_active = TRUE
		AND expires_at > :now`

	params := map[string]interface{}{
		"user_id": userID,
		"now":     now.UTC(),
	}

	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to query balance").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var balance int64
	if rows.Next() {
		if err := rows.Scan(&balance); err != nil {
			return 0, ierr.WithError(err).
				WithHint("Failed to scan balance").
				Mark(ierr.ErrDatabase)
		}
	}
	return balance, nil
}

func (r *batchRepository) ActiveRemainder(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount - consumed), 0) AS remainder
		FROM token_batches
		WHERE user_id = :user_id
		AND is_active = TRUE`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"user_id": userID,
	})
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to query batch remainder").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var remainder int64
	if rows.Next() {
		if err := rows.Scan(&remainder); err != nil {
			return 0, ierr.WithError(err).
				WithHint("Failed to scan batch remainder").
				Mark(ierr.ErrDatabase)
		}
	}
	return remainder, nil
}

func (r *batchRepository) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*batch.TokenBatch, error) {
	query := `
		SELECT * FROM token_batches
		WHERE user_id = :user_id
		AND is_active = TRUE
		AND expires_at > :now
		ORDER BY expires_at ASC, id ASC`

	return r.list(ctx, query, map[string]interface{}{
		"user_id": userID,
		"now":     now.UTC(),
	})
}

func (r *batchRepository) list(ctx context.Context, query string, params map[string]interface{}) ([]*batch.TokenBatch, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query token batches").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var batches []*batch.TokenBatch
	for rows.Next() {
		var b batch.TokenBatch
		if err := rows.StructScan(&b); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan token batch").
				Mark(ierr.ErrDatabase)
		}
		batches = append(batches, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate token batches").
			Mark(ierr.ErrDatabase)
	}
	return batches, nil
}
