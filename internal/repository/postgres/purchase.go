package postgres

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
)

type purchaseRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewPurchaseRepository creates a new instance of purchase repository
func NewPurchaseRepository(db postgres.IClient, logger *logger.Logger) purchase.Repository {
	return &purchaseRepository{
		db:     db,
		logger: logger,
	}
}

func (r *purchaseRepository) Create(ctx context.Context, p *purchase.Purchase) error {
	query := `
		INSERT INTO purchases (
			id, user_id, plan_tier, pg_purchase_id, amount_tokens, discount_cents,
			period_start, period_end, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :user_id, :plan_tier, :pg_purchase_id, :amount_tokens, :discount_cents,
			:period_start, :period_end, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating purchase",
		"purchase_id", p.ID,
		"user_id", p.UserID,
		"pg_purchase_id", p.PGPurchaseID,
		"amount_tokens", p.AmountTokens,
	)

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		if isUniqueViolation(err, "idx_purchases_pg_purchase_id") {
			return ierr.WithError(err).
				WithHint("A purchase for this payment already exists").
				WithReportableDetails(map[string]any{
					"pg_purchase_id": p.PGPurchaseID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create purchase").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *purchaseRepository) GetByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	return r.getOne(ctx, `SELECT * FROM purchases WHERE id = :id`, map[string]interface{}{
		"id": id,
	})
}

func (r *purchaseRepository) GetByPGPurchaseID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	return r.getOne(ctx, `SELECT * FROM purchases WHERE pg_purchase_id = :pg_purchase_id`, map[string]interface{}{
		"pg_purchase_id": pgPurchaseID,
	})
}

func (r *purchaseRepository) getOne(ctx context.Context, query string, params map[string]interface{}) (*purchase.Purchase, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query purchase").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("purchase not found").
			WithHint("Purchase not found").
			Mark(ierr.ErrNotFound)
	}

	var p purchase.Purchase
	if err := rows.StructScan(&p); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan purchase").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

func (r *purchaseRepository) ListByUserID(ctx context.Context, userID string) ([]*purchase.Purchase, error) {
	query := `
		SELECT * FROM purchases
		WHERE user_id = :user_id
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"user_id": userID,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query purchases").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var purchases []*purchase.Purchase
	for rows.Next() {
		var p purchase.Purchase
		if err := rows.StructScan(&p); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan purchase").
				Mark(ierr.ErrDatabase)
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate purchases").
			Mark(ierr.ErrDatabase)
	}
	return purchases, nil
}
