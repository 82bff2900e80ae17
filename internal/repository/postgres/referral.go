package postgres

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/referral"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/types"
)

type referralRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewReferralRepository creates a new instance of referral repository
func NewReferralRepository(db postgres.IClient, logger *logger.Logger) referral.Repository {
	return &referralRepository{
		db:     db,
		logger: logger,
	}
}

func (r *referralRepository) Create(ctx context.Context, ref *referral.Referral) error {
	query := `
		INSERT INTO referrals (
			id, referrer_user_id, referred_user_id, code, is_rewarded,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :referrer_user_id, :referred_user_id, :code, :is_rewarded,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating referral",
		"referral_id", ref.ID,
		"referrer_user_id", ref.ReferrerUserID,
		"referred_user_id", ref.ReferredUserID,
	)

	if _, err := r.db.NamedExecContext(ctx, query, ref); err != nil {
		if isUniqueViolation(err, "idx_referrals_referred_user_id") {
			return ierr.WithError(err).
				WithHint("This user was already referred").
				WithReportableDetails(map[string]any{
					"referred_user_id": ref.ReferredUserID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create referral").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *referralRepository) GetByReferredUserID(ctx context.Context, referredUserID string) (*referral.Referral, error) {
	return r.getOne(ctx,
		`SELECT * FROM referrals WHERE referred_user_id = :referred_user_id`,
		map[string]interface{}{"referred_user_id": referredUserID})
}

func (r *referralRepository) GetPendingByReferredUserID(ctx context.Context, referredUserID string) (*referral.Referral, error) {
	return r.getOne(ctx,
		`SELECT * FROM referrals WHERE referred_user_id = :referred_user_id AND is_rewarded = FALSE`,
		map[string]interface{}{"referred_user_id": referredUserID})
}

func (r *referralRepository) getOne(ctx context.Context, query string, params map[string]interface{}) (*referral.Referral, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query referral").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("referral not found").
			WithHint("Referral not found").
			Mark(ierr.ErrNotFound)
	}

	var ref referral.Referral
	if err := rows.StructScan(&ref); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan referral").
			Mark(ierr.ErrDatabase)
	}
	return &ref, nil
}

func (r *referralRepository) MarkRewarded(ctx context.Context, id string) error {
	query := `
		UPDATE referrals
		SET is_rewarded = TRUE, updated_at = NOW(), updated_by = :updated_by
		WHERE id = :id AND is_rewarded = FALSE`

	params := map[string]interface{}{
		"id":         id,
		"updated_by": types.GetUserID(ctx),
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark referral rewarded").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark referral rewarded").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("referral not found or already rewarded").
			WithHint("Referral not found or already rewarded").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}
