package postgres

import (
	"context"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/types"
)

type subscriptionRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewSubscriptionRepository creates a new instance of subscription repository
func NewSubscriptionRepository(db postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{
		db:     db,
		logger: logger,
	}
}

const subscriptionColumns = `
	id, user_id, plan_key, plan_tier, billing_cycle, pg_subscription_id,
	is_active, current_period_start, current_period_end, tokens_per_cycle,
	price_cents, last_monthly_refill, payment_failure_reason,
	status, created_at, updated_at, created_by, updated_by`

const subscriptionValues = `
	:id, :user_id, :plan_key, :plan_tier, :billing_cycle, :pg_subscription_id,
	:is_active, :current_period_start, :current_period_end, :tokens_per_cycle,
	:price_cents, :last_monthly_refill, :payment_failure_reason,
	:status, :created_at, :updated_at, :created_by, :updated_by`

func (r *subscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	query := `INSERT INTO subscriptions (` + subscriptionColumns + `) VALUES (` + subscriptionValues + `)`

	r.logger.Debugw("creating subscription",
		"subscription_id", s.ID,
		"user_id", s.UserID,
		"pg_subscription_id", s.PGSubscriptionID,
	)

	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		if isUniqueViolation(err, "idx_subscriptions_pg_subscription_id") {
			return ierr.WithError(err).
				WithHint("A subscription for this gateway id already exists").
				WithReportableDetails(map[string]any{
					"pg_subscription_id": s.PGSubscriptionID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	query := `
		UPDATE subscriptions
		SET
			plan_key = :plan_key,
			plan_tier = :plan_tier,
			billing_cycle = :billing_cycle,
			is_active = :is_active,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			tokens_per_cycle = :tokens_per_cycle,
			price_cents = :price_cents,
			last_monthly_refill = :last_monthly_refill,
			payment_failure_reason = :payment_failure_reason,
			updated_at = NOW(),
			updated_by = :updated_by
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, s)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("subscription not found").
			WithHint("Subscription with given ID not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id string) (*subscription.Subscription, error) {
	return r.getOne(ctx, `SELECT * FROM subscriptions WHERE id = :id`, map[string]interface{}{
		"id": id,
	})
}

func (r *subscriptionRepository) GetByPGSubscriptionID(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	return r.getOne(ctx,
		`SELECT * FROM subscriptions WHERE pg_subscription_id = :pg_subscription_id`,
		map[string]interface{}{"pg_subscription_id": pgSubscriptionID})
}

func (r *subscriptionRepository) GetLatestActiveByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return r.getOne(ctx, `
		SELECT * FROM subscriptions
		WHERE user_id = :user_id AND is_active = TRUE
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		map[string]interface{}{"user_id": userID})
}

func (r *subscriptionRepository) getOne(ctx context.Context, query string, params map[string]interface{}) (*subscription.Subscription, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query subscription").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}

	var s subscription.Subscription
	if err := rows.StructScan(&s); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan subscription").
			Mark(ierr.ErrDatabase)
	}
	return &s, nil
}

func (r *subscriptionRepository) Upsert(ctx context.Context, s *subscription.Subscription) (*subscription.Subscription, bool, error) {
	var stored *subscription.Subscription
	var wasInsert bool

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO subscriptions (` + subscriptionColumns + `)
			VALUES (` + subscriptionValues + `)
			ON CONFLICT (pg_subscription_id) DO UPDATE SET
				plan_key = EXCLUDED.plan_key,
				plan_tier = EXCLUDED.plan_tier,
				billing_cycle = EXCLUDED.billing_cycle,
				is_active = EXCLUDED.is_active,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				tokens_per_cycle = EXCLUDED.tokens_per_cycle,
				price_cents = EXCLUDED.price_cents,
				updated_at = NOW(),
				updated_by = EXCLUDED.updated_by
			RETURNING *, (xmax = 0) AS _inserted`

		rows, err := r.db.NamedQueryContext(ctx, query, s)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to upsert subscription").
				WithReportableDetails(map[string]any{
					"pg_subscription_id": s.PGSubscriptionID,
				}).
				Mark(ierr.ErrDatabase)
		}
		defer rows.Close()

		if !rows.Next() {
			return ierr.NewError("upsert returned no row").
				WithHint("Failed to upsert subscription").
				Mark(ierr.ErrDatabase)
		}

		var row struct {
			subscription.Subscription
			Inserted bool `db:"_inserted"`
		}
		if err := rows.StructScan(&row); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to scan subscription").
				Mark(ierr.ErrDatabase)
		}
		stored = &row.Subscription
		wasInsert = row.Inserted
		rows.Close()

		// Keep the at-most-one-active invariant: older actives for the
		// same user give way to the row we just stored
		if stored.IsActive {
			demote := `
				UPDATE subscriptions
				SET is_active = FALSE, updated_at = NOW()
				WHERE user_id = :user_id AND is_active = TRUE AND id != :id`
			if _, err := r.db.NamedExecContext(ctx, demote, map[string]interface{}{
				"user_id": stored.UserID,
				"id":      stored.ID,
			}); err != nil {
				return ierr.WithError(err).
					WithHint("Failed to deactivate older subscriptions").
					Mark(ierr.ErrDatabase)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	r.logger.Debugw("upserted subscription",
		"subscription_id", stored.ID,
		"pg_subscription_id", stored.PGSubscriptionID,
		"was_insert", wasInsert,
	)
	return stored, wasInsert, nil
}

func (r *subscriptionRepository) Deactivate(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE subscriptions
		SET is_active = FALSE, updated_at = NOW(), updated_by = :updated_by
		WHERE id = :id`,
		map[string]interface{}{
			"id":         id,
			"updated_by": types.GetUserID(ctx),
		})
}

func (r *subscriptionRepository) SetPaymentFailure(ctx context.Context, id string, reason string) error {
	return r.exec(ctx, `
		UPDATE subscriptions
		SET payment_failure_reason = :reason, updated_at = NOW(), updated_by = :updated_by
		WHERE id = :id`,
		map[string]interface{}{
			"id":         id,
			"reason":     reason,
			"updated_by": types.GetUserID(ctx),
		})
}

func (r *subscriptionRepository) ClearPaymentFailure(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE subscriptions
		SET payment_failure_reason = NULL, updated_at = NOW(), updated_by = :updated_by
		WHERE id = :id`,
		map[string]interface{}{
			"id":         id,
			"updated_by": types.GetUserID(ctx),
		})
}

func (r *subscriptionRepository) StampMonthlyRefill(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE subscriptions
		SET last_monthly_refill = :at, updated_at = NOW(), updated_by = :updated_by
		WHERE id = :id`,
		map[string]interface{}{
			"id":         id,
			"at":         at.UTC(),
			"updated_by": types.GetUserID(ctx),
		})
}

func (r *subscriptionRepository) exec(ctx context.Context, query string, params map[string]interface{}) error {
	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("subscription not found").
			WithHint("Subscription with given ID not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) ListActivePastPeriodEnd(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return r.list(ctx, `
		SELECT * FROM subscriptions
		WHERE is_active = TRUE
		AND current_period_end IS NOT NULL
		AND current_period_end < :now
		ORDER BY current_period_end ASC`,
		map[string]interface{}{"now": now.UTC()})
}

func (r *subscriptionRepository) ListActiveByBillingCycle(ctx context.Context, cycle types.BillingCycle) ([]*subscription.Subscription, error) {
	return r.list(ctx, `
		SELECT * FROM subscriptions
		WHERE is_active = TRUE AND billing_cycle = :billing_cycle
		ORDER BY created_at ASC`,
		map[string]interface{}{"billing_cycle": cycle})
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.QueryFilter) ([]*subscription.Subscription, error) {
	if filter == nil {
		filter = &types.QueryFilter{}
	}
	return r.list(ctx, `
		SELECT * FROM subscriptions
		ORDER BY created_at DESC, id DESC
		LIMIT :limit OFFSET :offset`,
		map[string]interface{}{
			"limit":  filter.GetLimit(),
			"offset": filter.GetOffset(),
		})
}

func (r *subscriptionRepository) ListActive(ctx context.Context, filter *types.QueryFilter) ([]*subscription.Subscription, error) {
	if filter == nil {
		filter = &types.QueryFilter{}
	}
	return r.list(ctx, `
		SELECT * FROM subscriptions
		WHERE is_active = TRUE
		ORDER BY created_at ASC, id ASC
		LIMIT :limit OFFSET :offset`,
		map[string]interface{}{
			"limit":  filter.GetLimit(),
			"offset": filter.GetOffset(),
		})
}

func (r *subscriptionRepository) list(ctx context.Context, query string, params map[string]interface{}) ([]*subscription.Subscription, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query subscriptions").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		var s subscription.Subscription
		if err := rows.StructScan(&s); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan subscription").
				Mark(ierr.ErrDatabase)
		}
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}
