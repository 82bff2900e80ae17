package postgres

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/types"
)

type userRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

// NewUserRepository creates a new instance of user repository
func NewUserRepository(db postgres.IClient, logger *logger.Logger) user.Repository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (
			id, external_id, email, pg_customer_id, has_active_subscription,
			has_payment_issue, is_deleted, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :external_id, :email, :pg_customer_id, :has_active_subscription,
			:has_payment_issue, :is_deleted, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating user", "user_id", u.ID, "external_id", u.ExternalID)

	if _, err := r.db.NamedExecContext(ctx, query, u); err != nil {
		if isUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("A user with this identity already exists").
				WithReportableDetails(map[string]any{
					"external_id": u.ExternalID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create user").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	return r.getOne(ctx, `SELECT * FROM users WHERE id = :id`, map[string]interface{}{
		"id": id,
	})
}

func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*user.User, error) {
	return r.getOne(ctx, `SELECT * FROM users WHERE external_id = :external_id`, map[string]interface{}{
		"external_id": externalID,
	})
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `SELECT * FROM users WHERE email = :email`, map[string]interface{}{
		"email": email,
	})
}

func (r *userRepository) GetByPGCustomerID(ctx context.Context, pgCustomerID string) (*user.User, error) {
	return r.getOne(ctx, `SELECT * FROM users WHERE pg_customer_id = :pg_customer_id`, map[string]interface{}{
		"pg_customer_id": pgCustomerID,
	})
}

func (r *userRepository) getOne(ctx context.Context, query string, params map[string]interface{}) (*user.User, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query user").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("user not found").
			WithHint("User with given identity not found").
			Mark(ierr.ErrNotFound)
	}

	var u user.User
	if err := rows.StructScan(&u); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan user").
			Mark(ierr.ErrDatabase)
	}
	return &u, nil
}

func (r *userRepository) UpsertByExternalID(ctx context.Context, u *user.User) (*user.User, error) {
	query := `
		INSERT INTO users (
			id, external_id, email, pg_customer_id, has_active_subscription,
			has_payment_issue, is_deleted, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :external_id, :email, :pg_customer_id, :has_active_subscription,
			:has_payment_issue, :is_deleted, :status, :created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (external_id) DO UPDATE SET
			email = EXCLUDED.email,
			updated_at = NOW()
		RETURNING *`

	r.logger.Debugw("upserting user", "external_id", u.ExternalID)

	rows, err := r.db.NamedQueryContext(ctx, query, u)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to upsert user").
			WithReportableDetails(map[string]any{
				"external_id": u.ExternalID,
			}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("upsert returned no row").
			WithHint("Failed to upsert user").
			Mark(ierr.ErrDatabase)
	}

	var stored user.User
	if err := rows.StructScan(&stored); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan user").
			Mark(ierr.ErrDatabase)
	}
	return &stored, nil
}

func (r *userRepository) BindPGCustomer(ctx context.Context, id string, pgCustomerID string) error {
	query := `
		UPDATE users
		SET
			pg_customer_id = :pg_customer_id,
			updated_at = NOW(),
			updated_by = :updated_by
		WHERE id = :id`

	params := map[string]interface{}{
		"id":             id,
		"pg_customer_id": pgCustomerID,
		"updated_by":     types.GetUserID(ctx),
	}

	r.logger.Debugw("binding gateway customer", "user_id", id, "pg_customer_id", pgCustomerID)

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		if isUniqueViolation(err, "idx_users_pg_customer_id") {
			return ierr.WithError(err).
				WithHint("This gateway customer is already bound to another user").
				WithReportableDetails(map[string]any{
					"pg_customer_id": pgCustomerID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to bind gateway customer").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to bind gateway customer").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("user not found").
			WithHint("User with given ID not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, filter *types.QueryFilter) ([]*user.User, error) {
	if filter == nil {
		filter = &types.QueryFilter{}
	}

	rows, err := r.db.NamedQueryContext(ctx, `
		SELECT * FROM users
		ORDER BY created_at ASC, id ASC
		LIMIT :limit OFFSET :offset`,
		map[string]interface{}{
			"limit":  filter.GetLimit(),
			"offset": filter.GetOffset(),
		})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query users").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var users []*user.User
	for rows.Next() {
		var u user.User
		if err := rows.StructScan(&u); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan user").
				Mark(ierr.ErrDatabase)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate users").
			Mark(ierr.ErrDatabase)
	}
	return users, nil
}

func (r *userRepository) UpdateFlags(ctx context.Context, id string, flags user.Flags) error {
	query := `
		UPDATE users
		SET
			has_active_subscription = COALESCE(:has_active_subscription, has_active_subscription),
			has_payment_issue = COALESCE(:has_payment_issue, has_payment_issue),
			updated_at = NOW(),
			updated_by = :updated_by
		WHERE id = :id`

	params := map[string]interface{}{
		"id":                      id,
		"has_active_subscription": flags.HasActiveSubscription,
		"has_payment_issue":       flags.HasPaymentIssue,
		"updated_by":              types.GetUserID(ctx),
	}

	r.logger.Debugw("updating user flags",
		"user_id", id,
		"has_active_subscription", flags.HasActiveSubscription,
		"has_payment_issue", flags.HasPaymentIssue,
	)

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update user flags").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update user flags").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("user not found").
			WithHint("User with given ID not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}
