package user

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/types"
)

// Repository defines the interface for user persistence operations
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByExternalID(ctx context.Context, externalID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByPGCustomerID(ctx context.Context, pgCustomerID string) (*User, error)

	// UpsertByExternalID creates the user when absent and returns the stored
	// row either way. The email is refreshed on conflict.
	UpsertByExternalID(ctx context.Context, u *User) (*User, error)

	// BindPGCustomer attaches the payment gateway customer id to the user.
	// Binding an id already held by the same user is a no-op.
	BindPGCustomer(ctx context.Context, id string, pgCustomerID string) error

	// UpdateFlags applies a partial update of the access booleans
	UpdateFlags(ctx context.Context, id string, flags Flags) error

	// List pages through users in stable creation order
	List(ctx context.Context, filter *types.QueryFilter) ([]*User, error)
}
