package user

import (
	"context"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// User is the billing-side account record. ExternalID is the auth-provider
// subject carried by bearer tokens; PGCustomerID binds the row to the payment
// gateway's customer object once a checkout or subscription event reveals it.
type User struct {
	ID                    string  `db:"id" json:"id"`
	ExternalID            string  `db:"external_id" json:"external_id"`
	Email                 string  `db:"email" json:"email"`
	PGCustomerID          *string `db:"pg_customer_id" json:"pg_customer_id,omitempty"`
	HasActiveSubscription bool    `db:"has_active_subscription" json:"has_active_subscription"`
	HasPaymentIssue       bool    `db:"has_payment_issue" json:"has_payment_issue"`
	IsDeleted             bool    `db:"is_deleted" json:"is_deleted"`
	types.BaseModel
}

// New creates a new User with generated ID and base fields from context.
func New(ctx context.Context, externalID, email string) *User {
	return &User{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER),
		ExternalID: externalID,
		Email:      email,
		BaseModel:  types.GetDefaultBaseModel(ctx),
	}
}

func (u *User) TableName() string {
	return "users"
}

func (u *User) Validate() error {
	if u.ExternalID == "" {
		return ierr.NewError("external_id is required").
			WithHint("User must carry the auth provider subject").
			Mark(ierr.ErrValidation)
	}
	if u.Email == "" {
		return ierr.NewError("email is required").
			WithHint("User must carry an email address").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Flags is a partial update of the user's access booleans; nil fields are
// left untouched.
type Flags struct {
	HasActiveSubscription *bool
	HasPaymentIssue       *bool
}
