package referral

import (
	"context"
)

// Repository defines the interface for referral persistence operations
type Repository interface {
	// Create inserts the referral; a referred_user_id conflict is reported
	// as an already-exists error (a user is referred at most once)
	Create(ctx context.Context, r *Referral) error
	GetByReferredUserID(ctx context.Context, referredUserID string) (*Referral, error)

	// GetPendingByReferredUserID returns the unrewarded referral for the
	// user, or a not-found error
	GetPendingByReferredUserID(ctx context.Context, referredUserID string) (*Referral, error)

	MarkRewarded(ctx context.Context, id string) error
}
