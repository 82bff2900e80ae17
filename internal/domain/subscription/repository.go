package subscription

import (
	"context"
	"time"

	"github.com/tokenrail/tokenrail/internal/types"
)

// Repository defines the interface for subscription persistence operations
type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	Update(ctx context.Context, s *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)
	GetByPGSubscriptionID(ctx context.Context, pgSubscriptionID string) (*Subscription, error)

	// GetLatestActiveByUserID returns the newest is_active row for the user
	GetLatestActiveByUserID(ctx context.Context, userID string) (*Subscription, error)

	// Upsert inserts or refreshes the row keyed by pg_subscription_id and
	// deactivates any older active rows for the same user. The bool reports
	// whether a new row was inserted.
	Upsert(ctx context.Context, s *Subscription) (*Subscription, bool, error)

	// Deactivate flips is_active off without touching other fields
	Deactivate(ctx context.Context, id string) error

	SetPaymentFailure(ctx context.Context, id string, reason string) error
	ClearPaymentFailure(ctx context.Context, id string) error

	// StampMonthlyRefill records when the latest yearly refill was granted
	StampMonthlyRefill(ctx context.Context, id string, at time.Time) error

	// ListActivePastPeriodEnd returns active rows whose period already ended
	ListActivePastPeriodEnd(ctx context.Context, now time.Time) ([]*Subscription, error)

	// ListActiveByBillingCycle returns active rows on the given cycle
	ListActiveByBillingCycle(ctx context.Context, cycle types.BillingCycle) ([]*Subscription, error)

	// List returns subscriptions ordered newest first
	List(ctx context.Context, filter *types.QueryFilter) ([]*Subscription, error)

	// ListActive pages through active rows in stable creation order
	ListActive(ctx context.Context, filter *types.QueryFilter) ([]*Subscription, error)
}
