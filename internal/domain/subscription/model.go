package subscription

import (
	"context"
	"time"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// Subscription mirrors one payment-gateway subscription for a user. PlanKey
// is the stable identifier of the gateway price and the catalog lookup key;
// the token columns are denormalized from the catalog at upsert time so the
// row stays meaningful even if the catalog entry is later edited.
type Subscription struct {
	ID               string             `db:"id" json:"id"`
	UserID           string             `db:"user_id" json:"user_id"`
	PlanKey          string             `db:"plan_key" json:"plan_key"`
	PlanTier         types.PlanTier     `db:"plan_tier" json:"plan_tier"`
	BillingCycle     types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	PGSubscriptionID string             `db:"pg_subscription_id" json:"pg_subscription_id"`
	IsActive         bool               `db:"is_active" json:"is_active"`

	CurrentPeriodStart *time.Time `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`

	TokensPerCycle int64 `db:"tokens_per_cycle" json:"tokens_per_cycle"`
	PriceCents     int64 `db:"price_cents" json:"price_cents"`

	// LastMonthlyRefill is stamped on yearly plans each time a monthly
	// refill batch is granted (initial credit included)
	LastMonthlyRefill *time.Time `db:"last_monthly_refill" json:"last_monthly_refill,omitempty"`

	// PaymentFailureReason holds the diagnosed reason for the most recent
	// failed payment; cleared on the next successful invoice
	PaymentFailureReason *string `db:"payment_failure_reason" json:"payment_failure_reason,omitempty"`

	types.BaseModel
}

// New creates a Subscription bound to the given gateway subscription id.
func New(ctx context.Context, userID, pgSubscriptionID string) *Subscription {
	return &Subscription{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:           userID,
		PGSubscriptionID: pgSubscriptionID,
		IsActive:         true,
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
}

func (s *Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return ierr.NewError("user_id is required").
			WithHint("Subscription must belong to a user").
			Mark(ierr.ErrValidation)
	}
	if s.PGSubscriptionID == "" {
		return ierr.NewError("pg_subscription_id is required").
			WithHint("Subscription must reference a gateway subscription").
			Mark(ierr.ErrValidation)
	}
	if s.PlanTier != "" {
		if err := s.PlanTier.Validate(); err != nil {
			return err
		}
	}
	if s.BillingCycle != "" {
		if err := s.BillingCycle.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// State derives the lifecycle state from the stored fields. The
// cancelled-pending-end phase is not visible locally until the gateway
// delivers the deletion event, so it never appears here.
func (s *Subscription) State() types.SubscriptionState {
	if !s.IsActive {
		return types.SubscriptionStateEnded
	}
	if s.PaymentFailureReason != nil && *s.PaymentFailureReason != "" {
		return types.SubscriptionStatePaymentIssue
	}
	return types.SubscriptionStateActive
}

// IsYearly reports whether the plan amortizes its tokens into monthly refills
func (s *Subscription) IsYearly() bool {
	return s.BillingCycle == types.BillingCycleYearly
}

// NeedsMonthlyRefill reports whether a yearly plan is due a refill at now,
// i.e. the last refill happened in a different calendar year-month.
func (s *Subscription) NeedsMonthlyRefill(now time.Time) bool {
	if !s.IsYearly() || !s.IsActive {
		return false
	}
	if s.LastMonthlyRefill == nil {
		return true
	}
	last := s.LastMonthlyRefill.UTC()
	now = now.UTC()
	return last.Year() != now.Year() || last.Month() != now.Month()
}
