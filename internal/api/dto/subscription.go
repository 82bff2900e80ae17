package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/types"
)

// SubscriptionResponse is the user-facing view of a subscription.
type SubscriptionResponse struct {
	ID                 string                  `json:"id"`
	State              types.SubscriptionState `json:"state"`
	PlanTier           types.PlanTier          `json:"plan_tier"`
	BillingCycle       types.BillingCycle      `json:"billing_cycle"`
	TokensPerCycle     int64                   `json:"tokens_per_cycle"`
	Price              decimal.Decimal         `json:"price"`
	CurrentPeriodStart *time.Time              `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time              `json:"current_period_end,omitempty"`
	// PaymentFailureReason is set while the subscription is in dunning
	PaymentFailureReason *string `json:"payment_failure_reason,omitempty"`
}

// NewSubscriptionResponse converts a subscription row for API consumption.
func NewSubscriptionResponse(s *subscription.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:                   s.ID,
		State:                s.State(),
		PlanTier:             s.PlanTier,
		BillingCycle:         s.BillingCycle,
		TokensPerCycle:       s.TokensPerCycle,
		Price:                decimal.NewFromInt(s.PriceCents).Div(decimal.NewFromInt(100)),
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		PaymentFailureReason: s.PaymentFailureReason,
	}
}

// CancelSubscriptionResponse acknowledges a cancel-at-period-end request.
type CancelSubscriptionResponse struct {
	Message string `json:"message"`
	// EndsAt is the end of the already-paid period, when known
	EndsAt *time.Time `json:"ends_at,omitempty"`
}
