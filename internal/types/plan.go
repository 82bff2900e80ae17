package types

import (
	"time"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/samber/lo"
)

// PlanTier identifies the product tier a subscription or one-time
// purchase belongs to. The set mirrors the gateway catalog.
type PlanTier string

const (
	PlanTierBasic    PlanTier = "basic"
	PlanTierStandard PlanTier = "standard"
	PlanTierPremium  PlanTier = "premium"
	PlanTierUltra    PlanTier = "ultra"
	PlanTierDaily    PlanTier = "daily"
)

func (t PlanTier) String() string {
	return string(t)
}

func (t PlanTier) Validate() error {
	allowed := []PlanTier{
		PlanTierBasic,
		PlanTierStandard,
		PlanTierPremium,
		PlanTierUltra,
		PlanTierDaily,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid plan tier").
			WithHint("Invalid plan tier").
			WithReportableDetails(map[string]any{
				"tier":          t,
				"allowed_tiers": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BillingCycle is the recurrence of a subscription plan
type BillingCycle string

const (
	BillingCycleDaily   BillingCycle = "daily"
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) String() string {
	return string(c)
}

func (c BillingCycle) Validate() error {
	allowed := []BillingCycle{
		BillingCycleDaily,
		BillingCycleMonthly,
		BillingCycleYearly,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid billing cycle").
			WithHint("Invalid billing cycle").
			WithReportableDetails(map[string]any{
				"billing_cycle":  c,
				"allowed_cycles": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NextPeriodEnd returns the end of one billing cycle starting at from.
// Used as the last-resort expiry fallback when neither the invoice line
// nor the subscription carries a period end.
func (c BillingCycle) NextPeriodEnd(from time.Time) time.Time {
	switch c {
	case BillingCycleDaily:
		return from.AddDate(0, 0, 1)
	case BillingCycleYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}
