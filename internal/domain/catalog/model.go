package catalog

import (
	"github.com/tokenrail/tokenrail/internal/types"
)

// SubscriptionPrice is one recurring plan in the pricing catalog, keyed by
// the gateway price id. MonthlyRefillTokens is set on yearly plans whose
// grant is amortized into monthly batches.
type SubscriptionPrice struct {
	PlanKey             string             `db:"plan_key" json:"plan_key"`
	PlanTier            types.PlanTier     `db:"plan_tier" json:"plan_tier"`
	BillingCycle        types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	TokensPerCycle      int64              `db:"tokens_per_cycle" json:"tokens_per_cycle"`
	MonthlyRefillTokens *int64             `db:"monthly_refill_tokens" json:"monthly_refill_tokens,omitempty"`
	PriceCents          int64              `db:"price_cents" json:"price_cents"`
}

func (p *SubscriptionPrice) TableName() string {
	return "subscription_prices"
}

// MonthlyRefillAmount is the size of one yearly-plan monthly grant, falling
// back to a twelfth of the cycle total when the catalog does not pin it.
func (p *SubscriptionPrice) MonthlyRefillAmount() int64 {
	if p.MonthlyRefillTokens != nil && *p.MonthlyRefillTokens > 0 {
		return *p.MonthlyRefillTokens
	}
	return p.TokensPerCycle / 12
}

// TokenPrice is one one-time token pack in the pricing catalog
type TokenPrice struct {
	PlanKey    string         `db:"plan_key" json:"plan_key"`
	Tier       types.PlanTier `db:"tier" json:"tier"`
	Tokens     int64          `db:"tokens" json:"tokens"`
	PriceCents int64          `db:"price_cents" json:"price_cents"`
}

func (p *TokenPrice) TableName() string {
	return "token_prices"
}
