package purchase

import (
	"context"
	"time"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// TokenValidityDays is how long purchased tokens stay spendable.
const TokenValidityDays = 60

// Purchase records one paid one-time token pack. PGPurchaseID is the gateway
// object the payment arrived on (checkout session or payment intent id) and
// doubles as the idempotency anchor. Rows are immutable after insert.
type Purchase struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	PlanTier      types.PlanTier `db:"plan_tier" json:"plan_tier"`
	PGPurchaseID  string         `db:"pg_purchase_id" json:"pg_purchase_id"`
	AmountTokens  int64          `db:"amount_tokens" json:"amount_tokens"`
	DiscountCents int64          `db:"discount_cents" json:"discount_cents"`
	PeriodStart   time.Time      `db:"period_start" json:"period_start"`
	PeriodEnd     time.Time      `db:"period_end" json:"period_end"`
	types.BaseModel
}

func New(ctx context.Context, userID, pgPurchaseID string) *Purchase {
	return &Purchase{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PURCHASE),
		UserID:       userID,
		PGPurchaseID: pgPurchaseID,
		BaseModel:    types.GetDefaultBaseModel(ctx),
	}
}

func (p *Purchase) TableName() string {
	return "purchases"
}

func (p *Purchase) Validate() error {
	if p.UserID == "" {
		return ierr.NewError("user_id is required").
			WithHint("Purchase must belong to a user").
			Mark(ierr.ErrValidation)
	}
	if p.PGPurchaseID == "" {
		return ierr.NewError("pg_purchase_id is required").
			WithHint("Purchase must reference a gateway payment").
			Mark(ierr.ErrValidation)
	}
	if p.AmountTokens <= 0 {
		return ierr.NewError("amount_tokens must be positive").
			WithHint("Purchase must grant at least one token").
			WithReportableDetails(map[string]any{
				"amount_tokens": p.AmountTokens,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
