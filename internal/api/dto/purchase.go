package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	"github.com/tokenrail/tokenrail/internal/types"
	"github.com/tokenrail/tokenrail/internal/validator"
)

// CheckoutRequest opens a hosted checkout session for a one-time token pack.
// PlanOption names the pack in the pricing catalog.
type CheckoutRequest struct {
	PlanType   string `json:"plan_type" binding:"required" validate:"required"`
	PlanOption string `json:"plan_option" binding:"required" validate:"required"`
}

func (r *CheckoutRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CheckoutResponse carries the redirect URL for the hosted payment page.
type CheckoutResponse struct {
	URL    string          `json:"url"`
	Amount decimal.Decimal `json:"amount"`
	Tokens int64           `json:"tokens"`
}

// PurchaseResponse is one fulfilled token pack purchase.
type PurchaseResponse struct {
	ID           string          `json:"id"`
	PlanTier     types.PlanTier  `json:"plan_tier"`
	AmountTokens int64           `json:"amount_tokens"`
	Discount     decimal.Decimal `json:"discount"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewPurchaseResponse converts a purchase row for API consumption.
func NewPurchaseResponse(p *purchase.Purchase) *PurchaseResponse {
	return &PurchaseResponse{
		ID:           p.ID,
		PlanTier:     p.PlanTier,
		AmountTokens: p.AmountTokens,
		Discount:     decimal.NewFromInt(p.DiscountCents).Div(decimal.NewFromInt(100)),
		PeriodStart:  p.PeriodStart,
		PeriodEnd:    p.PeriodEnd,
		CreatedAt:    p.CreatedAt,
	}
}

// ListPurchasesResponse lists the caller's purchases, newest first.
type ListPurchasesResponse struct {
	Items []*PurchaseResponse `json:"items"`
	Total int                 `json:"total"`
}
