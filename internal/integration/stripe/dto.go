package stripe

import (
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// CheckoutSessionRequest describes a one-time token purchase to be turned
// into a hosted checkout session. Metadata is echoed back on the completed
// session and is how the webhook side recovers the purchase intent.
type CheckoutSessionRequest struct {
	CustomerID    string
	CustomerEmail string
	ProductName   string
	Currency      string
	AmountCents   int64
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

func (r *CheckoutSessionRequest) Validate() error {
	if r.ProductName == "" {
		return ierr.NewError("product name is required").
			WithHint("Product name is required").
			Mark(ierr.ErrValidation)
	}
	if r.AmountCents <= 0 {
		return ierr.NewError("amount must be positive").
			WithHint("Checkout amount must be positive").
			WithReportableDetails(map[string]any{
				"amount_cents": r.AmountCents,
			}).
			Mark(ierr.ErrValidation)
	}
	if r.SuccessURL == "" || r.CancelURL == "" {
		return ierr.NewError("redirect urls are required").
			WithHint("Success and cancel URLs are required").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CheckoutSessionResponse carries the hosted payment page location.
type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}
