package batch

import (
	"time"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// GrantOperation describes a token credit to be applied to a user's ledger.
// InvoiceID, when set, makes the grant idempotent: a second grant for the
// same invoice resolves to the already-created batch.
type GrantOperation struct {
	UserID    string                 `json:"user_id"`
	Origin    types.BatchOrigin      `json:"origin"`
	Amount    int64                  `json:"amount"`
	ExpiresAt time.Time              `json:"expires_at"`
	InvoiceID *string                `json:"invoice_id,omitempty"`
	Note      string                 `json:"note,omitempty"`
	Reason    types.TokenEventReason `json:"reason"`
}

func (op *GrantOperation) Validate() error {
	if op.UserID == "" {
		return ierr.NewError("user_id is required").
			WithHint("User ID is required").
			Mark(ierr.ErrValidation)
	}
	if op.Amount <= 0 {
		return ierr.NewError("grant amount must be positive").
			WithHint("Grant amount must be positive").
			WithReportableDetails(map[string]any{
				"amount": op.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if op.ExpiresAt.IsZero() {
		return ierr.NewError("expiry is required").
			WithHint("Grant expiry is required").
			Mark(ierr.ErrValidation)
	}
	if err := op.Origin.Validate(); err != nil {
		return err
	}
	if err := op.Reason.Validate(); err != nil {
		return err
	}
	return nil
}

// ConsumeOperation describes a token debit. Consumption drains batches in
// expiry order. By default the debit is all-or-nothing; BestEffort permits
// a partial debit of whatever balance is available.
type ConsumeOperation struct {
	UserID     string                 `json:"user_id"`
	Amount     int64                  `json:"amount"`
	Reason     types.TokenEventReason `json:"reason"`
	BestEffort bool                   `json:"best_effort,omitempty"`
}

func (op *ConsumeOperation) Validate() error {
	if op.UserID == "" {
		return ierr.NewError("user_id is required").
			WithHint("User ID is required").
			Mark(ierr.ErrValidation)
	}
	if op.Amount <= 0 {
		return ierr.NewError("consume amount must be positive").
			WithHint("Consume amount must be positive").
			WithReportableDetails(map[string]any{
				"amount": op.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if err := op.Reason.Validate(); err != nil {
		return err
	}
	return nil
}
