package batch

import (
	"context"
	"time"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// TokenBatch is the ledger's atom: a block of credit with an amount, an
// expiry, and an origin. Consumption only ever moves Consumed towards Amount;
// the remainder is what the user can still spend while the batch is active
// and not expired.
type TokenBatch struct {
	ID     string            `db:"id" json:"id"`
	UserID string            `db:"user_id" json:"user_id"`
	Source types.BatchSource `db:"source" json:"source"`

	// Exactly one of these is set, matching Source: the subscription or
	// purchase that granted the batch, or the referrer it rewards.
	SubscriptionID *string `db:"subscription_id" json:"subscription_id,omitempty"`
	PurchaseID     *string `db:"purchase_id" json:"purchase_id,omitempty"`
	ReferrerID     *string `db:"referrer_id" json:"referrer_id,omitempty"`

	// InvoiceID anchors credit idempotency for subscription batches; the
	// unique index rejects a second grant for the same invoice
	InvoiceID *string `db:"invoice_id" json:"invoice_id,omitempty"`

	Amount    int64     `db:"amount" json:"amount"`
	Consumed  int64     `db:"consumed" json:"consumed"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	Note      string    `db:"note" json:"note,omitempty"`
	types.BaseModel
}

// New creates a TokenBatch from an origin. The nullable foreign keys are
// derived from the origin so the pairing invariant cannot be violated by
// hand-assembled structs.
func New(ctx context.Context, userID string, origin types.BatchOrigin, amount int64, expiresAt time.Time) *TokenBatch {
	b := &TokenBatch{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BATCH),
		UserID:    userID,
		Source:    origin.Source,
		Amount:    amount,
		ExpiresAt: expiresAt.UTC(),
		IsActive:  true,
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	if origin.SubscriptionID != "" {
		b.SubscriptionID = &origin.SubscriptionID
	}
	if origin.PurchaseID != "" {
		b.PurchaseID = &origin.PurchaseID
	}
	if origin.ReferrerID != "" {
		b.ReferrerID = &origin.ReferrerID
	}
	return b
}

func (b *TokenBatch) TableName() string {
	return "token_batches"
}

// Remaining is the spendable residue of the batch
func (b *TokenBatch) Remaining() int64 {
	r := b.Amount - b.Consumed
	if r < 0 {
		return 0
	}
	return r
}

// IsExpired reports whether the batch's expiry has passed at now
func (b *TokenBatch) IsExpired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

// Origin reconstructs the typed origin from the persisted columns
func (b *TokenBatch) Origin() types.BatchOrigin {
	switch b.Source {
	case types.BatchSourceSubscription:
		if b.SubscriptionID != nil {
			return types.SubscriptionOrigin(*b.SubscriptionID)
		}
	case types.BatchSourcePurchase:
		if b.PurchaseID != nil {
			return types.PurchaseOrigin(*b.PurchaseID)
		}
	case types.BatchSourceReferral:
		if b.ReferrerID != nil {
			return types.ReferralOrigin(*b.ReferrerID)
		}
	}
	return types.BatchOrigin{Source: b.Source}
}

func (b *TokenBatch) Validate() error {
	if b.UserID == "" {
		return ierr.NewError("user_id is required").
			WithHint("Batch must belong to a user").
			Mark(ierr.ErrValidation)
	}
	if err := b.Source.Validate(); err != nil {
		return err
	}
	if b.Amount <= 0 {
		return ierr.NewError("amount must be positive").
			WithHint("Batch amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"amount": b.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if b.Consumed < 0 || b.Consumed > b.Amount {
		return ierr.NewError("consumed out of bounds").
			WithHint("Consumed must stay between zero and the batch amount").
			WithReportableDetails(map[string]any{
				"amount":   b.Amount,
				"consumed": b.Consumed,
			}).
			Mark(ierr.ErrValidation)
	}
	switch b.Source {
	case types.BatchSourceSubscription:
		if b.SubscriptionID == nil || b.PurchaseID != nil {
			return ierr.NewError("subscription batch requires a subscription id").
				WithHint("Subscription batches must reference exactly one subscription").
				Mark(ierr.ErrValidation)
		}
		if b.InvoiceID == nil || *b.InvoiceID == "" {
			return ierr.NewError("subscription batch requires an invoice id").
				WithHint("Subscription credits are keyed by their invoice").
				Mark(ierr.ErrValidation)
		}
	case types.BatchSourcePurchase:
		if b.PurchaseID == nil || b.SubscriptionID != nil {
			return ierr.NewError("purchase batch requires a purchase id").
				WithHint("Purchase batches must reference exactly one purchase").
				Mark(ierr.ErrValidation)
		}
	case types.BatchSourceReferral:
		if b.ReferrerID == nil || b.SubscriptionID != nil || b.PurchaseID != nil {
			return ierr.NewError("referral batch requires a referrer id").
				WithHint("Referral batches only carry the referrer").
				Mark(ierr.ErrValidation)
		}
	}
	if b.ExpiresAt.IsZero() {
		return ierr.NewError("expires_at is required").
			WithHint("Every batch must carry an expiry").
			Mark(ierr.ErrValidation)
	}
	return nil
}
