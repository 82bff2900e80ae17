package batch

import (
	"context"
	"time"
)

// Repository defines the interface for token batch persistence operations
type Repository interface {
	// Create inserts the batch; an invoice_id conflict is reported as an
	// already-exists error so callers can treat the grant as done
	Create(ctx context.Context, b *TokenBatch) error
	GetByID(ctx context.Context, id string) (*TokenBatch, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*TokenBatch, error)

	// LockActiveFIFO returns the user's active, non-expired batches ordered
	// expires_at ASC, id ASC with row locks held for the enclosing
	// transaction. Must be called inside WithTx.
	LockActiveFIFO(ctx context.Context, userID string, now time.Time) ([]*TokenBatch, error)

	// ApplyConsumption moves consumed forward by delta on one batch. The
	// update is rejected if it would push consumed past amount.
	ApplyConsumption(ctx context.Context, id string, delta int64) error

	// Deactivate flips is_active off
	Deactivate(ctx context.Context, id string) error

	// ListDueForExpiry returns active batches whose expiry has passed
	ListDueForExpiry(ctx context.Context, now time.Time) ([]*TokenBatch, error)

	// ActiveBalance is Σ max(0, amount − consumed) over the user's active,
	// non-expired batches
	ActiveBalance(ctx context.Context, userID string, now time.Time) (int64, error)

	// ActiveRemainder is Σ (amount − consumed) over every is_active batch of
	// the user, with no expiry cutoff. Matches the journal sum at all times:
	// a batch past its expiry but not yet deactivated still counts here, and
	// its expiry journal entry is not written yet either.
	ActiveRemainder(ctx context.Context, userID string) (int64, error)

	// ListActiveByUserID returns the user's active, non-expired batches
	// without locking, FIFO ordered
	ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*TokenBatch, error)
}
