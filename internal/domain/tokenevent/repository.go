package tokenevent

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/types"
)

// Repository defines the interface for the token event journal. The journal
// is append-only; there are no update or delete operations.
type Repository interface {
	Append(ctx context.Context, e *TokenEvent) error

	// ListByUserID returns journal entries for the user, newest first
	ListByUserID(ctx context.Context, userID string, filter *types.QueryFilter) ([]*TokenEvent, error)

	// SumDeltaByUserID is the running sum of all deltas for the user
	SumDeltaByUserID(ctx context.Context, userID string) (int64, error)

	// SumDeltaByBatchID is the running sum of all deltas against one batch
	SumDeltaByBatchID(ctx context.Context, batchID string) (int64, error)
}
