package tokenevent

import (
	"time"

	"github.com/tokenrail/tokenrail/internal/types"
)

// TokenEvent is one entry in the append-only balance journal. Delta is
// signed: grants are positive, consumption and expiry are negative. While a
// batch is active the per-batch sum of deltas equals amount − consumed;
// after the expiry sweep it is zero.
type TokenEvent struct {
	ID      string                 `db:"id" json:"id"`
	UserID  string                 `db:"user_id" json:"user_id"`
	BatchID string                 `db:"batch_id" json:"batch_id"`
	Delta   int64                  `db:"delta" json:"delta"`
	Reason  types.TokenEventReason `db:"reason" json:"reason"`
	At      time.Time              `db:"at" json:"at"`
}

func New(userID, batchID string, delta int64, reason types.TokenEventReason, at time.Time) *TokenEvent {
	return &TokenEvent{
		ID:      types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TOKEN_EVENT),
		UserID:  userID,
		BatchID: batchID,
		Delta:   delta,
		Reason:  reason,
		At:      at.UTC(),
	}
}

func (e *TokenEvent) TableName() string {
	return "token_events"
}
