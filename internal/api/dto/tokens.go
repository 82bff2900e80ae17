package dto

import (
	"time"

	"github.com/samber/lo"

	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	"github.com/tokenrail/tokenrail/internal/types"
	"github.com/tokenrail/tokenrail/internal/validator"
)

// BalanceResponse is the user's spendable token total.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// ConsumeTokensRequest debits tokens from the caller's balance. BestEffort
// turns the all-or-nothing debit into a partial one.
type ConsumeTokensRequest struct {
	Amount     int64  `json:"amount" binding:"required,gt=0" validate:"required,gt=0"`
	Reason     string `json:"reason" binding:"omitempty" validate:"omitempty,max=255"`
	BestEffort bool   `json:"best_effort"`
}

func (r *ConsumeTokensRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ConsumeTokensResponse reports the debit outcome.
type ConsumeTokensResponse struct {
	Requested int64 `json:"requested"`
	Consumed  int64 `json:"consumed"`
	Balance   int64 `json:"balance"`
}

// TokenEventResponse is one journal entry.
type TokenEventResponse struct {
	ID      string                 `json:"id"`
	BatchID string                 `json:"batch_id"`
	Delta   int64                  `json:"delta"`
	Reason  types.TokenEventReason `json:"reason"`
	At      time.Time              `json:"at"`
}

// TokenHistoryResponse pages through a user's journal, newest first.
type TokenHistoryResponse struct {
	Items  []*TokenEventResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// NewTokenHistoryResponse converts journal entries for API consumption.
func NewTokenHistoryResponse(events []*tokenevent.TokenEvent, filter *types.QueryFilter) *TokenHistoryResponse {
	return &TokenHistoryResponse{
		Items: lo.Map(events, func(e *tokenevent.TokenEvent, _ int) *TokenEventResponse {
			return &TokenEventResponse{
				ID:      e.ID,
				BatchID: e.BatchID,
				Delta:   e.Delta,
				Reason:  e.Reason,
				At:      e.At,
			}
		}),
		Limit:  filter.GetLimit(),
		Offset: filter.GetOffset(),
	}
}
