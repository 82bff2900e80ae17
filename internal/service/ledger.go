package service

import (
	"context"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// LedgerService owns every token movement: grants, consumption, expiry and
// the balance view. Each mutation inserts or updates batches and appends a
// journal entry inside one transaction, so batch state and journal never
// drift apart.
type LedgerService interface {
	// Grant credits the user with a new batch and a positive journal entry.
	// A grant whose invoice id was already credited returns the existing
	// batch with no further effect.
	Grant(ctx context.Context, op *batch.GrantOperation) (*batch.TokenBatch, error)

	// Consume debits tokens from the user's batches in expiry order. By
	// default the debit is all-or-nothing; with BestEffort set it debits
	// whatever is available and reports the amount actually consumed.
	Consume(ctx context.Context, op *batch.ConsumeOperation) (int64, error)

	// ExpireDue deactivates every batch whose expiry has passed and
	// journals the forfeited remainder. Returns the number of batches
	// expired.
	ExpireDue(ctx context.Context, now time.Time) (int, error)

	// Balance is the user's spendable total across active, non-expired
	// batches.
	Balance(ctx context.Context, userID string) (int64, error)

	// History returns the user's journal entries, newest first.
	History(ctx context.Context, userID string, filter *types.QueryFilter) ([]*tokenevent.TokenEvent, error)
}

type ledgerService struct {
	ServiceParams
}

// NewLedgerService creates a new instance of LedgerService
func NewLedgerService(params ServiceParams) LedgerService {
	return &ledgerService{
		ServiceParams: params,
	}
}

func (s *ledgerService) Grant(ctx context.Context, op *batch.GrantOperation) (*batch.TokenBatch, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	b := batch.New(ctx, op.UserID, op.Origin, op.Amount, op.ExpiresAt)
	b.InvoiceID = op.InvoiceID
	b.Note = op.Note
	if err := b.Validate(); err != nil {
		return nil, err
	}

	granted := b
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		// The insert runs one savepoint deeper so a duplicate-invoice
		// violation leaves the enclosing transaction usable.
		insertErr := s.DB.WithTx(ctx, func(ctx context.Context) error {
			return s.BatchRepo.Create(ctx, b)
		})
		if insertErr != nil {
			if ierr.IsAlreadyExists(insertErr) && op.InvoiceID != nil {
				existing, getErr := s.BatchRepo.GetByInvoiceID(ctx, *op.InvoiceID)
				if getErr != nil {
					return getErr
				}
				s.Logger.Infow("invoice already credited, skipping grant",
					"user_id", op.UserID,
					"invoice_id", *op.InvoiceID,
					"batch_id", existing.ID,
				)
				granted = existing
				return nil
			}
			return insertErr
		}

		event := tokenevent.New(b.UserID, b.ID, b.Amount, op.Reason, time.Now().UTC())
		if err := s.TokenEventRepo.Append(ctx, event); err != nil {
			return err
		}

		s.Logger.Infow("granted token batch",
			"user_id", b.UserID,
			"batch_id", b.ID,
			"source", b.Source,
			"amount", b.Amount,
			"expires_at", b.ExpiresAt,
			"reason", op.Reason,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return granted, nil
}

func (s *ledgerService) Consume(ctx context.Context, op *batch.ConsumeOperation) (int64, error) {
	if err := op.Validate(); err != nil {
		return 0, err
	}

	var consumed int64
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		// Locks are taken in expiry order for every consumer, so two
		// concurrent debits for the same user serialize instead of
		// deadlocking.
		batches, err := s.BatchRepo.LockActiveFIFO(ctx, op.UserID, now)
		if err != nil {
			return err
		}

		var available int64
		for _, b := range batches {
			available += b.Remaining()
		}

		if available < op.Amount && !op.BestEffort {
			return ierr.NewError("insufficient tokens").
				WithHint("Not enough tokens to cover this consumption").
				WithReportableDetails(map[string]any{
					"requested": op.Amount,
					"available": available,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		remaining := op.Amount
		for _, b := range batches {
			if remaining <= 0 {
				break
			}
			take := b.Remaining()
			if take == 0 {
				continue
			}
			if take > remaining {
				take = remaining
			}

			if err := s.BatchRepo.ApplyConsumption(ctx, b.ID, take); err != nil {
				return err
			}
			event := tokenevent.New(op.UserID, b.ID, -take, op.Reason, now)
			if err := s.TokenEventRepo.Append(ctx, event); err != nil {
				return err
			}

			remaining -= take
			consumed += take
		}

		s.Logger.Debugw("consumed tokens",
			"user_id", op.UserID,
			"requested", op.Amount,
			"consumed", consumed,
			"best_effort", op.BestEffort,
		)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return consumed, nil
}

func (s *ledgerService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		batches, err := s.BatchRepo.ListDueForExpiry(ctx, now)
		if err != nil {
			return err
		}

		for _, b := range batches {
			if err := s.BatchRepo.Deactivate(ctx, b.ID); err != nil {
				return err
			}
			if remaining := b.Remaining(); remaining > 0 {
				event := tokenevent.New(b.UserID, b.ID, -remaining, types.TokenEventReasonExpiry, now)
				if err := s.TokenEventRepo.Append(ctx, event); err != nil {
					return err
				}
			}
			expired++

			s.Logger.Infow("expired token batch",
				"user_id", b.UserID,
				"batch_id", b.ID,
				"forfeited", b.Remaining(),
				"expired_at", b.ExpiresAt,
			)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return expired, nil
}

func (s *ledgerService) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ierr.NewError("user_id is required").
			WithHint("User ID is required").
			Mark(ierr.ErrValidation)
	}
	return s.BatchRepo.ActiveBalance(ctx, userID, time.Now().UTC())
}

func (s *ledgerService) History(ctx context.Context, userID string, filter *types.QueryFilter) ([]*tokenevent.TokenEvent, error) {
	if userID == "" {
		return nil, ierr.NewError("user_id is required").
			WithHint("User ID is required").
			Mark(ierr.ErrValidation)
	}
	return s.TokenEventRepo.ListByUserID(ctx, userID, filter)
}
