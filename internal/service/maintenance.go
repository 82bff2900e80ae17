package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/types"
)

// MaintenanceService is the daily background pass: expire batches that are
// past due, end subscriptions that ran out, refill what yearly plans are
// owed. Every step is idempotent so the scheduler may rerun a day freely.
type MaintenanceService interface {
	Run(ctx context.Context, now time.Time) (*dto.MaintenanceRunResponse, error)
}

type maintenanceService struct {
	ServiceParams
	ledger        LedgerService
	subscriptions SubscriptionService
}

// NewMaintenanceService creates a new instance of MaintenanceService
func NewMaintenanceService(params ServiceParams) MaintenanceService {
	return &maintenanceService{
		ServiceParams: params,
		ledger:        NewLedgerService(params),
		subscriptions: NewSubscriptionService(params),
	}
}

func (s *maintenanceService) Run(ctx context.Context, now time.Time) (*dto.MaintenanceRunResponse, error) {
	now = now.UTC()
	response := &dto.MaintenanceRunResponse{}

	expired, err := s.ledger.ExpireDue(ctx, now)
	if err != nil {
		return nil, err
	}
	response.ExpiredBatches = expired

	// The gateway normally ends a lapsed subscription with a deletion
	// event; this pass catches the ones it never delivered.
	pastDue, err := s.SubRepo.ListActivePastPeriodEnd(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, sub := range pastDue {
		if err := s.subscriptions.End(ctx, sub, subscription.StateEventPeriodElapsed); err != nil {
			s.Logger.Errorw("failed to end elapsed subscription",
				"error", err,
				"subscription_id", sub.ID,
				"user_id", sub.UserID,
			)
			response.Failed++
			continue
		}
		response.EndedSubscriptions++
	}

	yearly, err := s.SubRepo.ListActiveByBillingCycle(ctx, types.BillingCycleYearly)
	if err != nil {
		return nil, err
	}
	for _, sub := range yearly {
		granted, err := s.subscriptions.RefillMonthly(ctx, sub, now)
		if err != nil {
			s.Logger.Errorw("failed to refill yearly subscription",
				"error", err,
				"subscription_id", sub.ID,
				"user_id", sub.UserID,
			)
			response.Failed++
			continue
		}
		if granted {
			response.Refills++
		}
	}

	s.Logger.Infow("maintenance run complete",
		"expired_batches", response.ExpiredBatches,
		"ended_subscriptions", response.EndedSubscriptions,
		"refills", response.Refills,
		"failed", response.Failed,
	)

	if response.Failed > 0 {
		_ = s.AlertSender.Send(ctx, &alert.Alert{
			Severity: alert.SeverityWarning,
			Title:    "maintenance pass had failures",
			Message:  fmt.Sprintf("%d items failed; the rest of the pass completed", response.Failed),
			Details: map[string]any{
				"expired_batches":     response.ExpiredBatches,
				"ended_subscriptions": response.EndedSubscriptions,
				"refills":             response.Refills,
				"failed":              response.Failed,
			},
		})
	}
	return response, nil
}
