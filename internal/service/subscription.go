package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/types"
)

// SubscriptionService owns the subscription lifecycle. Every mutation goes
// through the transition table in the subscription domain, so state moves
// are spelled out in one place and invalid ones are logged and skipped
// instead of guessed at.
type SubscriptionService interface {
	// SyncFromGateway upserts the local mirror of a gateway subscription,
	// refreshing plan fields from the pricing catalog. The bool reports
	// whether the row was newly inserted.
	SyncFromGateway(ctx context.Context, u *user.User, gwSub *stripe.Subscription) (*subscription.Subscription, bool, error)

	// ApplyInvoiceCredit applies the credit policy for a paid subscription
	// invoice: which billing reasons grant, how yearly plans amortize into
	// monthly batches, where the expiry comes from. Reports whether a
	// grant happened.
	ApplyInvoiceCredit(ctx context.Context, sub *subscription.Subscription, inv *stripe.Invoice) (bool, error)

	// GrantUpgradeCredit credits one cycle's tokens (one month's worth on
	// yearly plans) after a tier change, anchored on the given idempotency
	// key so replays cannot double-grant.
	GrantUpgradeCredit(ctx context.Context, sub *subscription.Subscription, anchor string) error

	// RefillMonthly grants one month's tokens on a yearly plan. A no-op
	// unless the last refill happened in an earlier calendar month; the
	// grant is additionally anchored on a per-month invoice id so a rerun
	// lands on the existing batch. Reports whether a grant happened.
	RefillMonthly(ctx context.Context, sub *subscription.Subscription, now time.Time) (bool, error)

	// RecordPaymentFailure stamps the diagnosed failure reason and flags
	// the user. Entitlement stays untouched while the gateway retries.
	RecordPaymentFailure(ctx context.Context, sub *subscription.Subscription, reason string) error

	// ClearPaymentIssue removes the failure flags after a successful charge
	ClearPaymentIssue(ctx context.Context, sub *subscription.Subscription) error

	// End deactivates the subscription and clears the user's active flag
	// when no other active subscription remains. Token batches live on to
	// their natural expiry.
	End(ctx context.Context, sub *subscription.Subscription, ev subscription.StateEvent) error

	// CancelCurrent schedules the user's active subscription to end with
	// the paid period. Local state stays untouched until the gateway
	// confirms with a deletion event.
	CancelCurrent(ctx context.Context, userID string) (*dto.CancelSubscriptionResponse, error)

	// GetCurrent returns the user's newest active subscription
	GetCurrent(ctx context.Context, userID string) (*dto.SubscriptionResponse, error)
}

type subscriptionService struct {
	ServiceParams
}

// NewSubscriptionService creates a new instance of SubscriptionService
func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
	}
}

func (s *subscriptionService) SyncFromGateway(ctx context.Context, u *user.User, gwSub *stripe.Subscription) (*subscription.Subscription, bool, error) {
	planKey := integration.SubscriptionPlanKey(gwSub)
	if planKey == "" {
		return nil, false, ierr.NewError("subscription payload carries no price").
			WithHint("Gateway subscription has no items").
			WithReportableDetails(map[string]any{
				"pg_subscription_id": gwSub.ID,
			}).
			Mark(ierr.ErrValidation)
	}

	price, err := s.CatalogRepo.GetSubscriptionPrice(ctx, planKey)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, false, ierr.NewError("plan missing from catalog").
				WithHint("The pricing catalog has no entry for this gateway price").
				WithReportableDetails(map[string]any{
					"plan_key":           planKey,
					"pg_subscription_id": gwSub.ID,
				}).
				Mark(ierr.ErrCatalogMissing)
		}
		return nil, false, err
	}

	sub := subscription.New(ctx, u.ID, gwSub.ID)
	sub.PlanKey = price.PlanKey
	sub.PlanTier = price.PlanTier
	sub.BillingCycle = price.BillingCycle
	sub.TokensPerCycle = price.TokensPerCycle
	sub.PriceCents = price.PriceCents
	sub.IsActive = integration.SubscriptionStatusActive(gwSub.Status)
	if start, end, ok := integration.SubscriptionPeriod(gwSub); ok {
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
	}
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}

	var stored *subscription.Subscription
	var created bool
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		stored, created, txErr = s.SubRepo.Upsert(ctx, sub)
		if txErr != nil {
			return txErr
		}
		return s.UserRepo.UpdateFlags(ctx, u.ID, user.Flags{
			HasActiveSubscription: lo.ToPtr(stored.IsActive),
		})
	})
	if err != nil {
		return nil, false, err
	}

	s.Logger.Infow("synced subscription from gateway",
		"subscription_id", stored.ID,
		"pg_subscription_id", stored.PGSubscriptionID,
		"user_id", u.ID,
		"plan_tier", stored.PlanTier,
		"billing_cycle", stored.BillingCycle,
		"is_active", stored.IsActive,
		"created", created,
	)
	return stored, created, nil
}

func (s *subscriptionService) ApplyInvoiceCredit(ctx context.Context, sub *subscription.Subscription, inv *stripe.Invoice) (bool, error) {
	reason := types.BillingReason(inv.BillingReason)

	var eventReason types.TokenEventReason
	var note string
	switch reason {
	case types.BillingReasonSubscriptionCreate:
		eventReason = types.TokenEventReasonSubscriptionInitialCredit
		note = "subscription-initial"
	case types.BillingReasonSubscriptionCycle:
		eventReason = types.TokenEventReasonSubscriptionRefill
		note = "subscription-cycle-refill"
	case types.BillingReasonSubscriptionUpdate:
		eventReason = types.TokenEventReasonSubscriptionUpgradeCredit
		note = "subscription-upgrade"
	default:
		s.Logger.Debugw("invoice billing reason grants no credit",
			"invoice_id", inv.ID,
			"billing_reason", inv.BillingReason,
		)
		return false, nil
	}

	now := time.Now().UTC()
	var amount int64
	var expiresAt time.Time

	if sub.IsYearly() {
		// Yearly plans amortize: the cycle renewal grants nothing here,
		// the maintenance pass owns the monthly refills.
		if reason == types.BillingReasonSubscriptionCycle {
			s.Logger.Infow("yearly renewal invoice, refills are granted monthly",
				"subscription_id", sub.ID,
				"invoice_id", inv.ID,
			)
			return false, nil
		}
		amount = s.monthlyRefillAmount(ctx, sub)
		expiresAt = now.AddDate(0, 1, 0)
	} else {
		amount = sub.TokensPerCycle
		var ok bool
		if expiresAt, ok = integration.PeriodEndFromInvoice(inv); !ok {
			if sub.CurrentPeriodEnd != nil {
				expiresAt = *sub.CurrentPeriodEnd
			} else {
				expiresAt = sub.BillingCycle.NextPeriodEnd(now)
			}
		}
	}

	if amount <= 0 {
		s.Logger.Warnw("credit policy computed a non-positive grant, skipping",
			"subscription_id", sub.ID,
			"invoice_id", inv.ID,
			"amount", amount,
		)
		return false, nil
	}

	ledger := NewLedgerService(s.ServiceParams)
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := ledger.Grant(ctx, &batch.GrantOperation{
			UserID:    sub.UserID,
			Origin:    types.SubscriptionOrigin(sub.ID),
			Amount:    amount,
			ExpiresAt: expiresAt,
			InvoiceID: lo.ToPtr(inv.ID),
			Note:      note,
			Reason:    eventReason,
		}); err != nil {
			return err
		}
		if sub.IsYearly() {
			return s.SubRepo.StampMonthlyRefill(ctx, sub.ID, now)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.Logger.Infow("applied invoice credit",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"invoice_id", inv.ID,
		"billing_reason", inv.BillingReason,
		"amount", amount,
		"expires_at", expiresAt,
	)
	return true, nil
}

func (s *subscriptionService) GrantUpgradeCredit(ctx context.Context, sub *subscription.Subscription, anchor string) error {
	now := time.Now().UTC()

	var amount int64
	var expiresAt time.Time
	if sub.IsYearly() {
		amount = s.monthlyRefillAmount(ctx, sub)
		expiresAt = now.AddDate(0, 1, 0)
	} else {
		amount = sub.TokensPerCycle
		if sub.CurrentPeriodEnd != nil {
			expiresAt = *sub.CurrentPeriodEnd
		} else {
			expiresAt = sub.BillingCycle.NextPeriodEnd(now)
		}
	}
	if amount <= 0 {
		return nil
	}

	ledger := NewLedgerService(s.ServiceParams)
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := ledger.Grant(ctx, &batch.GrantOperation{
			UserID:    sub.UserID,
			Origin:    types.SubscriptionOrigin(sub.ID),
			Amount:    amount,
			ExpiresAt: expiresAt,
			InvoiceID: lo.ToPtr(anchor),
			Note:      "plan-upgrade",
			Reason:    types.TokenEventReasonSubscriptionUpgradeCredit,
		}); err != nil {
			return err
		}
		if sub.IsYearly() {
			return s.SubRepo.StampMonthlyRefill(ctx, sub.ID, now)
		}
		return nil
	})
}

func (s *subscriptionService) RefillMonthly(ctx context.Context, sub *subscription.Subscription, now time.Time) (bool, error) {
	if !sub.NeedsMonthlyRefill(now) {
		return false, nil
	}

	amount := s.monthlyRefillAmount(ctx, sub)
	if amount <= 0 {
		s.Logger.Warnw("monthly refill computed a non-positive grant, skipping",
			"subscription_id", sub.ID,
			"amount", amount,
		)
		return false, nil
	}

	now = now.UTC()
	anchor := fmt.Sprintf("refill:%s:%s", sub.ID, now.Format("2006-01"))

	ledger := NewLedgerService(s.ServiceParams)
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := ledger.Grant(ctx, &batch.GrantOperation{
			UserID:    sub.UserID,
			Origin:    types.SubscriptionOrigin(sub.ID),
			Amount:    amount,
			ExpiresAt: now.AddDate(0, 1, 0),
			InvoiceID: lo.ToPtr(anchor),
			Note:      "yearly-monthly-refill (cron)",
			Reason:    types.TokenEventReasonSubscriptionRefill,
		}); err != nil {
			return err
		}
		return s.SubRepo.StampMonthlyRefill(ctx, sub.ID, now)
	})
	if err != nil {
		return false, err
	}

	s.Logger.Infow("granted monthly refill",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"amount", amount,
		"anchor", anchor,
	)
	return true, nil
}

func (s *subscriptionService) RecordPaymentFailure(ctx context.Context, sub *subscription.Subscription, reason string) error {
	if _, err := subscription.NextState(sub.State(), subscription.StateEventPaymentFailed); err != nil {
		s.Logger.Warnw("payment failure does not apply to subscription state, skipping",
			"subscription_id", sub.ID,
			"state", sub.State(),
		)
		return nil
	}

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.SetPaymentFailure(ctx, sub.ID, reason); err != nil {
			return err
		}
		return s.UserRepo.UpdateFlags(ctx, sub.UserID, user.Flags{
			HasPaymentIssue: lo.ToPtr(true),
		})
	})
	if err != nil {
		return err
	}

	s.Logger.Warnw("recorded payment failure",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"reason", reason,
	)
	return nil
}

func (s *subscriptionService) ClearPaymentIssue(ctx context.Context, sub *subscription.Subscription) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.ClearPaymentFailure(ctx, sub.ID); err != nil {
			return err
		}
		return s.UserRepo.UpdateFlags(ctx, sub.UserID, user.Flags{
			HasPaymentIssue: lo.ToPtr(false),
		})
	})
}

func (s *subscriptionService) End(ctx context.Context, sub *subscription.Subscription, ev subscription.StateEvent) error {
	next, err := subscription.NextState(sub.State(), ev)
	if err != nil {
		s.Logger.Warnw("end does not apply to subscription state, skipping",
			"subscription_id", sub.ID,
			"state", sub.State(),
			"event", ev,
		)
		return nil
	}
	if next != types.SubscriptionStateEnded {
		return nil
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.Deactivate(ctx, sub.ID); err != nil {
			return err
		}

		// Another active subscription keeps the user entitled; only the
		// last one leaving clears the flag.
		_, lookupErr := s.SubRepo.GetLatestActiveByUserID(ctx, sub.UserID)
		if lookupErr == nil {
			return nil
		}
		if !ierr.IsNotFound(lookupErr) {
			return lookupErr
		}
		return s.UserRepo.UpdateFlags(ctx, sub.UserID, user.Flags{
			HasActiveSubscription: lo.ToPtr(false),
		})
	})
	if err != nil {
		return err
	}

	s.Logger.Infow("ended subscription",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"event", ev,
	)
	return nil
}

func (s *subscriptionService) CancelCurrent(ctx context.Context, userID string) (*dto.CancelSubscriptionResponse, error) {
	sub, err := s.SubRepo.GetLatestActiveByUserID(ctx, userID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("no active subscription").
				WithHint("You have no active subscription to cancel").
				Mark(ierr.ErrNotFound)
		}
		return nil, err
	}

	if _, err := subscription.NextState(sub.State(), subscription.StateEventCancelRequested); err != nil {
		return nil, ierr.NewError("subscription cannot be cancelled").
			WithHint("The subscription is not in a cancellable state").
			WithReportableDetails(map[string]any{
				"state": sub.State(),
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	gwSub, err := s.Gateway.CancelAtPeriodEnd(ctx, sub.PGSubscriptionID)
	if err != nil {
		return nil, err
	}

	resp := &dto.CancelSubscriptionResponse{
		Message: "Your subscription will remain active until the end of the current billing period",
	}
	if _, end, ok := integration.SubscriptionPeriod(gwSub); ok {
		resp.EndsAt = &end
		resp.Message = fmt.Sprintf(
			"Your subscription will remain active until %s",
			end.Format("January 2, 2006"),
		)
	} else if sub.CurrentPeriodEnd != nil {
		resp.EndsAt = sub.CurrentPeriodEnd
	}

	s.Logger.Infow("scheduled subscription cancellation",
		"subscription_id", sub.ID,
		"user_id", userID,
		"pg_subscription_id", sub.PGSubscriptionID,
	)
	return resp, nil
}

func (s *subscriptionService) GetCurrent(ctx context.Context, userID string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.GetLatestActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

// monthlyRefillAmount is one month's grant on a yearly plan, preferring the
// catalog's pinned amount over the denormalized twelfth.
func (s *subscriptionService) monthlyRefillAmount(ctx context.Context, sub *subscription.Subscription) int64 {
	if price, err := s.CatalogRepo.GetSubscriptionPrice(ctx, sub.PlanKey); err == nil {
		return price.MonthlyRefillAmount()
	}
	return sub.TokensPerCycle / 12
}
