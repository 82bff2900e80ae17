package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/types"
)

const reconciliationPageSize = 200

// ReconciliationService compares local state against the gateway and
// reports drift. It reads and reports only; nothing is healed, because a
// mismatch here means an event was lost or mishandled and the fix should
// be a deliberate one.
type ReconciliationService interface {
	// Run walks every active local subscription against the gateway and
	// every active gateway subscription against the local mirror. With
	// auditBalances set it also proves each user's journal sum equals
	// their batch remainders. Checked counts entities examined.
	Run(ctx context.Context, auditBalances bool) (*dto.ReconciliationRunResponse, error)
}

type reconciliationService struct {
	ServiceParams
}

// NewReconciliationService creates a new instance of ReconciliationService
func NewReconciliationService(params ServiceParams) ReconciliationService {
	return &reconciliationService{
		ServiceParams: params,
	}
}

func (s *reconciliationService) Run(ctx context.Context, auditBalances bool) (*dto.ReconciliationRunResponse, error) {
	response := &dto.ReconciliationRunResponse{
		Anomalies: make([]*dto.ReconciliationAnomaly, 0),
	}

	if err := s.checkLocalAgainstGateway(ctx, response); err != nil {
		return nil, err
	}
	s.checkGatewayAgainstLocal(ctx, response)

	if auditBalances {
		if err := s.auditBalances(ctx, response); err != nil {
			return nil, err
		}
	}

	for _, a := range response.Anomalies {
		s.Logger.Warnw("reconciliation anomaly",
			"kind", a.Kind,
			"subscription_id", a.SubscriptionID,
			"user_id", a.UserID,
			"detail", a.Detail,
			"critical", a.Critical,
		)
	}
	s.Logger.Infow("reconciliation run complete",
		"checked", response.Checked,
		"anomalies", len(response.Anomalies),
	)
	s.alertOnDrift(ctx, response)
	return response, nil
}

// checkLocalAgainstGateway fans the per-row gateway lookups out over a
// bounded pool behind a shared rate limit, one page of subscriptions at a
// time.
func (s *reconciliationService) checkLocalAgainstGateway(ctx context.Context, response *dto.ReconciliationRunResponse) error {
	limiter := rate.NewLimiter(rate.Limit(s.Config.Reconciliation.RequestsPerSecond), 1)
	var mu sync.Mutex

	offset := 0
	for {
		page, err := s.SubRepo.ListActive(ctx, &types.QueryFilter{
			Limit:  lo.ToPtr(reconciliationPageSize),
			Offset: lo.ToPtr(offset),
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		p := pool.New().WithContext(ctx).WithMaxGoroutines(s.Config.Reconciliation.Concurrency)
		for _, local := range page {
			p.Go(func(ctx context.Context) error {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				found := s.checkSubscription(ctx, local)

				mu.Lock()
				response.Checked++
				response.Anomalies = append(response.Anomalies, found...)
				mu.Unlock()
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return err
		}

		if len(page) < reconciliationPageSize {
			return nil
		}
		offset += len(page)
	}
}

func (s *reconciliationService) checkSubscription(ctx context.Context, local *subscription.Subscription) []*dto.ReconciliationAnomaly {
	gwSub, err := s.Gateway.GetSubscription(ctx, local.PGSubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return []*dto.ReconciliationAnomaly{{
				Kind:           dto.AnomalyOrphanLocal,
				SubscriptionID: local.ID,
				UserID:         local.UserID,
				Detail:         "active locally but unknown to the gateway",
				Critical:       true,
			}}
		}
		return []*dto.ReconciliationAnomaly{{
			Kind:           dto.AnomalyCheckFailed,
			SubscriptionID: local.ID,
			UserID:         local.UserID,
			Detail:         "gateway lookup failed: " + err.Error(),
		}}
	}

	var anomalies []*dto.ReconciliationAnomaly
	if !integration.SubscriptionStatusActive(gwSub.Status) {
		anomalies = append(anomalies, &dto.ReconciliationAnomaly{
			Kind:           dto.AnomalyStatusDrift,
			SubscriptionID: local.ID,
			UserID:         local.UserID,
			Detail:         fmt.Sprintf("active locally, %s at the gateway", gwSub.Status),
			Critical:       true,
		})
	}
	if planKey := integration.SubscriptionPlanKey(gwSub); planKey != "" && planKey != local.PlanKey {
		anomalies = append(anomalies, &dto.ReconciliationAnomaly{
			Kind:           dto.AnomalyPlanDrift,
			SubscriptionID: local.ID,
			UserID:         local.UserID,
			Detail:         fmt.Sprintf("plan %s locally, %s at the gateway", local.PlanKey, planKey),
		})
	}
	return anomalies
}

// checkGatewayAgainstLocal looks for gateway subscriptions we never
// mirrored or mirrored as inactive. A gateway outage degrades this
// direction to a single check_failed finding instead of failing the run.
func (s *reconciliationService) checkGatewayAgainstLocal(ctx context.Context, response *dto.ReconciliationRunResponse) {
	gwActive, err := s.Gateway.ListActiveSubscriptions(ctx)
	if err != nil {
		response.Anomalies = append(response.Anomalies, &dto.ReconciliationAnomaly{
			Kind:   dto.AnomalyCheckFailed,
			Detail: "could not list gateway subscriptions: " + err.Error(),
		})
		return
	}

	for _, gwSub := range gwActive {
		local, err := s.SubRepo.GetByPGSubscriptionID(ctx, gwSub.ID)
		if err != nil {
			if ierr.IsNotFound(err) {
				response.Anomalies = append(response.Anomalies, &dto.ReconciliationAnomaly{
					Kind:     dto.AnomalyMissingLocal,
					Detail:   fmt.Sprintf("gateway subscription %s has no local row", gwSub.ID),
					Critical: true,
				})
			} else {
				response.Anomalies = append(response.Anomalies, &dto.ReconciliationAnomaly{
					Kind:   dto.AnomalyCheckFailed,
					Detail: fmt.Sprintf("local lookup for gateway subscription %s failed: %s", gwSub.ID, err.Error()),
				})
			}
			continue
		}
		if !local.IsActive {
			response.Anomalies = append(response.Anomalies, &dto.ReconciliationAnomaly{
				Kind:           dto.AnomalyStatusDrift,
				SubscriptionID: local.ID,
				UserID:         local.UserID,
				Detail:         "ended locally but still active at the gateway",
				Critical:       true,
			})
		}
	}
}

// auditBalances proves the ledger's books: for every user, the journal sum
// must equal the active batch remainders. The equality holds even for
// batches past expiry but not yet swept, since their expiry entries are
// equally unwritten.
func (s *reconciliationService) auditBalances(ctx context.Context, response *dto.ReconciliationRunResponse) error {
	offset := 0
	for {
		page, err := s.UserRepo.List(ctx, &types.QueryFilter{
			Limit:  lo.ToPtr(reconciliationPageSize),
			Offset: lo.ToPtr(offset),
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, u := range page {
			journal, err := s.TokenEventRepo.SumDeltaByUserID(ctx, u.ID)
			if err != nil {
				return err
			}
			remainder, err := s.BatchRepo.ActiveRemainder(ctx, u.ID)
			if err != nil {
				return err
			}
			response.Checked++
			if journal != remainder {
				response.Anomalies = append(response.Anomalies, &dto.ReconciliationAnomaly{
					Kind:     dto.AnomalyBalanceMismatch,
					UserID:   u.ID,
					Detail:   fmt.Sprintf("journal sums to %d, batches hold %d", journal, remainder),
					Critical: true,
				})
			}
		}

		if len(page) < reconciliationPageSize {
			return nil
		}
		offset += len(page)
	}
}

func (s *reconciliationService) alertOnDrift(ctx context.Context, response *dto.ReconciliationRunResponse) {
	if len(response.Anomalies) == 0 {
		return
	}
	severity := alert.SeverityWarning
	if lo.SomeBy(response.Anomalies, func(a *dto.ReconciliationAnomaly) bool { return a.Critical }) {
		severity = alert.SeverityCritical
	}
	_ = s.AlertSender.Send(ctx, &alert.Alert{
		Severity: severity,
		Title:    "reconciliation found drift",
		Message:  fmt.Sprintf("%d anomalies across %d checked entities", len(response.Anomalies), response.Checked),
		Details: map[string]any{
			"anomalies": response.Anomalies,
		},
	})
}
