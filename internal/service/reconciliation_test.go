package service

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	"github.com/tokenrail/tokenrail/internal/testutil"
	"github.com/tokenrail/tokenrail/internal/types"
)

type ReconciliationServiceSuite struct {
	testutil.BaseServiceTestSuite
	recon    ReconciliationService
	ledger   LedgerService
	testData struct {
		user *user.User
		now  time.Time
	}
}

func TestReconciliationService(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceSuite))
}

func (s *ReconciliationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		UserRepo:         s.GetStores().UserRepo,
		SubRepo:          s.GetStores().SubRepo,
		PurchaseRepo:     s.GetStores().PurchaseRepo,
		BatchRepo:        s.GetStores().BatchRepo,
		TokenEventRepo:   s.GetStores().TokenEventRepo,
		WebhookEventRepo: s.GetStores().WebhookEventRepo,
		ReferralRepo:     s.GetStores().ReferralRepo,
		CatalogRepo:      s.GetStores().CatalogRepo,
		Gateway:          s.GetGateway(),
		AlertSender:      s.GetAlertSender(),
		Client:           s.GetHTTPClient(),
	}
	s.recon = NewReconciliationService(params)
	s.ledger = NewLedgerService(params)
	s.setupTestData()
}

func (s *ReconciliationServiceSuite) setupTestData() {
	s.testData.now = s.GetNow()
	s.testData.user = &user.User{
		ID:         "user_rec_1",
		ExternalID: "ext_rec_1",
		Email:      "reconciled@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.user))
}

func (s *ReconciliationServiceSuite) createLocalSubscription(pgSubID, planKey string, active bool) *subscription.Subscription {
	sub := subscription.New(s.GetContext(), s.testData.user.ID, pgSubID)
	sub.PlanKey = planKey
	sub.PlanTier = types.PlanTierStandard
	sub.BillingCycle = types.BillingCycleMonthly
	sub.TokensPerCycle = 10000
	sub.IsActive = active
	sub.CurrentPeriodEnd = lo.ToPtr(s.testData.now.AddDate(0, 1, 0))
	s.NoError(s.GetStores().SubRepo.Create(s.GetContext(), sub))
	return sub
}

func (s *ReconciliationServiceSuite) gatewaySubscription(pgSubID, planKey string, status stripe.SubscriptionStatus) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     pgSubID,
		Status: status,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: planKey}}},
		},
	}
}

func (s *ReconciliationServiceSuite) anomalyKinds(resp *dto.ReconciliationRunResponse) []dto.AnomalyKind {
	kinds := make([]dto.AnomalyKind, 0, len(resp.Anomalies))
	for _, a := range resp.Anomalies {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func (s *ReconciliationServiceSuite) TestRunCleanStateReportsNothing() {
	s.createLocalSubscription("sub_pg_ok", "price_standard_monthly", true)
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_ok", "price_standard_monthly", stripe.SubscriptionStatusActive))

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Equal(1, resp.Checked)
	s.Empty(resp.Anomalies)

	// no drift, no alert
	s.Empty(s.GetHTTPClient().Requests())
}

func (s *ReconciliationServiceSuite) TestRunFindsOrphanLocal() {
	sub := s.createLocalSubscription("sub_pg_orphan", "price_standard_monthly", true)

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyOrphanLocal, resp.Anomalies[0].Kind)
	s.Equal(sub.ID, resp.Anomalies[0].SubscriptionID)
	s.True(resp.Anomalies[0].Critical)
}

func (s *ReconciliationServiceSuite) TestRunFindsStatusDrift() {
	s.createLocalSubscription("sub_pg_drift", "price_standard_monthly", true)
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_drift", "price_standard_monthly", stripe.SubscriptionStatusCanceled))

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyStatusDrift, resp.Anomalies[0].Kind)
	s.True(resp.Anomalies[0].Critical)
}

func (s *ReconciliationServiceSuite) TestRunFindsStatusDriftEndedLocally() {
	s.createLocalSubscription("sub_pg_zombie", "price_standard_monthly", false)
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_zombie", "price_standard_monthly", stripe.SubscriptionStatusActive))

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyStatusDrift, resp.Anomalies[0].Kind)
	s.Contains(resp.Anomalies[0].Detail, "still active at the gateway")
}

func (s *ReconciliationServiceSuite) TestRunFindsPlanDrift() {
	s.createLocalSubscription("sub_pg_plan", "price_standard_monthly", true)
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_plan", "price_premium_monthly", stripe.SubscriptionStatusActive))

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyPlanDrift, resp.Anomalies[0].Kind)
	s.False(resp.Anomalies[0].Critical)
}

func (s *ReconciliationServiceSuite) TestRunFindsMissingLocal() {
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_unmirrored", "price_standard_monthly", stripe.SubscriptionStatusActive))

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyMissingLocal, resp.Anomalies[0].Kind)
	s.True(resp.Anomalies[0].Critical)
	s.Contains(resp.Anomalies[0].Detail, "sub_pg_unmirrored")
}

func (s *ReconciliationServiceSuite) TestRunGatewayListFailureDegrades() {
	s.GetGateway().SetListError(errors.New("gateway 500"))

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyCheckFailed, resp.Anomalies[0].Kind)
	s.False(resp.Anomalies[0].Critical)
}

func (s *ReconciliationServiceSuite) TestRunAuditPassesWhenBooksBalance() {
	_, err := s.ledger.Grant(s.GetContext(), &batch.GrantOperation{
		UserID:    s.testData.user.ID,
		Origin:    types.PurchaseOrigin("purch_rec_1"),
		Amount:    100,
		ExpiresAt: s.testData.now.AddDate(0, 0, 30),
		Reason:    types.TokenEventReasonPurchase,
	})
	s.NoError(err)
	_, err = s.ledger.Consume(s.GetContext(), &batch.ConsumeOperation{
		UserID: s.testData.user.ID,
		Amount: 40,
		Reason: types.TokenEventReasonConsumption,
	})
	s.NoError(err)

	resp, err := s.recon.Run(s.GetContext(), true)
	s.NoError(err)
	s.Empty(resp.Anomalies)
	s.Equal(1, resp.Checked)
}

func (s *ReconciliationServiceSuite) TestRunAuditFindsBalanceMismatch() {
	granted, err := s.ledger.Grant(s.GetContext(), &batch.GrantOperation{
		UserID:    s.testData.user.ID,
		Origin:    types.PurchaseOrigin("purch_rec_1"),
		Amount:    100,
		ExpiresAt: s.testData.now.AddDate(0, 0, 30),
		Reason:    types.TokenEventReasonPurchase,
	})
	s.NoError(err)

	// Mutate the batch behind the journal's back
	s.NoError(s.GetStores().BatchRepo.ApplyConsumption(s.GetContext(), granted.ID, 40))

	resp, err := s.recon.Run(s.GetContext(), true)
	s.NoError(err)
	s.Len(resp.Anomalies, 1)
	s.Equal(dto.AnomalyBalanceMismatch, resp.Anomalies[0].Kind)
	s.Equal(s.testData.user.ID, resp.Anomalies[0].UserID)
	s.True(resp.Anomalies[0].Critical)
}

func (s *ReconciliationServiceSuite) TestRunAlertsOnCriticalDrift() {
	s.createLocalSubscription("sub_pg_orphan", "price_standard_monthly", true)

	_, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)

	requests := s.GetHTTPClient().Requests()
	s.Len(requests, 1)
	s.Equal(s.GetConfig().Alert.WebhookURL, requests[0].URL)
	s.Contains(string(requests[0].Body), string(dto.AnomalyOrphanLocal))
	s.Contains(string(requests[0].Body), "critical")
}

func (s *ReconciliationServiceSuite) TestRunChecksEveryActiveSubscription() {
	for _, id := range []string{"sub_pg_a", "sub_pg_b", "sub_pg_c"} {
		sub := subscription.New(s.GetContext(), s.testData.user.ID, id)
		sub.PlanKey = "price_standard_monthly"
		sub.PlanTier = types.PlanTierStandard
		sub.BillingCycle = types.BillingCycleMonthly
		s.NoError(s.GetStores().SubRepo.Create(s.GetContext(), sub))
		s.GetGateway().SetSubscription(s.gatewaySubscription(id, "price_standard_monthly", stripe.SubscriptionStatusActive))
	}

	resp, err := s.recon.Run(s.GetContext(), false)
	s.NoError(err)
	s.Equal(3, resp.Checked)
	s.Empty(resp.Anomalies)
}
