package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/testutil"
	"github.com/tokenrail/tokenrail/internal/types"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	subs     SubscriptionService
	ledger   LedgerService
	testData struct {
		user *user.User
		now  time.Time
	}
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
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
	s.subs = NewSubscriptionService(params)
	s.ledger = NewLedgerService(params)
	s.setupTestData()
}

func (s *SubscriptionServiceSuite) setupTestData() {
	s.testData.now = s.GetNow()
	s.testData.user = &user.User{
		ID:         "user_sub_1",
		ExternalID: "ext_sub_1",
		Email:      "subscriber@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.user))

	s.seedCatalog()
}

func (s *SubscriptionServiceSuite) seedCatalog() {
	store := s.GetStores().CatalogRepo.(*testutil.InMemoryCatalogStore)
	store.SetSubscriptionPrice(&catalog.SubscriptionPrice{
		PlanKey:        "price_standard_monthly",
		PlanTier:       types.PlanTierStandard,
		BillingCycle:   types.BillingCycleMonthly,
		TokensPerCycle: 10000,
		PriceCents:     2900,
	})
	store.SetSubscriptionPrice(&catalog.SubscriptionPrice{
		PlanKey:        "price_premium_monthly",
		PlanTier:       types.PlanTierPremium,
		BillingCycle:   types.BillingCycleMonthly,
		TokensPerCycle: 25000,
		PriceCents:     7900,
	})
	store.SetSubscriptionPrice(&catalog.SubscriptionPrice{
		PlanKey:             "price_standard_yearly",
		PlanTier:            types.PlanTierStandard,
		BillingCycle:        types.BillingCycleYearly,
		TokensPerCycle:      120000,
		MonthlyRefillTokens: lo.ToPtr(int64(10000)),
		PriceCents:          29000,
	})
}

func (s *SubscriptionServiceSuite) gatewaySubscription(pgSubID, planKey string, status stripe.SubscriptionStatus, start, end time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       pgSubID,
		Status:   status,
		Customer: &stripe.Customer{ID: "cus_sub_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{ID: planKey},
				CurrentPeriodStart: start.Unix(),
				CurrentPeriodEnd:   end.Unix(),
			}},
		},
	}
}

func (s *SubscriptionServiceSuite) paidInvoice(id string, reason types.BillingReason, periodEnd time.Time) *stripe.Invoice {
	return &stripe.Invoice{
		ID:            id,
		BillingReason: stripe.InvoiceBillingReason(reason),
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{{
				Period: &stripe.Period{End: periodEnd.Unix()},
			}},
		},
	}
}

func (s *SubscriptionServiceSuite) syncActive(pgSubID, planKey string) *subscription.Subscription {
	sub, _, err := s.subs.SyncFromGateway(s.GetContext(), s.testData.user,
		s.gatewaySubscription(pgSubID, planKey, stripe.SubscriptionStatusActive,
			s.testData.now, s.testData.now.AddDate(0, 1, 0)))
	s.NoError(err)
	return sub
}

func (s *SubscriptionServiceSuite) TestSyncFromGatewayCreates() {
	periodStart := s.testData.now.Truncate(time.Second)
	periodEnd := periodStart.AddDate(0, 1, 0)

	sub, created, err := s.subs.SyncFromGateway(s.GetContext(), s.testData.user,
		s.gatewaySubscription("sub_pg_1", "price_standard_monthly", stripe.SubscriptionStatusActive, periodStart, periodEnd))
	s.NoError(err)
	s.True(created)
	s.Equal("sub_pg_1", sub.PGSubscriptionID)
	s.Equal("price_standard_monthly", sub.PlanKey)
	s.Equal(types.PlanTierStandard, sub.PlanTier)
	s.Equal(types.BillingCycleMonthly, sub.BillingCycle)
	s.Equal(int64(10000), sub.TokensPerCycle)
	s.Equal(int64(2900), sub.PriceCents)
	s.True(sub.IsActive)
	s.NotNil(sub.CurrentPeriodEnd)
	s.Equal(periodEnd.UTC(), sub.CurrentPeriodEnd.UTC())

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.True(u.HasActiveSubscription)
}

func (s *SubscriptionServiceSuite) TestSyncFromGatewayUpdatesInPlace() {
	first := s.syncActive("sub_pg_1", "price_standard_monthly")

	second, created, err := s.subs.SyncFromGateway(s.GetContext(), s.testData.user,
		s.gatewaySubscription("sub_pg_1", "price_premium_monthly", stripe.SubscriptionStatusActive,
			s.testData.now, s.testData.now.AddDate(0, 1, 0)))
	s.NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID)
	s.Equal(types.PlanTierPremium, second.PlanTier)
	s.Equal(int64(25000), second.TokensPerCycle)

	all, err := s.GetStores().SubRepo.List(s.GetContext(), nil)
	s.NoError(err)
	s.Len(all, 1)
}

func (s *SubscriptionServiceSuite) TestSyncFromGatewayDemotesReplacedSubscription() {
	old := s.syncActive("sub_pg_old", "price_standard_monthly")
	s.syncActive("sub_pg_new", "price_premium_monthly")

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), old.ID)
	s.NoError(err)
	s.False(stored.IsActive)

	current, err := s.GetStores().SubRepo.GetLatestActiveByUserID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal("sub_pg_new", current.PGSubscriptionID)
}

func (s *SubscriptionServiceSuite) TestSyncFromGatewayInactiveStatusClearsFlag() {
	s.syncActive("sub_pg_1", "price_standard_monthly")

	_, _, err := s.subs.SyncFromGateway(s.GetContext(), s.testData.user,
		s.gatewaySubscription("sub_pg_1", "price_standard_monthly", stripe.SubscriptionStatusCanceled,
			s.testData.now, s.testData.now.AddDate(0, 1, 0)))
	s.NoError(err)

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.False(u.HasActiveSubscription)
}

func (s *SubscriptionServiceSuite) TestSyncFromGatewayUnknownPlan() {
	_, _, err := s.subs.SyncFromGateway(s.GetContext(), s.testData.user,
		s.gatewaySubscription("sub_pg_1", "price_not_in_catalog", stripe.SubscriptionStatusActive,
			s.testData.now, s.testData.now.AddDate(0, 1, 0)))
	s.Error(err)
	s.True(ierr.IsCatalogMissing(err))
}

func (s *SubscriptionServiceSuite) TestSyncFromGatewayRejectsPayloadWithoutPrice() {
	_, _, err := s.subs.SyncFromGateway(s.GetContext(), s.testData.user, &stripe.Subscription{ID: "sub_pg_1"})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestApplyInvoiceCreditMonthlyCreate() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	periodEnd := s.testData.now.AddDate(0, 1, 0).Truncate(time.Second)
	inv := s.paidInvoice("in_create_1", types.BillingReasonSubscriptionCreate, periodEnd)

	granted, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub, inv)
	s.NoError(err)
	s.True(granted)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(10000), balance)

	batches, err := s.GetStores().BatchRepo.ListActiveByUserID(s.GetContext(), s.testData.user.ID, s.testData.now)
	s.NoError(err)
	s.Len(batches, 1)
	s.Equal(periodEnd.UTC(), batches[0].ExpiresAt.UTC())
	s.Equal(types.BatchSourceSubscription, batches[0].Source)

	events := s.GetStores().TokenEventRepo.(*testutil.InMemoryTokenEventStore).Events()
	s.Len(events, 1)
	s.Equal(types.TokenEventReasonSubscriptionInitialCredit, events[0].Reason)
}

func (s *SubscriptionServiceSuite) TestApplyInvoiceCreditReplayIsIdempotent() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	inv := s.paidInvoice("in_replay_1", types.BillingReasonSubscriptionCreate, s.testData.now.AddDate(0, 1, 0))

	_, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub, inv)
	s.NoError(err)
	_, err = s.subs.ApplyInvoiceCredit(s.GetContext(), sub, inv)
	s.NoError(err)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(10000), balance)

	events, err := s.ledger.History(s.GetContext(), s.testData.user.ID, nil)
	s.NoError(err)
	s.Len(events, 1)
}

func (s *SubscriptionServiceSuite) TestApplyInvoiceCreditMonthlyCycle() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")

	_, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub,
		s.paidInvoice("in_create_1", types.BillingReasonSubscriptionCreate, s.testData.now.AddDate(0, 1, 0)))
	s.NoError(err)

	granted, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub,
		s.paidInvoice("in_cycle_1", types.BillingReasonSubscriptionCycle, s.testData.now.AddDate(0, 2, 0)))
	s.NoError(err)
	s.True(granted)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(20000), balance)
}

func (s *SubscriptionServiceSuite) TestApplyInvoiceCreditYearlyCreateGrantsOneMonth() {
	sub := s.syncActive("sub_pg_year", "price_standard_yearly")
	inv := s.paidInvoice("in_year_1", types.BillingReasonSubscriptionCreate, s.testData.now.AddDate(1, 0, 0))

	granted, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub, inv)
	s.NoError(err)
	s.True(granted)

	// One month's slice, not the full yearly allotment
	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(10000), balance)

	batches, err := s.GetStores().BatchRepo.ListActiveByUserID(s.GetContext(), s.testData.user.ID, s.testData.now)
	s.NoError(err)
	s.Len(batches, 1)
	s.WithinDuration(time.Now().UTC().AddDate(0, 1, 0), batches[0].ExpiresAt, 2*time.Minute)

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.NotNil(stored.LastMonthlyRefill)
}

func (s *SubscriptionServiceSuite) TestApplyInvoiceCreditYearlyCycleGrantsNothing() {
	sub := s.syncActive("sub_pg_year", "price_standard_yearly")
	inv := s.paidInvoice("in_year_renewal", types.BillingReasonSubscriptionCycle, s.testData.now.AddDate(1, 0, 0))

	granted, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub, inv)
	s.NoError(err)
	s.False(granted)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(0), balance)
}

func (s *SubscriptionServiceSuite) TestApplyInvoiceCreditIgnoresManualInvoices() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	inv := s.paidInvoice("in_manual_1", types.BillingReason("manual"), s.testData.now.AddDate(0, 1, 0))

	granted, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub, inv)
	s.NoError(err)
	s.False(granted)

	events, err := s.ledger.History(s.GetContext(), s.testData.user.ID, nil)
	s.NoError(err)
	s.Empty(events)
}

func (s *SubscriptionServiceSuite) TestGrantUpgradeCreditAnchorsOnEvent() {
	sub := s.syncActive("sub_pg_1", "price_premium_monthly")

	s.NoError(s.subs.GrantUpgradeCredit(s.GetContext(), sub, "evt:evt_upgrade_1"))
	s.NoError(s.subs.GrantUpgradeCredit(s.GetContext(), sub, "evt:evt_upgrade_1"))

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(25000), balance)

	events, err := s.ledger.History(s.GetContext(), s.testData.user.ID, nil)
	s.NoError(err)
	s.Len(events, 1)
	s.Equal(types.TokenEventReasonSubscriptionUpgradeCredit, events[0].Reason)
}

func (s *SubscriptionServiceSuite) TestRefillMonthlySameMonthIsNoOp() {
	sub := s.syncActive("sub_pg_year", "price_standard_yearly")
	_, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub,
		s.paidInvoice("in_year_1", types.BillingReasonSubscriptionCreate, s.testData.now.AddDate(1, 0, 0)))
	s.NoError(err)

	sub, err = s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)

	granted, err := s.subs.RefillMonthly(s.GetContext(), sub, s.testData.now)
	s.NoError(err)
	s.False(granted)
}

func (s *SubscriptionServiceSuite) TestRefillMonthlyAcrossMonthBoundary() {
	sub := s.syncActive("sub_pg_year", "price_standard_yearly")
	_, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub,
		s.paidInvoice("in_year_1", types.BillingReasonSubscriptionCreate, s.testData.now.AddDate(1, 0, 0)))
	s.NoError(err)

	sub, err = s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)

	nextMonth := s.testData.now.AddDate(0, 1, 3)
	granted, err := s.subs.RefillMonthly(s.GetContext(), sub, nextMonth)
	s.NoError(err)
	s.True(granted)

	remainder, err := s.GetStores().BatchRepo.ActiveRemainder(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(20000), remainder)

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(nextMonth.UTC().Format("2006-01"), stored.LastMonthlyRefill.Format("2006-01"))
}

func (s *SubscriptionServiceSuite) TestRefillMonthlyAnchorAbsorbsRerun() {
	sub := s.syncActive("sub_pg_year", "price_standard_yearly")

	refillAt := s.testData.now.AddDate(0, 1, 0)
	granted, err := s.subs.RefillMonthly(s.GetContext(), sub, refillAt)
	s.NoError(err)
	s.True(granted)

	// Simulate a lost stamp: the sweep reruns in the same month and the
	// per-month anchor must land on the existing batch.
	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	stored.LastMonthlyRefill = nil
	_, err = s.subs.RefillMonthly(s.GetContext(), stored, refillAt)
	s.NoError(err)

	remainder, err := s.GetStores().BatchRepo.ActiveRemainder(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(10000), remainder)

	anchor := fmt.Sprintf("refill:%s:%s", sub.ID, refillAt.UTC().Format("2006-01"))
	b, err := s.GetStores().BatchRepo.GetByInvoiceID(s.GetContext(), anchor)
	s.NoError(err)
	s.Equal(int64(10000), b.Amount)
}

func (s *SubscriptionServiceSuite) TestRefillMonthlySkipsMonthlyPlans() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")

	granted, err := s.subs.RefillMonthly(s.GetContext(), sub, s.testData.now.AddDate(0, 1, 0))
	s.NoError(err)
	s.False(granted)
}

func (s *SubscriptionServiceSuite) TestRecordPaymentFailure() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")

	s.NoError(s.subs.RecordPaymentFailure(s.GetContext(), sub, "card_declined: insufficient_funds"))

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.NotNil(stored.PaymentFailureReason)
	s.Equal("card_declined: insufficient_funds", *stored.PaymentFailureReason)
	s.Equal(types.SubscriptionStatePaymentIssue, stored.State())

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.True(u.HasPaymentIssue)
}

func (s *SubscriptionServiceSuite) TestRecordPaymentFailureSkipsEndedSubscription() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	s.NoError(s.GetStores().SubRepo.Deactivate(s.GetContext(), sub.ID))
	sub, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)

	s.NoError(s.subs.RecordPaymentFailure(s.GetContext(), sub, "card_declined"))

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(stored.PaymentFailureReason)

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.False(u.HasPaymentIssue)
}

func (s *SubscriptionServiceSuite) TestClearPaymentIssue() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	s.NoError(s.subs.RecordPaymentFailure(s.GetContext(), sub, "card_declined"))

	s.NoError(s.subs.ClearPaymentIssue(s.GetContext(), sub))

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(stored.PaymentFailureReason)
	s.Equal(types.SubscriptionStateActive, stored.State())

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.False(u.HasPaymentIssue)
}

func (s *SubscriptionServiceSuite) TestEndDeactivatesAndClearsFlag() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")

	s.NoError(s.subs.End(s.GetContext(), sub, subscription.StateEventDeleted))

	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.False(stored.IsActive)

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.False(u.HasActiveSubscription)
}

func (s *SubscriptionServiceSuite) TestEndKeepsBatchesAlive() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	_, err := s.subs.ApplyInvoiceCredit(s.GetContext(), sub,
		s.paidInvoice("in_create_1", types.BillingReasonSubscriptionCreate, s.testData.now.AddDate(0, 1, 0)))
	s.NoError(err)

	s.NoError(s.subs.End(s.GetContext(), sub, subscription.StateEventDeleted))

	// Tokens already paid for survive to their natural expiry
	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(10000), balance)
}

func (s *SubscriptionServiceSuite) TestEndSkipsAlreadyEnded() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")
	s.NoError(s.subs.End(s.GetContext(), sub, subscription.StateEventDeleted))

	ended, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)

	// ended + deleted is not in the transition table; the call logs and
	// returns without touching anything
	s.NoError(s.subs.End(s.GetContext(), ended, subscription.StateEventDeleted))
}

func (s *SubscriptionServiceSuite) TestCancelCurrent() {
	sub := s.syncActive("sub_pg_1", "price_standard_monthly")

	periodEnd := s.testData.now.AddDate(0, 1, 0).Truncate(time.Second)
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_1", "price_standard_monthly",
		stripe.SubscriptionStatusActive, s.testData.now, periodEnd))

	resp, err := s.subs.CancelCurrent(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.NotNil(resp.EndsAt)
	s.Equal(periodEnd.UTC(), resp.EndsAt.UTC())
	s.Contains(s.GetGateway().CancelledIDs(), "sub_pg_1")

	// Local state waits for the gateway's deletion event
	stored, err := s.GetStores().SubRepo.GetByID(s.GetContext(), sub.ID)
	s.NoError(err)
	s.True(stored.IsActive)
}

func (s *SubscriptionServiceSuite) TestCancelCurrentWithoutActiveSubscription() {
	_, err := s.subs.CancelCurrent(s.GetContext(), s.testData.user.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
	s.Empty(s.GetGateway().CancelledIDs())
}

func (s *SubscriptionServiceSuite) TestGetCurrentReturnsNewestActive() {
	s.syncActive("sub_pg_old", "price_standard_monthly")
	s.syncActive("sub_pg_new", "price_premium_monthly")

	resp, err := s.subs.GetCurrent(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(types.PlanTierPremium, resp.PlanTier)
	s.Equal(types.SubscriptionStateActive, resp.State)
}
