package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/testutil"
	"github.com/tokenrail/tokenrail/internal/types"
)

type WebhookServiceSuite struct {
	testutil.BaseServiceTestSuite
	params   ServiceParams
	webhooks WebhookService
	ledger   LedgerService
	testData struct {
		user *user.User
		now  time.Time
	}
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = ServiceParams{
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
	s.webhooks = NewWebhookService(s.params)
	s.ledger = NewLedgerService(s.params)
	s.setupTestData()
}

func (s *WebhookServiceSuite) setupTestData() {
	s.testData.now = s.GetNow()
	s.testData.user = &user.User{
		ID:           "user_wh_1",
		ExternalID:   "ext_wh_1",
		Email:        "payer@example.com",
		PGCustomerID: lo.ToPtr("cus_wh_1"),
		BaseModel:    types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.user))

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
		PlanKey:             "price_premium_yearly",
		PlanTier:            types.PlanTierPremium,
		BillingCycle:        types.BillingCycleYearly,
		TokensPerCycle:      300000,
		MonthlyRefillTokens: lo.ToPtr(int64(25000)),
		PriceCents:          79000,
	})
	store.SetTokenPrice(&catalog.TokenPrice{
		PlanKey:    "pack_small",
		Tier:       types.PlanTierBasic,
		Tokens:     5000,
		PriceCents: 1500,
	})
}

// eventPayload wraps an API object the way the gateway delivers it: the
// object serialized under data.object of an event envelope.
func (s *WebhookServiceSuite) eventPayload(id string, eventType types.WebhookEventType, object any) []byte {
	raw, err := json.Marshal(object)
	s.NoError(err)
	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"type": string(eventType),
		"data": map[string]any{"object": json.RawMessage(raw)},
	})
	s.NoError(err)
	return payload
}

func (s *WebhookServiceSuite) process(payload []byte) *dto.WebhookResult {
	result, err := s.webhooks.ProcessEvent(s.GetContext(), payload, "sig_test")
	s.NoError(err)
	s.NotNil(result)
	return result
}

func (s *WebhookServiceSuite) gatewaySubscription(pgSubID, planKey string, status stripe.SubscriptionStatus) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       pgSubID,
		Status:   status,
		Customer: &stripe.Customer{ID: "cus_wh_1"},
		Metadata: map[string]string{"user_id": s.testData.user.ID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{ID: planKey},
				CurrentPeriodStart: s.testData.now.Unix(),
				CurrentPeriodEnd:   s.testData.now.AddDate(0, 1, 0).Unix(),
			}},
		},
	}
}

func (s *WebhookServiceSuite) subscriptionInvoice(id, pgSubID string, reason types.BillingReason) *stripe.Invoice {
	return &stripe.Invoice{
		ID:            id,
		Status:        stripe.InvoiceStatusPaid,
		BillingReason: stripe.InvoiceBillingReason(reason),
		Customer:      &stripe.Customer{ID: "cus_wh_1"},
		Parent: &stripe.InvoiceParent{
			SubscriptionDetails: &stripe.InvoiceParentSubscriptionDetails{
				Subscription: &stripe.Subscription{ID: pgSubID},
			},
		},
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{{
				Period: &stripe.Period{End: s.testData.now.AddDate(0, 1, 0).Unix()},
			}},
		},
	}
}

func (s *WebhookServiceSuite) balance() int64 {
	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	return balance
}

func (s *WebhookServiceSuite) TestRejectsInvalidSignature() {
	s.GetGateway().RequireSignature("sig_valid")

	payload := s.eventPayload("evt_1", types.WebhookEventCheckoutSessionCompleted, &stripe.CheckoutSession{ID: "cs_1"})
	_, err := s.webhooks.ProcessEvent(s.GetContext(), payload, "sig_forged")
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *WebhookServiceSuite) TestDuplicateEventIDShortCircuits() {
	payload := s.eventPayload("evt_dup_1", types.WebhookEventCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:       "cs_dup_1",
		Mode:     stripe.CheckoutSessionModePayment,
		Customer: &stripe.Customer{ID: "cus_wh_1"},
		Metadata: map[string]string{"user_id": s.testData.user.ID, "plan_option": "pack_small"},
	})

	first := s.process(payload)
	s.Equal(dto.WebhookStatusProcessed, first.Status)

	second := s.process(payload)
	s.Equal(dto.WebhookStatusDuplicate, second.Status)

	s.Equal(int64(5000), s.balance())
}

func (s *WebhookServiceSuite) TestUnhandledEventTypeSkips() {
	payload := s.eventPayload("evt_odd_1", types.WebhookEventType("customer.created"), &stripe.Customer{ID: "cus_wh_1"})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("unhandled event type", result.Reason)
}

func (s *WebhookServiceSuite) TestUnattributedEventSkipsAndAlerts() {
	payload := s.eventPayload("evt_lost_1", types.WebhookEventCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:       "cs_lost_1",
		Mode:     stripe.CheckoutSessionModePayment,
		Customer: &stripe.Customer{ID: "cus_stranger"},
		Metadata: map[string]string{"plan_option": "pack_small"},
	})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("no local user for event", result.Reason)

	requests := s.GetHTTPClient().Requests()
	s.Len(requests, 1)
	s.Equal(s.GetConfig().Alert.WebhookURL, requests[0].URL)

	// Replaying later cannot help, so the marker stays: a retry is a duplicate
	second := s.process(payload)
	s.Equal(dto.WebhookStatusDuplicate, second.Status)
}

func (s *WebhookServiceSuite) TestCheckoutSessionCompletedFulfillsDiscountedPurchase() {
	payload := s.eventPayload("evt_chk_1", types.WebhookEventCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:       "cs_chk_1",
		Mode:     stripe.CheckoutSessionModePayment,
		Customer: &stripe.Customer{ID: "cus_wh_1"},
		Metadata: map[string]string{
			"user_id":     s.testData.user.ID,
			"plan_type":   "tokens",
			"plan_option": "pack_small",
		},
		TotalDetails: &stripe.CheckoutSessionTotalDetails{AmountDiscount: 300},
	})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusProcessed, result.Status)

	p, err := s.GetStores().PurchaseRepo.GetByPGPurchaseID(s.GetContext(), "cs_chk_1")
	s.NoError(err)
	s.Equal(s.testData.user.ID, p.UserID)
	s.Equal(int64(5000), p.AmountTokens)
	s.Equal(int64(300), p.DiscountCents)
	s.WithinDuration(time.Now().UTC().AddDate(0, 0, 60), p.PeriodEnd, 2*time.Minute)

	s.Equal(int64(5000), s.balance())

	// The same session under a fresh event id resolves to the recorded
	// purchase without granting again
	replay := s.eventPayload("evt_chk_2", types.WebhookEventCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:       "cs_chk_1",
		Mode:     stripe.CheckoutSessionModePayment,
		Customer: &stripe.Customer{ID: "cus_wh_1"},
		Metadata: map[string]string{"user_id": s.testData.user.ID, "plan_option": "pack_small"},
	})
	result = s.process(replay)
	s.Equal(dto.WebhookStatusProcessed, result.Status)
	s.Equal(int64(5000), s.balance())
}

func (s *WebhookServiceSuite) TestCheckoutSessionBindsCustomerByEmail() {
	// The user has no customer binding yet; the session carries their email
	unbound := &user.User{
		ID:         "user_wh_2",
		ExternalID: "ext_wh_2",
		Email:      "newcomer@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), unbound))

	payload := s.eventPayload("evt_bind_1", types.WebhookEventCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:              "cs_bind_1",
		Mode:            stripe.CheckoutSessionModeSubscription,
		Customer:        &stripe.Customer{ID: "cus_wh_2"},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "newcomer@example.com"},
	})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusProcessed, result.Status)

	stored, err := s.GetStores().UserRepo.GetByID(s.GetContext(), unbound.ID)
	s.NoError(err)
	s.NotNil(stored.PGCustomerID)
	s.Equal("cus_wh_2", *stored.PGCustomerID)
}

func (s *WebhookServiceSuite) TestMonthlySubscriptionLifecycle() {
	// created: mirror appears, no tokens yet
	result := s.process(s.eventPayload("evt_sc_1", types.WebhookEventSubscriptionCreated,
		s.gatewaySubscription("sub_pg_life", "price_standard_monthly", stripe.SubscriptionStatusActive)))
	s.Equal(dto.WebhookStatusProcessed, result.Status)
	s.Equal(int64(0), s.balance())

	sub, err := s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_life")
	s.NoError(err)
	s.True(sub.IsActive)
	s.Equal(types.PlanTierStandard, sub.PlanTier)

	// the first invoice grants the initial credit
	s.process(s.eventPayload("evt_inv_1", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_life_1", "sub_pg_life", types.BillingReasonSubscriptionCreate)))
	s.Equal(int64(10000), s.balance())

	// the same invoice under both paid event names cannot double-credit
	s.process(s.eventPayload("evt_inv_1b", types.WebhookEventInvoicePaymentSucceeded,
		s.subscriptionInvoice("in_life_1", "sub_pg_life", types.BillingReasonSubscriptionCreate)))
	s.Equal(int64(10000), s.balance())

	// a failed renewal flags the user but keeps entitlement
	s.GetGateway().SetFailureReason("card_declined: insufficient_funds")
	s.process(s.eventPayload("evt_fail_1", types.WebhookEventInvoicePaymentFailed,
		s.subscriptionInvoice("in_life_2", "sub_pg_life", types.BillingReasonSubscriptionCycle)))

	sub, err = s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_life")
	s.NoError(err)
	s.Equal(types.SubscriptionStatePaymentIssue, sub.State())
	s.NotNil(sub.PaymentFailureReason)
	s.Equal("card_declined: insufficient_funds", *sub.PaymentFailureReason)
	s.Equal(int64(10000), s.balance())

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.True(u.HasPaymentIssue)

	// recovery: the retried charge clears the issue and grants the cycle
	s.process(s.eventPayload("evt_inv_2", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_life_2", "sub_pg_life", types.BillingReasonSubscriptionCycle)))

	sub, err = s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_life")
	s.NoError(err)
	s.Equal(types.SubscriptionStateActive, sub.State())
	s.Nil(sub.PaymentFailureReason)
	s.Equal(int64(20000), s.balance())

	u, err = s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.False(u.HasPaymentIssue)

	// deletion ends it; tokens live on
	s.process(s.eventPayload("evt_del_1", types.WebhookEventSubscriptionDeleted,
		s.gatewaySubscription("sub_pg_life", "price_standard_monthly", stripe.SubscriptionStatusCanceled)))

	sub, err = s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_life")
	s.NoError(err)
	s.False(sub.IsActive)
	s.Equal(int64(20000), s.balance())

	u, err = s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.False(u.HasActiveSubscription)
}

func (s *WebhookServiceSuite) TestYearlySubscriptionGrantsMonthlySlice() {
	s.process(s.eventPayload("evt_sc_y", types.WebhookEventSubscriptionCreated,
		s.gatewaySubscription("sub_pg_year", "price_premium_yearly", stripe.SubscriptionStatusActive)))

	s.process(s.eventPayload("evt_inv_y", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_year_1", "sub_pg_year", types.BillingReasonSubscriptionCreate)))

	// One month's slice of the yearly allotment
	s.Equal(int64(25000), s.balance())

	sub, err := s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_year")
	s.NoError(err)
	s.NotNil(sub.LastMonthlyRefill)

	// the yearly renewal itself grants nothing
	s.process(s.eventPayload("evt_inv_y2", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_year_2", "sub_pg_year", types.BillingReasonSubscriptionCycle)))
	s.Equal(int64(25000), s.balance())
}

func (s *WebhookServiceSuite) TestSubscriptionUpdatedTierChangeGrantsCredit() {
	s.process(s.eventPayload("evt_sc_up", types.WebhookEventSubscriptionCreated,
		s.gatewaySubscription("sub_pg_up", "price_standard_monthly", stripe.SubscriptionStatusActive)))
	s.Equal(int64(0), s.balance())

	s.process(s.eventPayload("evt_upd_1", types.WebhookEventSubscriptionUpdated,
		s.gatewaySubscription("sub_pg_up", "price_premium_monthly", stripe.SubscriptionStatusActive)))

	// One cycle of the new tier, immediately
	s.Equal(int64(25000), s.balance())

	sub, err := s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_up")
	s.NoError(err)
	s.Equal(types.PlanTierPremium, sub.PlanTier)

	// a replayed update is deduped by event id
	result := s.process(s.eventPayload("evt_upd_1", types.WebhookEventSubscriptionUpdated,
		s.gatewaySubscription("sub_pg_up", "price_premium_monthly", stripe.SubscriptionStatusActive)))
	s.Equal(dto.WebhookStatusDuplicate, result.Status)
	s.Equal(int64(25000), s.balance())
}

func (s *WebhookServiceSuite) TestSubscriptionUpdatedArrivingFirstMirrors() {
	// Event ordering is not guaranteed; an update may beat the create
	s.process(s.eventPayload("evt_upd_first", types.WebhookEventSubscriptionUpdated,
		s.gatewaySubscription("sub_pg_first", "price_standard_monthly", stripe.SubscriptionStatusActive)))

	sub, err := s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_first")
	s.NoError(err)
	s.True(sub.IsActive)

	// no prior tier on record, so nothing to upgrade from
	s.Equal(int64(0), s.balance())
}

func (s *WebhookServiceSuite) TestSubscriptionUpdatedSamePlanGrantsNothing() {
	s.process(s.eventPayload("evt_sc_same", types.WebhookEventSubscriptionCreated,
		s.gatewaySubscription("sub_pg_same", "price_standard_monthly", stripe.SubscriptionStatusActive)))

	s.process(s.eventPayload("evt_upd_same", types.WebhookEventSubscriptionUpdated,
		s.gatewaySubscription("sub_pg_same", "price_standard_monthly", stripe.SubscriptionStatusActive)))

	s.Equal(int64(0), s.balance())
}

func (s *WebhookServiceSuite) TestSubscriptionDeletedUnknownLocallySkips() {
	result := s.process(s.eventPayload("evt_del_x", types.WebhookEventSubscriptionDeleted,
		s.gatewaySubscription("sub_pg_ghost", "price_standard_monthly", stripe.SubscriptionStatusCanceled)))
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("no local subscription", result.Reason)
}

func (s *WebhookServiceSuite) TestInvoicePaidRebuildsMissingMirror() {
	// No local subscription; the gateway still knows it
	s.GetGateway().SetSubscription(s.gatewaySubscription("sub_pg_lost", "price_standard_monthly", stripe.SubscriptionStatusActive))

	result := s.process(s.eventPayload("evt_inv_lost", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_lost_1", "sub_pg_lost", types.BillingReasonSubscriptionCreate)))
	s.Equal(dto.WebhookStatusProcessed, result.Status)

	sub, err := s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_lost")
	s.NoError(err)
	s.True(sub.IsActive)
	s.Equal(int64(10000), s.balance())
}

func (s *WebhookServiceSuite) TestInvoicePaidUnknownToGatewaySkips() {
	result := s.process(s.eventPayload("evt_inv_ghost", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_ghost_1", "sub_pg_ghost", types.BillingReasonSubscriptionCreate)))
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("subscription unknown to gateway", result.Reason)
	s.Equal(int64(0), s.balance())
}

func (s *WebhookServiceSuite) TestInvoicePaidIgnoresUnpaidStatus() {
	inv := s.subscriptionInvoice("in_open_1", "sub_pg_life", types.BillingReasonSubscriptionCreate)
	inv.Status = stripe.InvoiceStatusOpen

	result := s.process(s.eventPayload("evt_inv_open", types.WebhookEventInvoicePaid, inv))
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("invoice not paid", result.Reason)
}

func (s *WebhookServiceSuite) TestInvoicePaidIgnoresOneOffInvoices() {
	inv := &stripe.Invoice{
		ID:       "in_oneoff_1",
		Status:   stripe.InvoiceStatusPaid,
		Customer: &stripe.Customer{ID: "cus_wh_1"},
	}
	result := s.process(s.eventPayload("evt_inv_oneoff", types.WebhookEventInvoicePaid, inv))
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("not a subscription invoice", result.Reason)
}

func (s *WebhookServiceSuite) TestInvoicePaidSettlesReferralOnFirstPayment() {
	referrer := &user.User{
		ID:         "user_referrer",
		ExternalID: "ext_referrer",
		Email:      "referrer@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), referrer))

	prior := s.GetConfig().Referral.TokenAmount
	s.GetConfig().Referral.TokenAmount = 2000
	defer func() { s.GetConfig().Referral.TokenAmount = prior }()

	referrals := NewReferralService(s.params)
	_, err := referrals.Register(s.GetContext(), referrer.ID, s.testData.user.ID)
	s.NoError(err)

	s.process(s.eventPayload("evt_sc_ref", types.WebhookEventSubscriptionCreated,
		s.gatewaySubscription("sub_pg_ref", "price_standard_monthly", stripe.SubscriptionStatusActive)))
	s.process(s.eventPayload("evt_inv_ref", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_ref_1", "sub_pg_ref", types.BillingReasonSubscriptionCreate)))

	referrerBalance, err := s.ledger.Balance(s.GetContext(), referrer.ID)
	s.NoError(err)
	s.Equal(int64(2000), referrerBalance)

	// the next cycle does not reward again
	s.process(s.eventPayload("evt_inv_ref2", types.WebhookEventInvoicePaid,
		s.subscriptionInvoice("in_ref_2", "sub_pg_ref", types.BillingReasonSubscriptionCycle)))
	referrerBalance, err = s.ledger.Balance(s.GetContext(), referrer.ID)
	s.NoError(err)
	s.Equal(int64(2000), referrerBalance)
}

func (s *WebhookServiceSuite) TestPaymentIntentSucceededFulfillsTokenPack() {
	payload := s.eventPayload("evt_pi_1", types.WebhookEventPaymentIntentSucceeded, &stripe.PaymentIntent{
		ID:       "pi_pack_1",
		Customer: &stripe.Customer{ID: "cus_wh_1"},
		Metadata: map[string]string{
			"user_id":     s.testData.user.ID,
			"plan_option": "pack_small",
		},
	})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusProcessed, result.Status)
	s.Equal(int64(5000), s.balance())

	p, err := s.GetStores().PurchaseRepo.GetByPGPurchaseID(s.GetContext(), "pi_pack_1")
	s.NoError(err)
	s.Equal(int64(0), p.DiscountCents)
}

func (s *WebhookServiceSuite) TestPaymentIntentWithoutPurchaseMetadataSkips() {
	payload := s.eventPayload("evt_pi_sub", types.WebhookEventPaymentIntentSucceeded, &stripe.PaymentIntent{
		ID:       "pi_sub_charge",
		Customer: &stripe.Customer{ID: "cus_wh_1"},
	})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusSkipped, result.Status)
	s.Equal("not a token purchase", result.Reason)
	s.Equal(int64(0), s.balance())
}

func (s *WebhookServiceSuite) TestPaymentIntentFailedFlagsActiveSubscription() {
	s.process(s.eventPayload("evt_sc_pif", types.WebhookEventSubscriptionCreated,
		s.gatewaySubscription("sub_pg_pif", "price_standard_monthly", stripe.SubscriptionStatusActive)))

	payload := s.eventPayload("evt_pi_fail", types.WebhookEventPaymentIntentFailed, &stripe.PaymentIntent{
		ID:               "pi_fail_1",
		Customer:         &stripe.Customer{ID: "cus_wh_1"},
		LastPaymentError: &stripe.Error{Msg: "card_declined: expired_card"},
	})
	s.process(payload)

	sub, err := s.GetStores().SubRepo.GetByPGSubscriptionID(s.GetContext(), "sub_pg_pif")
	s.NoError(err)
	s.Equal(types.SubscriptionStatePaymentIssue, sub.State())
	s.Equal("card_declined: expired_card", *sub.PaymentFailureReason)
}

func (s *WebhookServiceSuite) TestChargeFailedWithoutSubscriptionFlagsUser() {
	payload := s.eventPayload("evt_ch_fail", types.WebhookEventChargeFailed, &stripe.Charge{
		ID:             "ch_fail_1",
		Customer:       &stripe.Customer{ID: "cus_wh_1"},
		FailureMessage: "insufficient funds",
	})
	s.process(payload)

	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.True(u.HasPaymentIssue)
}

func (s *WebhookServiceSuite) TestResolvesUserThroughGatewayEmailLookup() {
	// Event carries only a customer id we never bound; the gateway knows
	// the customer's email and that email matches a local user.
	s.GetGateway().SetCustomer(&stripe.Customer{ID: "cus_drifted", Email: "payer@example.com"})

	payload := s.eventPayload("evt_drift_1", types.WebhookEventPaymentIntentSucceeded, &stripe.PaymentIntent{
		ID:       "pi_drift_1",
		Customer: &stripe.Customer{ID: "cus_drifted"},
		Metadata: map[string]string{"plan_option": "pack_small"},
	})

	result := s.process(payload)
	s.Equal(dto.WebhookStatusProcessed, result.Status)
	s.Equal(int64(5000), s.balance())

	// The fresher customer id wins the binding
	u, err := s.GetStores().UserRepo.GetByID(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal("cus_drifted", *u.PGCustomerID)
}
