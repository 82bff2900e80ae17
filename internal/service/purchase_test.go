package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/testutil"
	"github.com/tokenrail/tokenrail/internal/types"
)

// The in-memory gateway must satisfy the same surface the real client does.
var _ PaymentGateway = (*testutil.FakeGateway)(nil)

type PurchaseServiceSuite struct {
	testutil.BaseServiceTestSuite
	params    ServiceParams
	purchases PurchaseService
	ledger    LedgerService
	testData  struct {
		user *user.User
		now  time.Time
	}
}

func TestPurchaseService(t *testing.T) {
	suite.Run(t, new(PurchaseServiceSuite))
}

func (s *PurchaseServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.GetConfig().Site.Domain = "https://app.example.com"
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
	s.purchases = NewPurchaseService(s.params)
	s.ledger = NewLedgerService(s.params)
	s.setupTestData()
}

func (s *PurchaseServiceSuite) setupTestData() {
	s.testData.now = s.GetNow()
	s.testData.user = &user.User{
		ID:         "user_pur_1",
		ExternalID: "ext_pur_1",
		Email:      "buyer@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.user))

	store := s.GetStores().CatalogRepo.(*testutil.InMemoryCatalogStore)
	store.SetTokenPrice(&catalog.TokenPrice{
		PlanKey:    "pack_small",
		Tier:       types.PlanTierBasic,
		Tokens:     5000,
		PriceCents: 1500,
	})
	store.SetTokenPrice(&catalog.TokenPrice{
		PlanKey:    "pack_large",
		Tier:       types.PlanTierPremium,
		Tokens:     50000,
		PriceCents: 9900,
	})
}

func (s *PurchaseServiceSuite) paidSession(sessionID, planOption string, discountCents int64) *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID:   sessionID,
		Mode: stripe.CheckoutSessionModePayment,
		Metadata: map[string]string{
			"user_id":     s.testData.user.ID,
			"plan_type":   "tokens",
			"plan_option": planOption,
		},
		TotalDetails: &stripe.CheckoutSessionTotalDetails{AmountDiscount: discountCents},
	}
}

func (s *PurchaseServiceSuite) TestStartCheckoutOpensHostedSession() {
	resp, err := s.purchases.StartCheckout(s.GetContext(), s.testData.user.ID, &dto.CheckoutRequest{
		PlanType:   "tokens",
		PlanOption: "pack_small",
	})
	s.NoError(err)
	s.Equal("https://checkout.gateway.test/session", resp.URL)
	s.Equal(int64(5000), resp.Tokens)
	s.Equal("15", resp.Amount.String())

	requests := s.GetGateway().CheckoutRequests()
	s.Len(requests, 1)
	s.Equal("5000 tokens (basic)", requests[0].ProductName)
	s.Equal(int64(1500), requests[0].AmountCents)
	s.Equal("buyer@example.com", requests[0].CustomerEmail)
	s.Empty(requests[0].CustomerID)
	s.Equal("https://app.example.com/billing/success", requests[0].SuccessURL)
	s.Equal(s.testData.user.ID, requests[0].Metadata["user_id"])
	s.Equal("pack_small", requests[0].Metadata["plan_option"])
}

func (s *PurchaseServiceSuite) TestStartCheckoutPrefersBoundCustomer() {
	s.NoError(s.GetStores().UserRepo.BindPGCustomer(s.GetContext(), s.testData.user.ID, "cus_pur_1"))

	_, err := s.purchases.StartCheckout(s.GetContext(), s.testData.user.ID, &dto.CheckoutRequest{
		PlanType:   "tokens",
		PlanOption: "pack_large",
	})
	s.NoError(err)

	requests := s.GetGateway().CheckoutRequests()
	s.Len(requests, 1)
	s.Equal("cus_pur_1", requests[0].CustomerID)
	s.Empty(requests[0].CustomerEmail)
}

func (s *PurchaseServiceSuite) TestStartCheckoutUnknownPack() {
	_, err := s.purchases.StartCheckout(s.GetContext(), s.testData.user.ID, &dto.CheckoutRequest{
		PlanType:   "tokens",
		PlanOption: "pack_nonexistent",
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
	s.Empty(s.GetGateway().CheckoutRequests())
}

func (s *PurchaseServiceSuite) TestStartCheckoutValidatesRequest() {
	_, err := s.purchases.StartCheckout(s.GetContext(), s.testData.user.ID, &dto.CheckoutRequest{
		PlanType: "tokens",
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *PurchaseServiceSuite) TestStartCheckoutUnknownUser() {
	_, err := s.purchases.StartCheckout(s.GetContext(), "user_ghost", &dto.CheckoutRequest{
		PlanType:   "tokens",
		PlanOption: "pack_small",
	})
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *PurchaseServiceSuite) TestStartCheckoutSurfacesGatewayFailure() {
	s.GetGateway().SetCheckoutError(ierr.NewError("gateway unreachable").
		WithHint("Payment gateway request failed").
		Mark(ierr.ErrHTTPClient))

	_, err := s.purchases.StartCheckout(s.GetContext(), s.testData.user.ID, &dto.CheckoutRequest{
		PlanType:   "tokens",
		PlanOption: "pack_small",
	})
	s.Error(err)
}

func (s *PurchaseServiceSuite) TestFulfillCheckoutSessionCreditsTokens() {
	err := s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, s.paidSession("cs_pur_1", "pack_small", 250))
	s.NoError(err)

	p, err := s.GetStores().PurchaseRepo.GetByPGPurchaseID(s.GetContext(), "cs_pur_1")
	s.NoError(err)
	s.Equal(types.PlanTierBasic, p.PlanTier)
	s.Equal(int64(5000), p.AmountTokens)
	s.Equal(int64(250), p.DiscountCents)

	// Pack tokens run on the fixed purchase clock
	s.WithinDuration(time.Now().UTC().AddDate(0, 0, 60), p.PeriodEnd, 2*time.Minute)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(5000), balance)

	batches, err := s.GetStores().BatchRepo.ListActiveByUserID(s.GetContext(), s.testData.user.ID, s.testData.now)
	s.NoError(err)
	s.Len(batches, 1)
	s.Equal(types.BatchSourcePurchase, batches[0].Source)
	s.Equal(p.PeriodEnd, batches[0].ExpiresAt)
}

func (s *PurchaseServiceSuite) TestFulfillCheckoutSessionReplayIsNoOp() {
	session := s.paidSession("cs_pur_1", "pack_small", 0)

	s.NoError(s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, session))
	s.NoError(s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, session))

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(5000), balance)

	resp, err := s.purchases.List(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(1, resp.Total)
}

func (s *PurchaseServiceSuite) TestFulfillCheckoutSessionRequiresMetadata() {
	err := s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, &stripe.CheckoutSession{
		ID:   "cs_bare_1",
		Mode: stripe.CheckoutSessionModePayment,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *PurchaseServiceSuite) TestFulfillUnknownPackKeepsEventRetryable() {
	err := s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, s.paidSession("cs_pur_1", "pack_retired", 0))
	s.Error(err)
	s.True(ierr.IsCatalogMissing(err))

	// nothing was recorded, a retry after the catalog fix starts clean
	_, err = s.GetStores().PurchaseRepo.GetByPGPurchaseID(s.GetContext(), "cs_pur_1")
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *PurchaseServiceSuite) TestFulfillPaymentIntentWithoutMetadataIsNoOp() {
	err := s.purchases.FulfillPaymentIntent(s.GetContext(), s.testData.user, &stripe.PaymentIntent{ID: "pi_sub_charge"})
	s.NoError(err)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(0), balance)
}

func (s *PurchaseServiceSuite) TestFulfillPaymentIntentCreditsTokens() {
	err := s.purchases.FulfillPaymentIntent(s.GetContext(), s.testData.user, &stripe.PaymentIntent{
		ID:       "pi_pack_1",
		Metadata: map[string]string{"plan_option": "pack_large"},
	})
	s.NoError(err)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(int64(50000), balance)
}

func (s *PurchaseServiceSuite) TestFulfillSettlesPendingReferral() {
	referrer := &user.User{
		ID:         "user_pur_ref",
		ExternalID: "ext_pur_ref",
		Email:      "pur-referrer@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), referrer))

	prior := s.GetConfig().Referral.TokenAmount
	s.GetConfig().Referral.TokenAmount = 2000
	defer func() { s.GetConfig().Referral.TokenAmount = prior }()

	referrals := NewReferralService(s.params)
	_, err := referrals.Register(s.GetContext(), referrer.ID, s.testData.user.ID)
	s.NoError(err)

	s.NoError(s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, s.paidSession("cs_first", "pack_small", 0)))

	referrerBalance, err := s.ledger.Balance(s.GetContext(), referrer.ID)
	s.NoError(err)
	s.Equal(int64(2000), referrerBalance)

	// a second purchase does not reward again
	s.NoError(s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, s.paidSession("cs_second", "pack_small", 0)))
	referrerBalance, err = s.ledger.Balance(s.GetContext(), referrer.ID)
	s.NoError(err)
	s.Equal(int64(2000), referrerBalance)
}

func (s *PurchaseServiceSuite) TestListReturnsNewestFirst() {
	s.NoError(s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, s.paidSession("cs_a", "pack_small", 0)))
	s.NoError(s.purchases.FulfillCheckoutSession(s.GetContext(), s.testData.user, s.paidSession("cs_b", "pack_large", 0)))

	resp, err := s.purchases.List(s.GetContext(), s.testData.user.ID)
	s.NoError(err)
	s.Equal(2, resp.Total)
	s.Len(resp.Items, 2)
	s.Equal(int64(50000), resp.Items[0].AmountTokens)
	s.Equal(int64(5000), resp.Items[1].AmountTokens)
}
