package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/types"
)

// metadata keys echoed back by the gateway on completed payments. The
// webhook side recovers the purchase intent from these.
const (
	metadataKeyUserID     = "user_id"
	metadataKeyPlanType   = "plan_type"
	metadataKeyPlanOption = "plan_option"
)

// PurchaseService sells one-time token packs: it opens hosted checkout
// sessions and fulfills them when the gateway confirms payment.
type PurchaseService interface {
	// StartCheckout creates a hosted checkout session for the pack named
	// by the request and returns the redirect URL.
	StartCheckout(ctx context.Context, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error)

	// FulfillCheckoutSession records a paid checkout session and credits
	// its tokens. Replays resolve to the existing purchase.
	FulfillCheckoutSession(ctx context.Context, u *user.User, session *stripe.CheckoutSession) error

	// FulfillPaymentIntent credits a one-time payment that arrived as a
	// bare payment intent instead of a checkout session. The intent must
	// carry the purchase metadata; anything else is not ours to fulfill.
	FulfillPaymentIntent(ctx context.Context, u *user.User, pi *stripe.PaymentIntent) error

	// List returns the user's fulfilled purchases, newest first
	List(ctx context.Context, userID string) (*dto.ListPurchasesResponse, error)
}

type purchaseService struct {
	ServiceParams
}

// NewPurchaseService creates a new instance of PurchaseService
func NewPurchaseService(params ServiceParams) PurchaseService {
	return &purchaseService{
		ServiceParams: params,
	}
}

func (s *purchaseService) StartCheckout(ctx context.Context, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u, err := s.UserRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	price, err := s.CatalogRepo.GetTokenPrice(ctx, req.PlanOption)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("unknown plan option").
				WithHint("The selected token pack does not exist").
				WithReportableDetails(map[string]any{
					"plan_option": req.PlanOption,
				}).
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}

	checkoutReq := &integration.CheckoutSessionRequest{
		CustomerEmail: u.Email,
		ProductName:   fmt.Sprintf("%d tokens (%s)", price.Tokens, price.Tier),
		Currency:      "usd",
		AmountCents:   price.PriceCents,
		SuccessURL:    s.Config.Site.Domain + "/billing/success",
		CancelURL:     s.Config.Site.Domain + "/billing/cancelled",
		Metadata: map[string]string{
			metadataKeyUserID:     u.ID,
			metadataKeyPlanType:   req.PlanType,
			metadataKeyPlanOption: req.PlanOption,
		},
	}
	// A known gateway customer beats a bare email; checkout then reuses
	// their saved payment methods.
	if u.PGCustomerID != nil && *u.PGCustomerID != "" {
		checkoutReq.CustomerID = *u.PGCustomerID
		checkoutReq.CustomerEmail = ""
	}

	session, err := s.Gateway.CreateCheckoutSession(ctx, checkoutReq)
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("opened checkout session",
		"user_id", u.ID,
		"plan_option", req.PlanOption,
		"session_id", session.SessionID,
	)
	return &dto.CheckoutResponse{
		URL:    session.URL,
		Amount: decimal.NewFromInt(price.PriceCents).Div(decimal.NewFromInt(100)),
		Tokens: price.Tokens,
	}, nil
}

func (s *purchaseService) FulfillCheckoutSession(ctx context.Context, u *user.User, session *stripe.CheckoutSession) error {
	planOption := session.Metadata[metadataKeyPlanOption]
	if planOption == "" {
		return ierr.NewError("checkout session carries no plan option").
			WithHint("Completed session has no purchase metadata").
			WithReportableDetails(map[string]any{
				"session_id": session.ID,
			}).
			Mark(ierr.ErrValidation)
	}
	return s.fulfill(ctx, u, session.ID, planOption, integration.SessionDiscountCents(session))
}

func (s *purchaseService) FulfillPaymentIntent(ctx context.Context, u *user.User, pi *stripe.PaymentIntent) error {
	planOption := pi.Metadata[metadataKeyPlanOption]
	if planOption == "" {
		// Not a token purchase: subscription charges and unrelated intents
		// flow through here too.
		s.Logger.Debugw("payment intent carries no purchase metadata, ignoring",
			"payment_intent_id", pi.ID,
		)
		return nil
	}
	return s.fulfill(ctx, u, pi.ID, planOption, 0)
}

// fulfill inserts the purchase row and grants its batch. The purchase row
// is keyed by the gateway payment id, so a replay stops at the insert and
// never double-credits.
func (s *purchaseService) fulfill(ctx context.Context, u *user.User, pgPurchaseID, planOption string, discountCents int64) error {
	price, err := s.CatalogRepo.GetTokenPrice(ctx, planOption)
	if err != nil {
		if ierr.IsNotFound(err) {
			// The payment is real and the money is taken; retrying after
			// the catalog is fixed is the only honest way out.
			return ierr.NewError("token pack missing from catalog").
				WithHint("The pricing catalog has no entry for this pack").
				WithReportableDetails(map[string]any{
					"plan_option":    planOption,
					"pg_purchase_id": pgPurchaseID,
				}).
				Mark(ierr.ErrCatalogMissing)
		}
		return err
	}

	now := time.Now().UTC()
	p := purchase.New(ctx, u.ID, pgPurchaseID)
	p.PlanTier = price.Tier
	p.AmountTokens = price.Tokens
	p.DiscountCents = discountCents
	p.PeriodStart = now
	p.PeriodEnd = now.AddDate(0, 0, purchase.TokenValidityDays)
	if err := p.Validate(); err != nil {
		return err
	}

	ledger := NewLedgerService(s.ServiceParams)
	referrals := NewReferralService(s.ServiceParams)

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		insertErr := s.DB.WithTx(ctx, func(ctx context.Context) error {
			return s.PurchaseRepo.Create(ctx, p)
		})
		if insertErr != nil {
			if ierr.IsAlreadyExists(insertErr) {
				s.Logger.Infow("purchase already fulfilled, skipping",
					"user_id", u.ID,
					"pg_purchase_id", pgPurchaseID,
				)
				return nil
			}
			return insertErr
		}

		if _, err := ledger.Grant(ctx, &batch.GrantOperation{
			UserID:    u.ID,
			Origin:    types.PurchaseOrigin(p.ID),
			Amount:    p.AmountTokens,
			ExpiresAt: p.PeriodEnd,
			Note:      "one-time-purchase",
			Reason:    types.TokenEventReasonPurchase,
		}); err != nil {
			return err
		}

		// A first purchase settles any pending referral
		if _, err := referrals.RewardPending(ctx, u.ID); err != nil {
			return err
		}

		s.Logger.Infow("fulfilled one-time purchase",
			"user_id", u.ID,
			"purchase_id", p.ID,
			"pg_purchase_id", pgPurchaseID,
			"plan_tier", p.PlanTier,
			"tokens", p.AmountTokens,
			"discount_cents", discountCents,
		)
		return nil
	})
}

func (s *purchaseService) List(ctx context.Context, userID string) (*dto.ListPurchasesResponse, error) {
	purchases, err := s.PurchaseRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := lo.Map(purchases, func(p *purchase.Purchase, _ int) *dto.PurchaseResponse {
		return dto.NewPurchaseResponse(p)
	})
	return &dto.ListPurchasesResponse{Items: items, Total: len(items)}, nil
}
