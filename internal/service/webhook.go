package service

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	"github.com/tokenrail/tokenrail/internal/domain/webhookevent"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/types"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookService is the event dispatcher: it verifies, dedupes and routes
// every inbound gateway event. All effects of one event are committed in a
// single transaction together with the dedupe marker, so an event either
// fully happened or is retried from scratch.
//
// The contract with the gateway's retry loop: 200 for processed events,
// duplicates and events we deliberately skip; non-2xx only when retrying
// can help (transient storage, catalog gaps).
type WebhookService interface {
	ProcessEvent(ctx context.Context, payload []byte, signature string) (*dto.WebhookResult, error)
}

type webhookService struct {
	ServiceParams
	users         UserService
	subscriptions SubscriptionService
	purchases     PurchaseService
	referrals     ReferralService
}

// NewWebhookService creates a new instance of WebhookService
func NewWebhookService(params ServiceParams) WebhookService {
	return &webhookService{
		ServiceParams: params,
		users:         NewUserService(params),
		subscriptions: NewSubscriptionService(params),
		purchases:     NewPurchaseService(params),
		referrals:     NewReferralService(params),
	}
}

func (s *webhookService) ProcessEvent(ctx context.Context, payload []byte, signature string) (*dto.WebhookResult, error) {
	event, err := s.Gateway.ParseWebhookEvent(payload, signature)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Config.Webhook.HandlerTimeout)
	defer cancel()

	result := &dto.WebhookResult{
		Status:    dto.WebhookStatusProcessed,
		EventID:   event.ID,
		EventType: string(event.Type),
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		// First insert wins. The marker commits with the event's effects,
		// so a failed handler rolls it back and the gateway's retry gets a
		// clean slate.
		insertErr := s.DB.WithTx(ctx, func(ctx context.Context) error {
			return s.WebhookEventRepo.Create(ctx, webhookevent.New(event.ID, string(event.Type), time.Now().UTC()))
		})
		if insertErr != nil {
			if ierr.IsAlreadyExists(insertErr) {
				result.Status = dto.WebhookStatusDuplicate
				return nil
			}
			return insertErr
		}
		return s.route(ctx, event, result)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("handled gateway event",
		"event_id", result.EventID,
		"event_type", result.EventType,
		"status", result.Status,
		"reason", result.Reason,
	)
	return result, nil
}

func (s *webhookService) route(ctx context.Context, event *stripe.Event, result *dto.WebhookResult) error {
	switch types.WebhookEventType(event.Type) {
	case types.WebhookEventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := unmarshalEvent(event, &session); err != nil {
			return err
		}
		return s.handleCheckoutSessionCompleted(ctx, &session, result)

	case types.WebhookEventSubscriptionCreated:
		var sub stripe.Subscription
		if err := unmarshalEvent(event, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionCreated(ctx, &sub, result)

	case types.WebhookEventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := unmarshalEvent(event, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionUpdated(ctx, event.ID, &sub, result)

	case types.WebhookEventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := unmarshalEvent(event, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionDeleted(ctx, &sub, result)

	case types.WebhookEventInvoicePaid, types.WebhookEventInvoicePaymentSucceeded:
		// Both names describe the same fact; the invoice id anchors the
		// grant so receiving both cannot double-credit.
		var inv stripe.Invoice
		if err := unmarshalEvent(event, &inv); err != nil {
			return err
		}
		return s.handleInvoicePaid(ctx, &inv, result)

	case types.WebhookEventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := unmarshalEvent(event, &inv); err != nil {
			return err
		}
		return s.handleInvoicePaymentFailed(ctx, &inv, result)

	case types.WebhookEventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := unmarshalEvent(event, &pi); err != nil {
			return err
		}
		return s.handlePaymentIntentSucceeded(ctx, &pi, result)

	case types.WebhookEventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := unmarshalEvent(event, &pi); err != nil {
			return err
		}
		return s.handlePaymentIntentFailed(ctx, &pi, result)

	case types.WebhookEventChargeFailed:
		var ch stripe.Charge
		if err := unmarshalEvent(event, &ch); err != nil {
			return err
		}
		return s.handleChargeFailed(ctx, &ch, result)

	default:
		result.Status = dto.WebhookStatusSkipped
		result.Reason = "unhandled event type"
		s.Logger.Debugw("ignoring unhandled event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}
}

func (s *webhookService) handleCheckoutSessionCompleted(ctx context.Context, session *stripe.CheckoutSession, result *dto.WebhookResult) error {
	identity := &GatewayIdentity{
		MetadataUserID: session.Metadata[metadataKeyUserID],
		CustomerID:     integration.SessionCustomerID(session),
		CustomerEmail:  integration.SessionEmail(session),
	}
	u, err := s.resolveUser(ctx, identity, result)
	if err != nil || u == nil {
		return err
	}
	if err := s.bindCustomer(ctx, u, identity.CustomerID); err != nil {
		return err
	}

	switch types.CheckoutMode(session.Mode) {
	case types.CheckoutModePayment:
		return s.purchases.FulfillCheckoutSession(ctx, u, session)
	case types.CheckoutModeSubscription:
		// Customer binding was the point; the subscription events carry
		// the rest.
		return nil
	default:
		result.Status = dto.WebhookStatusSkipped
		result.Reason = "unhandled checkout mode"
		s.Logger.Debugw("ignoring checkout session mode",
			"session_id", session.ID,
			"mode", session.Mode,
		)
		return nil
	}
}

func (s *webhookService) handleSubscriptionCreated(ctx context.Context, gwSub *stripe.Subscription, result *dto.WebhookResult) error {
	identity := &GatewayIdentity{
		MetadataUserID: gwSub.Metadata[metadataKeyUserID],
		CustomerID:     integration.SubscriptionCustomerID(gwSub),
	}
	u, err := s.resolveUser(ctx, identity, result)
	if err != nil || u == nil {
		return err
	}
	if err := s.bindCustomer(ctx, u, identity.CustomerID); err != nil {
		return err
	}

	stored, _, err := s.subscriptions.SyncFromGateway(ctx, u, gwSub)
	if err != nil {
		return err
	}
	// A fresh subscription starts with a clean payment record. Credit
	// waits for the invoice.
	return s.subscriptions.ClearPaymentIssue(ctx, stored)
}

func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, eventID string, gwSub *stripe.Subscription, result *dto.WebhookResult) error {
	var priorTier types.PlanTier
	prior, err := s.SubRepo.GetByPGSubscriptionID(ctx, gwSub.ID)
	if err == nil {
		priorTier = prior.PlanTier
	} else if !ierr.IsNotFound(err) {
		return err
	}

	var u *user.User
	if prior != nil {
		u, err = s.UserRepo.GetByID(ctx, prior.UserID)
		if err != nil {
			return err
		}
	} else {
		// Update arrived before create; resolve and mirror it the same way
		identity := &GatewayIdentity{
			MetadataUserID: gwSub.Metadata[metadataKeyUserID],
			CustomerID:     integration.SubscriptionCustomerID(gwSub),
		}
		u, err = s.resolveUser(ctx, identity, result)
		if err != nil || u == nil {
			return err
		}
		if err := s.bindCustomer(ctx, u, identity.CustomerID); err != nil {
			return err
		}
	}

	stored, created, err := s.subscriptions.SyncFromGateway(ctx, u, gwSub)
	if err != nil {
		return err
	}

	if !created && priorTier != "" && stored.PlanTier != priorTier {
		// The event id anchors the grant: replays of this update cannot
		// credit twice.
		if err := s.subscriptions.GrantUpgradeCredit(ctx, stored, "evt:"+eventID); err != nil {
			return err
		}
		s.Logger.Infow("granted tier change credit",
			"subscription_id", stored.ID,
			"from_tier", priorTier,
			"to_tier", stored.PlanTier,
		)
	}
	return nil
}

func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, gwSub *stripe.Subscription, result *dto.WebhookResult) error {
	local, err := s.SubRepo.GetByPGSubscriptionID(ctx, gwSub.ID)
	if err != nil {
		if ierr.IsNotFound(err) {
			result.Status = dto.WebhookStatusSkipped
			result.Reason = "no local subscription"
			s.Logger.Warnw("deletion event for unknown subscription",
				"pg_subscription_id", gwSub.ID,
			)
			return nil
		}
		return err
	}
	return s.subscriptions.End(ctx, local, subscription.StateEventDeleted)
}

func (s *webhookService) handleInvoicePaid(ctx context.Context, inv *stripe.Invoice, result *dto.WebhookResult) error {
	if inv.Status != stripe.InvoiceStatusPaid {
		result.Status = dto.WebhookStatusSkipped
		result.Reason = "invoice not paid"
		return nil
	}

	subID := integration.SubscriptionIDFromInvoice(inv)
	if subID == "" {
		// One-off invoices carry no credit policy; bare payments arrive
		// through payment_intent.succeeded.
		result.Status = dto.WebhookStatusSkipped
		result.Reason = "not a subscription invoice"
		return nil
	}

	local, err := s.resolveSubscription(ctx, subID, result)
	if err != nil || local == nil {
		return err
	}

	// Money arrived: whatever dunning state was recorded is over.
	if err := s.subscriptions.ClearPaymentIssue(ctx, local); err != nil {
		return err
	}

	if _, err := s.subscriptions.ApplyInvoiceCredit(ctx, local, inv); err != nil {
		return err
	}

	// The first subscription payment settles any pending referral
	if types.BillingReason(inv.BillingReason) == types.BillingReasonSubscriptionCreate {
		if _, err := s.referrals.RewardPending(ctx, local.UserID); err != nil {
			return err
		}
	}
	return nil
}

func (s *webhookService) handleInvoicePaymentFailed(ctx context.Context, inv *stripe.Invoice, result *dto.WebhookResult) error {
	reason := s.Gateway.ResolveInvoiceFailureReason(ctx, inv)

	if subID := integration.SubscriptionIDFromInvoice(inv); subID != "" {
		local, err := s.SubRepo.GetByPGSubscriptionID(ctx, subID)
		if err == nil {
			return s.subscriptions.RecordPaymentFailure(ctx, local, reason)
		}
		if !ierr.IsNotFound(err) {
			return err
		}
	}

	// No local subscription to pin the reason on; still flag the user
	identity := &GatewayIdentity{
		CustomerID:    integration.InvoiceCustomerID(inv),
		CustomerEmail: inv.CustomerEmail,
	}
	u, err := s.resolveUser(ctx, identity, result)
	if err != nil || u == nil {
		return err
	}
	s.Logger.Warnw("payment failure without a local subscription",
		"user_id", u.ID,
		"invoice_id", inv.ID,
		"reason", reason,
	)
	return s.UserRepo.UpdateFlags(ctx, u.ID, user.Flags{HasPaymentIssue: lo.ToPtr(true)})
}

func (s *webhookService) handlePaymentIntentSucceeded(ctx context.Context, pi *stripe.PaymentIntent, result *dto.WebhookResult) error {
	// Payment intents fire for every charge, subscriptions included; only
	// the ones carrying our purchase metadata are token packs.
	if pi.Metadata[metadataKeyPlanOption] == "" {
		result.Status = dto.WebhookStatusSkipped
		result.Reason = "not a token purchase"
		return nil
	}

	identity := &GatewayIdentity{
		MetadataUserID: pi.Metadata[metadataKeyUserID],
		CustomerID:     integration.PaymentIntentCustomerID(pi),
	}
	u, err := s.resolveUser(ctx, identity, result)
	if err != nil || u == nil {
		return err
	}
	if err := s.bindCustomer(ctx, u, identity.CustomerID); err != nil {
		return err
	}
	return s.purchases.FulfillPaymentIntent(ctx, u, pi)
}

func (s *webhookService) handlePaymentIntentFailed(ctx context.Context, pi *stripe.PaymentIntent, result *dto.WebhookResult) error {
	reason := s.Gateway.ResolvePaymentIntentFailureReason(pi)
	identity := &GatewayIdentity{
		MetadataUserID: pi.Metadata[metadataKeyUserID],
		CustomerID:     integration.PaymentIntentCustomerID(pi),
	}
	return s.recordUserPaymentFailure(ctx, identity, reason, result)
}

func (s *webhookService) handleChargeFailed(ctx context.Context, ch *stripe.Charge, result *dto.WebhookResult) error {
	reason := s.Gateway.ResolveChargeFailureReason(ch)
	identity := &GatewayIdentity{
		MetadataUserID: ch.Metadata[metadataKeyUserID],
		CustomerID:     integration.ChargeCustomerID(ch),
	}
	return s.recordUserPaymentFailure(ctx, identity, reason, result)
}

// recordUserPaymentFailure pins a failure reason on the user's active
// subscription when there is one, or just flags the user otherwise.
func (s *webhookService) recordUserPaymentFailure(ctx context.Context, identity *GatewayIdentity, reason string, result *dto.WebhookResult) error {
	u, err := s.resolveUser(ctx, identity, result)
	if err != nil || u == nil {
		return err
	}

	sub, err := s.SubRepo.GetLatestActiveByUserID(ctx, u.ID)
	if err == nil {
		return s.subscriptions.RecordPaymentFailure(ctx, sub, reason)
	}
	if !ierr.IsNotFound(err) {
		return err
	}
	s.Logger.Warnw("payment failure for user without active subscription",
		"user_id", u.ID,
		"reason", reason,
	)
	return s.UserRepo.UpdateFlags(ctx, u.ID, user.Flags{HasPaymentIssue: lo.ToPtr(true)})
}

// resolveSubscription finds the local mirror for a gateway subscription id,
// rebuilding it from the gateway when event ordering left us without one.
func (s *webhookService) resolveSubscription(ctx context.Context, pgSubscriptionID string, result *dto.WebhookResult) (*subscription.Subscription, error) {
	local, err := s.SubRepo.GetByPGSubscriptionID(ctx, pgSubscriptionID)
	if err == nil {
		return local, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	gwSub, err := s.Gateway.GetSubscription(ctx, pgSubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			result.Status = dto.WebhookStatusSkipped
			result.Reason = "subscription unknown to gateway"
			s.Logger.Warnw("invoice references a subscription the gateway does not know",
				"pg_subscription_id", pgSubscriptionID,
			)
			return nil, nil
		}
		return nil, err
	}

	identity := &GatewayIdentity{
		MetadataUserID: gwSub.Metadata[metadataKeyUserID],
		CustomerID:     integration.SubscriptionCustomerID(gwSub),
	}
	u, err := s.resolveUser(ctx, identity, result)
	if err != nil || u == nil {
		return nil, err
	}
	if err := s.bindCustomer(ctx, u, identity.CustomerID); err != nil {
		return nil, err
	}

	local, _, err = s.subscriptions.SyncFromGateway(ctx, u, gwSub)
	if err != nil {
		return nil, err
	}
	s.Logger.Infow("mirrored subscription ahead of its creation event",
		"subscription_id", local.ID,
		"pg_subscription_id", pgSubscriptionID,
	)
	return local, nil
}

// resolveUser maps event identity fragments to a local user. An identity
// no resolution step can claim is logged, alerted and skipped; the event
// still answers 200 because retrying cannot attach it to anyone.
func (s *webhookService) resolveUser(ctx context.Context, identity *GatewayIdentity, result *dto.WebhookResult) (*user.User, error) {
	u, err := s.users.ResolveGatewayIdentity(ctx, identity)
	if err == nil {
		return u, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	result.Status = dto.WebhookStatusSkipped
	result.Reason = "no local user for event"
	s.Logger.Warnw("skipping event that resolves to no local user",
		"event_id", result.EventID,
		"event_type", result.EventType,
		"metadata_user_id", identity.MetadataUserID,
		"customer_id", identity.CustomerID,
	)
	_ = s.AlertSender.Send(ctx, &alert.Alert{
		Severity: alert.SeverityWarning,
		Title:    "gateway event could not be attributed to a user",
		Message:  "event " + result.EventID + " (" + result.EventType + ") matched no local user",
		Details: map[string]any{
			"event_id":         result.EventID,
			"event_type":       result.EventType,
			"metadata_user_id": identity.MetadataUserID,
			"customer_id":      identity.CustomerID,
		},
	})
	return nil, nil
}

// bindCustomer stores the gateway customer id on first sight and follows
// the gateway if it ever re-homes the user onto a new customer object.
func (s *webhookService) bindCustomer(ctx context.Context, u *user.User, customerID string) error {
	if customerID == "" {
		return nil
	}
	if u.PGCustomerID != nil && *u.PGCustomerID == customerID {
		return nil
	}
	if err := s.users.BindCustomer(ctx, u.ID, customerID); err != nil {
		return err
	}
	u.PGCustomerID = &customerID
	return nil
}

func unmarshalEvent(event *stripe.Event, v any) error {
	if err := jsonit.Unmarshal(event.Data.Raw, v); err != nil {
		return ierr.WithError(err).
			WithHint("Event payload does not match its declared type").
			WithReportableDetails(map[string]any{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
