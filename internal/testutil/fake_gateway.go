package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/stripe/stripe-go/v82"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/types"
)

// FakeGateway is an in-memory payment gateway for tests. Webhook payloads
// are parsed without signature math: any signature passes unless
// RequireSignature pins one.
type FakeGateway struct {
	mu sync.RWMutex

	subscriptions map[string]*stripe.Subscription
	customers     map[string]*stripe.Customer

	checkoutResponse *integration.CheckoutSessionResponse
	checkoutErr      error
	checkoutRequests []*integration.CheckoutSessionRequest

	requiredSignature string
	failureReason     string
	cancelled         []string
	listErr           error
}

// NewFakeGateway creates a new fake payment gateway
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		subscriptions: make(map[string]*stripe.Subscription),
		customers:     make(map[string]*stripe.Customer),
	}
}

// SetSubscription registers a gateway subscription for lookups and listing
func (f *FakeGateway) SetSubscription(sub *stripe.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

// SetCustomer registers a gateway customer
func (f *FakeGateway) SetCustomer(c *stripe.Customer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[c.ID] = c
}

// SetCheckoutResponse pins the response returned by CreateCheckoutSession
func (f *FakeGateway) SetCheckoutResponse(resp *integration.CheckoutSessionResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutResponse = resp
}

// SetCheckoutError makes CreateCheckoutSession fail
func (f *FakeGateway) SetCheckoutError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutErr = err
}

// RequireSignature makes ParseWebhookEvent reject any other signature
func (f *FakeGateway) RequireSignature(sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requiredSignature = sig
}

// SetFailureReason pins the reason the resolve helpers fall back to
func (f *FakeGateway) SetFailureReason(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failureReason = reason
}

// SetListError makes ListActiveSubscriptions fail
func (f *FakeGateway) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// CheckoutRequests returns every recorded checkout session request
func (f *FakeGateway) CheckoutRequests() []*integration.CheckoutSessionRequest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]*integration.CheckoutSessionRequest, len(f.checkoutRequests))
	copy(result, f.checkoutRequests)
	return result
}

// CancelledIDs returns the subscription ids CancelAtPeriodEnd was called with
func (f *FakeGateway) CancelledIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]string, len(f.cancelled))
	copy(result, f.cancelled)
	return result
}

func (f *FakeGateway) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = make(map[string]*stripe.Subscription)
	f.customers = make(map[string]*stripe.Customer)
	f.checkoutResponse = nil
	f.checkoutErr = nil
	f.checkoutRequests = nil
	f.requiredSignature = ""
	f.failureReason = ""
	f.cancelled = nil
	f.listErr = nil
}

func (f *FakeGateway) ParseWebhookEvent(payload []byte, signature string) (*stripe.Event, error) {
	f.mu.RLock()
	required := f.requiredSignature
	f.mu.RUnlock()

	if required != "" && signature != required {
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}
	return &event, nil
}

func (f *FakeGateway) CreateCheckoutSession(ctx context.Context, req *integration.CheckoutSessionRequest) (*integration.CheckoutSessionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkoutRequests = append(f.checkoutRequests, req)
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	if f.checkoutResponse != nil {
		return f.checkoutResponse, nil
	}
	return &integration.CheckoutSessionResponse{
		SessionID: "cs_" + types.GenerateUUID(),
		URL:       "https://checkout.gateway.test/session",
	}, nil
}

func (f *FakeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if sub, exists := f.subscriptions[subscriptionID]; exists {
		return sub, nil
	}
	return nil, ierr.NewError("subscription not found").
		WithHint("No gateway subscription with this id").
		WithReportableDetails(map[string]any{
			"subscription_id": subscriptionID,
		}).
		Mark(ierr.ErrNotFound)
}

func (f *FakeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, exists := f.subscriptions[subscriptionID]
	if !exists {
		return nil, ierr.NewError("subscription not found").
			WithHint("No gateway subscription with this id").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
			}).
			Mark(ierr.ErrNotFound)
	}
	sub.CancelAtPeriodEnd = true
	f.cancelled = append(f.cancelled, subscriptionID)
	return sub, nil
}

func (f *FakeGateway) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if c, exists := f.customers[customerID]; exists {
		return c, nil
	}
	return nil, ierr.NewError("customer not found").
		WithHint("No gateway customer with this id").
		Mark(ierr.ErrNotFound)
}

func (f *FakeGateway) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, c := range f.customers {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, ierr.NewError("customer not found").
		WithHint("No gateway customer with this email").
		Mark(ierr.ErrNotFound)
}

func (f *FakeGateway) ListActiveSubscriptions(ctx context.Context) ([]*stripe.Subscription, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var result []*stripe.Subscription
	for _, sub := range f.subscriptions {
		if sub.Status == stripe.SubscriptionStatusActive {
			result = append(result, sub)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (f *FakeGateway) ResolveInvoiceFailureReason(ctx context.Context, inv *stripe.Invoice) string {
	if inv == nil {
		return "unknown: no invoice payload"
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failureReason != "" {
		return f.failureReason
	}
	return "no_attempt_yet"
}

func (f *FakeGateway) ResolvePaymentIntentFailureReason(pi *stripe.PaymentIntent) string {
	if pi != nil && pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		return pi.LastPaymentError.Msg
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failureReason != "" {
		return f.failureReason
	}
	return "unknown: no payment intent payload"
}

func (f *FakeGateway) ResolveChargeFailureReason(ch *stripe.Charge) string {
	if ch != nil && ch.FailureMessage != "" {
		return ch.FailureMessage
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failureReason != "" {
		return f.failureReason
	}
	return "unknown: no charge payload"
}
