package service

import (
	"context"

	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"

	"github.com/stripe/stripe-go/v82"
)

// PaymentGateway is the slice of the payment gateway the services consume.
// The production implementation is integration/stripe.Client; tests swap in
// a fake.
type PaymentGateway interface {
	// ParseWebhookEvent verifies the signature over the raw payload and
	// parses the event
	ParseWebhookEvent(payload []byte, signature string) (*stripe.Event, error)

	// CreateCheckoutSession creates a hosted checkout session in payment
	// mode for a one-time token purchase
	CreateCheckoutSession(ctx context.Context, req *integration.CheckoutSessionRequest) (*integration.CheckoutSessionResponse, error)

	// GetSubscription retrieves a subscription with its customer expanded
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// CancelAtPeriodEnd schedules a subscription to end with the paid period
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// GetCustomer retrieves a gateway customer
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)

	// FindCustomerByEmail looks up a gateway customer by email
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)

	// ListActiveSubscriptions pages through all active gateway subscriptions
	ListActiveSubscriptions(ctx context.Context) ([]*stripe.Subscription, error)

	// ResolveInvoiceFailureReason diagnoses why an invoice payment failed;
	// the result is never empty
	ResolveInvoiceFailureReason(ctx context.Context, inv *stripe.Invoice) string

	// ResolvePaymentIntentFailureReason reads the failure off a payment
	// intent payload
	ResolvePaymentIntentFailureReason(pi *stripe.PaymentIntent) string

	// ResolveChargeFailureReason reads the failure off a charge payload
	ResolveChargeFailureReason(ch *stripe.Charge) string
}
