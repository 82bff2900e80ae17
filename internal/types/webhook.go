package types

// WebhookEventType is the inbound gateway event name the dispatcher
// routes on. The strings are the literal Stripe event types.
type WebhookEventType string

const (
	WebhookEventCheckoutSessionCompleted WebhookEventType = "checkout.session.completed"
	WebhookEventSubscriptionCreated      WebhookEventType = "customer.subscription.created"
	WebhookEventSubscriptionUpdated      WebhookEventType = "customer.subscription.updated"
	WebhookEventSubscriptionDeleted      WebhookEventType = "customer.subscription.deleted"
	WebhookEventInvoicePaid              WebhookEventType = "invoice.paid"
	WebhookEventInvoicePaymentSucceeded  WebhookEventType = "invoice.payment_succeeded"
	WebhookEventInvoicePaymentFailed     WebhookEventType = "invoice.payment_failed"
	WebhookEventPaymentIntentSucceeded   WebhookEventType = "payment_intent.succeeded"
	WebhookEventPaymentIntentFailed      WebhookEventType = "payment_intent.payment_failed"
	WebhookEventChargeFailed             WebhookEventType = "charge.failed"
)

func (t WebhookEventType) String() string {
	return string(t)
}

// CheckoutMode distinguishes one-time payments from subscription checkouts
type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// BillingReason mirrors the gateway's invoice billing_reason values the
// credit policy cares about.
type BillingReason string

const (
	BillingReasonSubscriptionCreate BillingReason = "subscription_create"
	BillingReasonSubscriptionCycle  BillingReason = "subscription_cycle"
	BillingReasonSubscriptionUpdate BillingReason = "subscription_update"
)
