package stripe

import (
	"time"

	"github.com/stripe/stripe-go/v82"
)

// Accessors over raw webhook payloads. Expandable references arrive as bare
// ids, so only the ID field of nested objects can be trusted here.

// SubscriptionIDFromInvoice returns the gateway subscription an invoice
// bills, or empty for one-off invoices.
func SubscriptionIDFromInvoice(inv *stripe.Invoice) string {
	return subscriptionIDFromInvoice(inv)
}

// InvoiceCustomerID returns the customer the invoice was issued to.
func InvoiceCustomerID(inv *stripe.Invoice) string {
	if inv == nil || inv.Customer == nil {
		return ""
	}
	return inv.Customer.ID
}

// PeriodEndFromInvoice returns the latest line period end on the invoice,
// falling back to the invoice's own period end. ok is false when the
// payload carries no usable period at all.
func PeriodEndFromInvoice(inv *stripe.Invoice) (time.Time, bool) {
	if inv == nil {
		return time.Time{}, false
	}

	var latest int64
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Period == nil {
				continue
			}
			if line.Period.End > latest {
				latest = line.Period.End
			}
		}
	}
	if latest == 0 {
		latest = inv.PeriodEnd
	}
	if latest == 0 {
		return time.Time{}, false
	}
	return time.Unix(latest, 0).UTC(), true
}

// SubscriptionPlanKey returns the price id of the subscription's first
// item, which keys the local pricing catalog.
func SubscriptionPlanKey(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

// SubscriptionPeriod returns the current period bounds. The period lives on
// the items since the v82 API surface.
func SubscriptionPeriod(sub *stripe.Subscription) (start, end time.Time, ok bool) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}, time.Time{}, false
	}
	item := sub.Items.Data[0]
	if item == nil || item.CurrentPeriodEnd == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(item.CurrentPeriodStart, 0).UTC(), time.Unix(item.CurrentPeriodEnd, 0).UTC(), true
}

// SubscriptionCustomerID returns the customer owning the subscription.
func SubscriptionCustomerID(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

// SubscriptionStatusActive reports whether a gateway status still entitles
// the user: past_due stays active while dunning runs its course.
func SubscriptionStatusActive(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// SessionCustomerID returns the customer attached to a checkout session.
func SessionCustomerID(session *stripe.CheckoutSession) string {
	if session == nil || session.Customer == nil {
		return ""
	}
	return session.Customer.ID
}

// SessionEmail returns the best-known email on a checkout session.
func SessionEmail(session *stripe.CheckoutSession) string {
	if session == nil {
		return ""
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

// SessionDiscountCents returns the promotion discount applied at checkout.
func SessionDiscountCents(session *stripe.CheckoutSession) int64 {
	if session == nil || session.TotalDetails == nil {
		return 0
	}
	return session.TotalDetails.AmountDiscount
}

// PaymentIntentCustomerID returns the customer behind a payment intent.
func PaymentIntentCustomerID(pi *stripe.PaymentIntent) string {
	if pi == nil || pi.Customer == nil {
		return ""
	}
	return pi.Customer.ID
}

// ChargeCustomerID returns the customer behind a charge.
func ChargeCustomerID(ch *stripe.Charge) string {
	if ch == nil || ch.Customer == nil {
		return ""
	}
	return ch.Customer.ID
}
