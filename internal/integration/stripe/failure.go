package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// ResolveInvoiceFailureReason walks an escalation chain to find out why an
// invoice payment failed, stopping at the first non-empty answer:
//
//  1. re-fetch the invoice with its payments, payment intents and charges
//     expanded and read the payment intent's last error
//  2. the charge attached to those payments
//  3. the invoice's payment records listed by invoice id
//  4. the subscription's latest invoice, expanded the same way
//
// When every source is silent the invoice state itself is diagnosed. The
// returned reason is never empty; a stored failure reason of "" would make
// the dunning state unexplainable.
func (c *Client) ResolveInvoiceFailureReason(ctx context.Context, inv *stripe.Invoice) string {
	if inv == nil {
		return "unknown: no invoice payload"
	}

	lookupFailed := true

	fetched, err := c.getInvoiceExpanded(ctx, inv.ID)
	if err == nil {
		lookupFailed = false
		if reason := reasonFromInvoicePayments(fetched); reason != "" {
			return reason
		}
		// Keep the richer copy for the fallback diagnosis below.
		inv = fetched
	} else {
		c.logger.Warnw("failed to re-fetch invoice for failure diagnosis",
			"error", err,
			"invoice_id", inv.ID,
		)
	}

	if reason, err := c.reasonFromPaymentRecords(ctx, inv.ID); err == nil {
		lookupFailed = false
		if reason != "" {
			return reason
		}
	}

	if subID := subscriptionIDFromInvoice(inv); subID != "" {
		if reason, err := c.reasonFromLatestInvoice(ctx, subID); err == nil {
			lookupFailed = false
			if reason != "" {
				return reason
			}
		}
	}

	if lookupFailed {
		return fmt.Sprintf("unknown: status=%s, attempt_count=%d, next_attempt=%d",
			inv.Status, inv.AttemptCount, inv.NextPaymentAttempt)
	}

	return diagnoseSilentFailure(inv)
}

// ResolvePaymentIntentFailureReason extracts the failure reason carried on
// a failed payment intent event.
func (c *Client) ResolvePaymentIntentFailureReason(pi *stripe.PaymentIntent) string {
	if reason := reasonFromPaymentIntent(pi); reason != "" {
		return reason
	}
	if pi != nil && pi.LatestCharge != nil {
		if reason := reasonFromCharge(pi.LatestCharge); reason != "" {
			return reason
		}
	}
	if pi != nil {
		return fmt.Sprintf("unknown: payment_intent_status=%s", pi.Status)
	}
	return "unknown: no payment intent payload"
}

// ResolveChargeFailureReason extracts the failure reason carried on a
// failed charge event.
func (c *Client) ResolveChargeFailureReason(ch *stripe.Charge) string {
	if reason := reasonFromCharge(ch); reason != "" {
		return reason
	}
	if ch != nil {
		return fmt.Sprintf("unknown: charge_status=%s", ch.Status)
	}
	return "unknown: no charge payload"
}

func (c *Client) getInvoiceExpanded(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceRetrieveParams{}
	params.AddExpand("payments.data.payment.payment_intent")
	params.AddExpand("payments.data.payment.charge")
	params.AddExpand("customer")

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	var inv *stripe.Invoice
	err := c.withRetry(callCtx, func() error {
		var err error
		inv, err = c.api.V1Invoices.Retrieve(callCtx, invoiceID, params)
		return err
	})
	return inv, err
}

// reasonFromPaymentRecords lists the invoice's payment records directly.
// This catches attempts the invoice snapshot has not absorbed yet.
func (c *Client) reasonFromPaymentRecords(ctx context.Context, invoiceID string) (string, error) {
	params := &stripe.InvoicePaymentListParams{
		Invoice: stripe.String(invoiceID),
	}
	params.AddExpand("data.payment.payment_intent")
	params.AddExpand("data.payment.charge")

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	// Manual iteration over the stripe.Seq2 iterator; range-over-func
	// needs a newer language version than this module targets.
	iter := c.api.V1InvoicePayments.List(callCtx, params)
	var (
		found   string
		iterErr error
	)
	iter(func(payment *stripe.InvoicePayment, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		if reason := reasonFromInvoicePayment(payment); reason != "" {
			found = reason
			return false
		}
		return true
	})
	return found, iterErr
}

func (c *Client) reasonFromLatestInvoice(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionRetrieveParams{}
	params.AddExpand("latest_invoice.payments.data.payment.payment_intent")
	params.AddExpand("latest_invoice.payments.data.payment.charge")

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	var sub *stripe.Subscription
	err := c.withRetry(callCtx, func() error {
		var err error
		sub, err = c.api.V1Subscriptions.Retrieve(callCtx, subscriptionID, params)
		return err
	})
	if err != nil {
		return "", err
	}
	if sub.LatestInvoice == nil {
		return "", nil
	}
	return reasonFromInvoicePayments(sub.LatestInvoice), nil
}

func reasonFromInvoicePayments(inv *stripe.Invoice) string {
	if inv == nil || inv.Payments == nil {
		return ""
	}
	for _, payment := range inv.Payments.Data {
		if reason := reasonFromInvoicePayment(payment); reason != "" {
			return reason
		}
	}
	return ""
}

func reasonFromInvoicePayment(payment *stripe.InvoicePayment) string {
	if payment == nil || payment.Payment == nil {
		return ""
	}
	if reason := reasonFromPaymentIntent(payment.Payment.PaymentIntent); reason != "" {
		return reason
	}
	return reasonFromCharge(payment.Payment.Charge)
}

func reasonFromPaymentIntent(pi *stripe.PaymentIntent) string {
	if pi == nil || pi.LastPaymentError == nil {
		return ""
	}
	if pi.LastPaymentError.Msg != "" {
		return pi.LastPaymentError.Msg
	}
	if pi.LastPaymentError.DeclineCode != "" {
		return string(pi.LastPaymentError.DeclineCode)
	}
	return string(pi.LastPaymentError.Code)
}

func reasonFromCharge(ch *stripe.Charge) string {
	if ch == nil {
		return ""
	}
	if ch.FailureMessage != "" {
		return ch.FailureMessage
	}
	return ch.FailureCode
}

// diagnoseSilentFailure explains a failed invoice that carries no payment
// error anywhere: either nothing ever tried to pay it, or there was nothing
// to pay it with.
func diagnoseSilentFailure(inv *stripe.Invoice) string {
	if inv.CollectionMethod == stripe.InvoiceCollectionMethodSendInvoice {
		return "no_automatic_payment"
	}
	if !customerHasDefaultPaymentMethod(inv) {
		return "no_payment_method_on_file"
	}
	return "no_attempt_yet"
}

func customerHasDefaultPaymentMethod(inv *stripe.Invoice) bool {
	if inv.DefaultPaymentMethod != nil {
		return true
	}
	if inv.Customer != nil && inv.Customer.InvoiceSettings != nil &&
		inv.Customer.InvoiceSettings.DefaultPaymentMethod != nil {
		return true
	}
	return false
}

func subscriptionIDFromInvoice(inv *stripe.Invoice) string {
	if inv == nil || inv.Parent == nil || inv.Parent.SubscriptionDetails == nil ||
		inv.Parent.SubscriptionDetails.Subscription == nil {
		return ""
	}
	return inv.Parent.SubscriptionDetails.Subscription.ID
}
