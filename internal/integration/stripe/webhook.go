package stripe

import (
	ierr "github.com/tokenrail/tokenrail/internal/errors"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ParseWebhookEvent verifies the signature over the raw payload and parses
// the event. The signature covers the exact bytes received, so callers must
// pass the body unmodified.
func (c *Client) ParseWebhookEvent(payload []byte, signature string) (*stripe.Event, error) {
	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.Stripe.WebhookSecret, options)
	if err != nil {
		c.logger.Errorw("webhook signature verification failed", "error", err)
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}
	return &event, nil
}
