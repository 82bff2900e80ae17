package stripe

import (
	"context"

	ierr "github.com/tokenrail/tokenrail/internal/errors"

	"github.com/stripe/stripe-go/v82"
)

// GetSubscription retrieves a subscription with its customer expanded.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, ierr.NewError("subscription id is required").
			WithHint("Subscription ID is required").
			Mark(ierr.ErrValidation)
	}

	params := &stripe.SubscriptionRetrieveParams{
		Expand: []*string{
			stripe.String("customer"),
		},
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	var sub *stripe.Subscription
	err := c.withRetry(callCtx, func() error {
		var err error
		sub, err = c.api.V1Subscriptions.Retrieve(callCtx, subscriptionID, params)
		return err
	})
	if err != nil {
		c.logger.Errorw("failed to retrieve subscription",
			"error", err,
			"subscription_id", subscriptionID,
		)
		return nil, ierr.WithError(err).
			WithHint("Could not fetch subscription from the payment gateway").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	return sub, nil
}

// CancelAtPeriodEnd flags a subscription to end when the paid period runs
// out. The local row stays active until the deletion event arrives.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, ierr.NewError("subscription id is required").
			WithHint("Subscription ID is required").
			Mark(ierr.ErrValidation)
	}

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	sub, err := c.api.V1Subscriptions.Update(callCtx, subscriptionID, params)
	if err != nil {
		c.logger.Errorw("failed to cancel subscription at period end",
			"error", err,
			"subscription_id", subscriptionID,
		)
		return nil, ierr.WithError(err).
			WithHint("Could not schedule the subscription cancellation").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	c.logger.Infow("subscription scheduled for cancellation",
		"subscription_id", subscriptionID,
		"cancel_at_period_end", sub.CancelAtPeriodEnd,
	)

	return sub, nil
}

// ListActiveSubscriptions pages through all active gateway subscriptions.
// Used by reconciliation; the caller is expected to rate-limit itself.
func (c *Client) ListActiveSubscriptions(ctx context.Context) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Status: stripe.String("active"),
	}
	params.Limit = stripe.Int64(100)

	// Manual iteration over the stripe.Seq2 iterator; range-over-func
	// needs a newer language version than this module targets.
	subs := make([]*stripe.Subscription, 0)
	iter := c.api.V1Subscriptions.List(ctx, params)
	var iterErr error
	iter(func(sub *stripe.Subscription, err error) bool {
		if err != nil {
			iterErr = ierr.WithError(err).
				WithHint("Subscription listing failed").
				Mark(ierr.ErrHTTPClient)
			return false
		}
		subs = append(subs, sub)
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}

	return subs, nil
}
