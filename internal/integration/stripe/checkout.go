package stripe

import (
	"context"

	ierr "github.com/tokenrail/tokenrail/internal/errors"

	"github.com/stripe/stripe-go/v82"
)

// CreateCheckoutSession creates a hosted checkout session in payment mode
// for a one-time token purchase.
func (c *Client) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSessionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.CheckoutSessionCreateParams{
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:                stripe.String("payment"),
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		Metadata:            req.Metadata,
	}

	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	session, err := c.api.V1CheckoutSessions.Create(callCtx, params)
	if err != nil {
		c.logger.Errorw("failed to create checkout session",
			"error", err,
			"product", req.ProductName,
			"amount_cents", req.AmountCents,
		)
		return nil, ierr.WithError(err).
			WithHint("Unable to create checkout session").
			Mark(ierr.ErrHTTPClient)
	}

	c.logger.Infow("created checkout session",
		"session_id", session.ID,
		"amount_cents", req.AmountCents,
	)

	return &CheckoutSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}
