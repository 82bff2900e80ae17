package stripe

import (
	"context"
	"time"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v82"
)

// Client wraps the payment gateway API for the operations this service
// needs: checkout sessions, subscription reads and cancellation, customer
// lookups and the failure-reason escalation used on failed payments.
type Client struct {
	api    *stripe.Client
	cfg    *config.Configuration
	logger *logger.Logger
}

// NewClient creates a new gateway client authenticated with the configured
// secret key.
func NewClient(cfg *config.Configuration, logger *logger.Logger) *Client {
	return &Client{
		api:    stripe.NewClient(cfg.Stripe.SecretKey, nil),
		cfg:    cfg,
		logger: logger,
	}
}

// callCtx bounds a single gateway call. Webhook handlers run under a 30s
// event deadline; individual gateway calls get a shorter budget so a slow
// upstream still leaves time for the ledger transaction to commit.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.Webhook.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// withRetry retries an idempotent gateway read with exponential backoff.
// Only used for reads; writes go through exactly once.
func (c *Client) withRetry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}
