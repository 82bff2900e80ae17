package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/tokenrail/tokenrail/internal/logger"
	sentryService "github.com/tokenrail/tokenrail/internal/sentry"
)

// SentryClient wraps the standard postgres client with Sentry monitoring
type SentryClient struct {
	client IClient
	sentry *sentryService.Service
	logger *logger.Logger
}

// NewSentryClient creates a new Sentry-instrumented Postgres client
func NewSentryClient(client IClient, sentry *sentryService.Service, logger *logger.Logger) IClient {
	return &SentryClient{
		client: client,
		sentry: sentry,
		logger: logger,
	}
}

// WithTx wraps the given function in a transaction with Sentry span tracking
func (c *SentryClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	span, spanCtx := c.sentry.StartDBSpan(ctx, "postgres.transaction", map[string]interface{}{
		"operation": "transaction",
	})
	if span != nil {
		defer span.Finish()
	}

	// Use the original client's WithTx but with the new span context
	return c.client.WithTx(spanCtx, fn)
}

// GetQuerier returns the current transaction querier if in a transaction, or
// the base connection. No span tracking here as every query already carries
// its own trace via the traced querier.
func (c *SentryClient) GetQuerier(ctx context.Context) Querier {
	return c.client.GetQuerier(ctx)
}

// NamedExecContext executes a named statement against the current querier
func (c *SentryClient) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	return c.client.NamedExecContext(ctx, query, arg)
}

// NamedQueryContext executes a named query against the current querier
func (c *SentryClient) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	return c.client.NamedQueryContext(ctx, query, arg)
}
