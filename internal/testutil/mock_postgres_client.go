package testutil

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

// MockPostgresClient is a mock implementation of postgres client for testing.
// Tests run on in-memory repositories, so WithTx just executes the function;
// the query methods are never reached.
type MockPostgresClient struct {
	logger *logger.Logger
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient(logger *logger.Logger) postgres.IClient {
	return &MockPostgresClient{
		logger: logger,
	}
}

// WithTx executes the given function without a real transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// GetQuerier panics: in-memory repositories never issue SQL
func (c *MockPostgresClient) GetQuerier(ctx context.Context) postgres.Querier {
	panic("mock postgres client has no querier")
}

// NamedExecContext panics: in-memory repositories never issue SQL
func (c *MockPostgresClient) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	panic("mock postgres client cannot execute queries")
}

// NamedQueryContext panics: in-memory repositories never issue SQL
func (c *MockPostgresClient) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	panic("mock postgres client cannot execute queries")
}
