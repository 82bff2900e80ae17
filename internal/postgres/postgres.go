package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"
	"go.uber.org/fx"
)

// IClient defines the interface for postgres client operations
type IClient interface {
	// WithTx wraps the given function in a transaction
	WithTx(ctx context.Context, fn func(context.Context) error) error

	// GetQuerier returns the current transaction querier if in a
	// transaction, or the base connection
	GetQuerier(ctx context.Context) Querier

	// NamedExecContext executes a named statement against the current querier
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)

	// NamedQueryContext executes a named query against the current querier
	NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error)
}

// DB wraps sqlx.DB to provide transaction management
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// Querier interface defines all database operations
// Both *sqlx.DB and *sqlx.Tx implement these methods
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExec(query string, arg interface{}) (sql.Result, error)
	NamedQuery(query string, arg interface{}) (*sqlx.Rows, error)
	PrepareNamed(query string) (*sqlx.NamedStmt, error)
	Preparex(query string) (*sqlx.Stmt, error)
}

// Module provides an fx.Option to integrate the postgres client with the application
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewDB,
		),
	)
}

// NewDB creates a new DB instance
func NewDB(config *config.Configuration, logger *logger.Logger) (*DB, error) {
	dsn := config.Postgres.GetDSN()
	sqlxDB, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// Configure connection pool
	sqlxDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
	sqlxDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	sqlxDB.SetConnMaxLifetime(time.Duration(config.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	db := &DB{DB: sqlxDB, logger: logger}

	// Run the auto migration tool if enabled
	if config.Postgres.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("failed creating schema resources: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB
func (db *DB) GetQuerier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return NewTracedQuerier(tx.Tx, db.logger, tx.ID)
	}
	return NewTracedQuerier(db.DB, db.logger, "")
}

// NamedExecContext is a helper method that wraps NamedExec with context
func (db *DB) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	q := db.GetQuerier(ctx)
	return q.NamedExec(query, arg)
}

// NamedQueryContext is a helper method that wraps NamedQuery with context
func (db *DB) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	q := db.GetQuerier(ctx)
	return q.NamedQuery(query, arg)
}
