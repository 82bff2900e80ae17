package postgres

import (
	"context"
	"fmt"
)

// schemaStatements holds the DDL applied on startup when auto migration is
// enabled. Statements are idempotent so repeated boots are safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		email TEXT NOT NULL,
		pg_customer_id TEXT,
		has_active_subscription BOOLEAN NOT NULL DEFAULT FALSE,
		has_payment_issue BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by TEXT,
		updated_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external_id ON users (external_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_pg_customer_id ON users (pg_customer_id) WHERE pg_customer_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id),
		plan_key TEXT NOT NULL,
		plan_tier TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		pg_subscription_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		current_period_start TIMESTAMPTZ,
		current_period_end TIMESTAMPTZ,
		tokens_per_cycle BIGINT NOT NULL DEFAULT 0,
		price_cents BIGINT NOT NULL DEFAULT 0,
		last_monthly_refill TIMESTAMPTZ,
		payment_failure_reason TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by TEXT,
		updated_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_pg_subscription_id ON subscriptions (pg_subscription_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_active ON subscriptions (user_id, is_active)`,

	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id),
		plan_tier TEXT NOT NULL,
		pg_purchase_id TEXT NOT NULL,
		amount_tokens BIGINT NOT NULL,
		discount_cents BIGINT NOT NULL DEFAULT 0,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by TEXT,
		updated_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_pg_purchase_id ON purchases (pg_purchase_id)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases (user_id)`,

	`CREATE TABLE IF NOT EXISTS token_batches (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id),
		source TEXT NOT NULL,
		subscription_id TEXT REFERENCES subscriptions (id),
		purchase_id TEXT REFERENCES purchases (id),
		referrer_id TEXT REFERENCES users (id),
		invoice_id TEXT,
		amount BIGINT NOT NULL CHECK (amount > 0),
		consumed BIGINT NOT NULL DEFAULT 0 CHECK (consumed >= 0 AND consumed <= amount),
		expires_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		note TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by TEXT,
		updated_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_token_batches_invoice_id ON token_batches (invoice_id) WHERE invoice_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_token_batches_user_active ON token_batches (user_id, is_active, expires_at)`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_event_id ON webhook_events (event_id)`,

	`CREATE TABLE IF NOT EXISTS token_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		delta BIGINT NOT NULL,
		reason TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_token_events_user_at ON token_events (user_id, at)`,
	`CREATE INDEX IF NOT EXISTS idx_token_events_batch_id ON token_events (batch_id)`,

	`CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_user_id TEXT NOT NULL REFERENCES users (id),
		referred_user_id TEXT NOT NULL,
		code TEXT NOT NULL,
		is_rewarded BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by TEXT,
		updated_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_referrals_referred_user_id ON referrals (referred_user_id)`,

	`CREATE TABLE IF NOT EXISTS subscription_prices (
		plan_key TEXT PRIMARY KEY,
		plan_tier TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		tokens_per_cycle BIGINT NOT NULL,
		monthly_refill_tokens BIGINT,
		price_cents BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS token_prices (
		plan_key TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		tokens BIGINT NOT NULL,
		price_cents BIGINT NOT NULL
	)`,
}

// Schema returns the DDL statements in apply order.
func Schema() []string {
	return schemaStatements
}

// Migrate applies the schema statements in order
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	db.logger.Debugw("schema migration complete", "statements", len(schemaStatements))
	return nil
}
