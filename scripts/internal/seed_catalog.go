package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tokenrail/tokenrail/internal/domain/catalog"
)

// catalogFile is the JSON shape the seed command consumes. Both sections
// are optional; rows are upserted by plan_key so reruns are safe.
type catalogFile struct {
	SubscriptionPrices []catalog.SubscriptionPrice `json:"subscription_prices"`
	TokenPrices        []catalog.TokenPrice        `json:"token_prices"`
}

const upsertSubscriptionPriceQuery = `
	INSERT INTO subscription_prices (
		plan_key, plan_tier, billing_cycle, tokens_per_cycle, monthly_refill_tokens, price_cents
	) VALUES (
		:plan_key, :plan_tier, :billing_cycle, :tokens_per_cycle, :monthly_refill_tokens, :price_cents
	)
	ON CONFLICT (plan_key) DO UPDATE SET
		plan_tier = EXCLUDED.plan_tier,
		billing_cycle = EXCLUDED.billing_cycle,
		tokens_per_cycle = EXCLUDED.tokens_per_cycle,
		monthly_refill_tokens = EXCLUDED.monthly_refill_tokens,
		price_cents = EXCLUDED.price_cents`

const upsertTokenPriceQuery = `
	INSERT INTO token_prices (
		plan_key, tier, tokens, price_cents
	) VALUES (
		:plan_key, :tier, :tokens, :price_cents
	)
	ON CONFLICT (plan_key) DO UPDATE SET
		tier = EXCLUDED.tier,
		tokens = EXCLUDED.tokens,
		price_cents = EXCLUDED.price_cents`

// SeedCatalog loads pricing rows from the file named by CATALOG_FILE into
// the catalog tables. The serving path treats the catalog as read-only;
// this command is how it changes.
func SeedCatalog() error {
	path := os.Getenv("CATALOG_FILE")
	if path == "" {
		return fmt.Errorf("CATALOG_FILE is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if len(file.SubscriptionPrices) == 0 && len(file.TokenPrices) == 0 {
		return fmt.Errorf("catalog file has no rows")
	}

	for i := range file.SubscriptionPrices {
		p := &file.SubscriptionPrices[i]
		if err := p.PlanTier.Validate(); err != nil {
			return fmt.Errorf("subscription price %q: %w", p.PlanKey, err)
		}
		if err := p.BillingCycle.Validate(); err != nil {
			return fmt.Errorf("subscription price %q: %w", p.PlanKey, err)
		}
		if p.PlanKey == "" || p.TokensPerCycle <= 0 {
			return fmt.Errorf("subscription price %q: plan_key and a positive tokens_per_cycle are required", p.PlanKey)
		}
	}
	for i := range file.TokenPrices {
		p := &file.TokenPrices[i]
		if err := p.Tier.Validate(); err != nil {
			return fmt.Errorf("token price %q: %w", p.PlanKey, err)
		}
		if p.PlanKey == "" || p.Tokens <= 0 {
			return fmt.Errorf("token price %q: plan_key and a positive tokens are required", p.PlanKey)
		}
	}

	deps, err := newScriptDeps()
	if err != nil {
		return err
	}

	ctx := context.Background()
	err = deps.db.WithTx(ctx, func(ctx context.Context) error {
		for i := range file.SubscriptionPrices {
			if _, err := deps.db.NamedExecContext(ctx, upsertSubscriptionPriceQuery, &file.SubscriptionPrices[i]); err != nil {
				return fmt.Errorf("failed to upsert subscription price %q: %w", file.SubscriptionPrices[i].PlanKey, err)
			}
		}
		for i := range file.TokenPrices {
			if _, err := deps.db.NamedExecContext(ctx, upsertTokenPriceQuery, &file.TokenPrices[i]); err != nil {
				return fmt.Errorf("failed to upsert token price %q: %w", file.TokenPrices[i].PlanKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %d subscription prices and %d token prices from %s\n",
		len(file.SubscriptionPrices), len(file.TokenPrices), path)
	return nil
}
