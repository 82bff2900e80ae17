package postgres

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/cache"
	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
)

type catalogRepository struct {
	db     postgres.IClient
	logger *logger.Logger
	cache  cache.Cache
}

// NewCatalogRepository creates a new instance of catalog repository. The
// catalog is read-only and seeded out of band, so rows are cached
// aggressively.
func NewCatalogRepository(db postgres.IClient, logger *logger.Logger, cache cache.Cache) catalog.Repository {
	return &catalogRepository{
		db:     db,
		logger: logger,
		cache:  cache,
	}
}

func (r *catalogRepository) GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	if cached := r.getSubscriptionPriceCache(ctx, planKey); cached != nil {
		return cached, nil
	}

	query := `SELECT * FROM subscription_prices WHERE plan_key = :plan_key`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"plan_key": planKey,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query subscription price").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("price not found in catalog").
			WithHint("No subscription price configured for this plan").
			WithReportableDetails(map[string]any{
				"plan_key": planKey,
			}).
			Mark(ierr.ErrNotFound)
	}

	var p catalog.SubscriptionPrice
	if err := rows.StructScan(&p); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan subscription price").
			Mark(ierr.ErrDatabase)
	}

	r.setSubscriptionPriceCache(ctx, &p)
	return &p, nil
}

func (r *catalogRepository) GetTokenPrice(ctx context.Context, planKey string) (*catalog.TokenPrice, error) {
	if cached := r.getTokenPriceCache(ctx, planKey); cached != nil {
		return cached, nil
	}

	query := `SELECT * FROM token_prices WHERE plan_key = :plan_key`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"plan_key": planKey,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query token price").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("price not found in catalog").
			WithHint("No token price configured for this plan").
			WithReportableDetails(map[string]any{
				"plan_key": planKey,
			}).
			Mark(ierr.ErrNotFound)
	}

	var p catalog.TokenPrice
	if err := rows.StructScan(&p); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan token price").
			Mark(ierr.ErrDatabase)
	}

	r.setTokenPriceCache(ctx, &p)
	return &p, nil
}

func (r *catalogRepository) ListSubscriptionPrices(ctx context.Context) ([]*catalog.SubscriptionPrice, error) {
	query := `SELECT * FROM subscription_prices ORDER BY plan_key ASC`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query subscription prices").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var prices []*catalog.SubscriptionPrice
	for rows.Next() {
		var p catalog.SubscriptionPrice
		if err := rows.StructScan(&p); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan subscription price").
				Mark(ierr.ErrDatabase)
		}
		prices = append(prices, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate subscription prices").
			Mark(ierr.ErrDatabase)
	}
	return prices, nil
}

func (r *catalogRepository) ListTokenPrices(ctx context.Context) ([]*catalog.TokenPrice, error) {
	query := `SELECT * FROM token_prices ORDER BY plan_key ASC`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query token prices").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var prices []*catalog.TokenPrice
	for rows.Next() {
		var p catalog.TokenPrice
		if err := rows.StructScan(&p); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan token price").
				Mark(ierr.ErrDatabase)
		}
		prices = append(prices, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate token prices").
			Mark(ierr.ErrDatabase)
	}
	return prices, nil
}

func (r *catalogRepository) getSubscriptionPriceCache(ctx context.Context, planKey string) *catalog.SubscriptionPrice {
	span := cache.StartCacheSpan(ctx, "subscription_price", "get", map[string]interface{}{
		"plan_key": planKey,
	})
	defer cache.FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixSubscriptionPrice, planKey)
	if value, found := r.cache.Get(ctx, key); found {
		return value.(*catalog.SubscriptionPrice)
	}
	return nil
}

func (r *catalogRepository) setSubscriptionPriceCache(ctx context.Context, p *catalog.SubscriptionPrice) {
	span := cache.StartCacheSpan(ctx, "subscription_price", "set", map[string]interface{}{
		"plan_key": p.PlanKey,
	})
	defer cache.FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixSubscriptionPrice, p.PlanKey)
	r.cache.Set(ctx, key, p, cache.ExpiryDefaultInMemory)
}

func (r *catalogRepository) getTokenPriceCache(ctx context.Context, planKey string) *catalog.TokenPrice {
	span := cache.StartCacheSpan(ctx, "token_price", "get", map[string]interface{}{
		"plan_key": planKey,
	})
	defer cache.FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixTokenPrice, planKey)
	if value, found := r.cache.Get(ctx, key); found {
		return value.(*catalog.TokenPrice)
	}
	return nil
}

func (r *catalogRepository) setTokenPriceCache(ctx context.Context, p *catalog.TokenPrice) {
	span := cache.StartCacheSpan(ctx, "token_price", "set", map[string]interface{}{
		"plan_key": p.PlanKey,
	})
	defer cache.FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixTokenPrice, p.PlanKey)
	r.cache.Set(ctx, key, p, cache.ExpiryDefaultInMemory)
}
