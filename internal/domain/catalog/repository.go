package catalog

import (
	"context"
)

// Repository defines read access to the pricing catalog. The catalog is
// seeded out of band and read-only for this service.
type Repository interface {
	GetSubscriptionPrice(ctx context.Context, planKey string) (*SubscriptionPrice, error)
	GetTokenPrice(ctx context.Context, planKey string) (*TokenPrice, error)
	ListSubscriptionPrices(ctx context.Context) ([]*SubscriptionPrice, error)
	ListTokenPrices(ctx context.Context) ([]*TokenPrice, error)
}
