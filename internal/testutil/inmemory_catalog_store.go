package testutil

import (
	"context"
	"sync"

	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// InMemoryCatalogStore implements catalog.Repository. Tests seed it with
// SetSubscriptionPrice / SetTokenPrice before exercising services.
type InMemoryCatalogStore struct {
	mu                 sync.RWMutex
	subscriptionPrices map[string]*catalog.SubscriptionPrice
	tokenPrices        map[string]*catalog.TokenPrice
}

// NewInMemoryCatalogStore creates a new in-memory catalog store
func NewInMemoryCatalogStore() *InMemoryCatalogStore {
	return &InMemoryCatalogStore{
		subscriptionPrices: make(map[string]*catalog.SubscriptionPrice),
		tokenPrices:        make(map[string]*catalog.TokenPrice),
	}
}

// SetSubscriptionPrice seeds one recurring plan into the catalog
func (s *InMemoryCatalogStore) SetSubscriptionPrice(p *catalog.SubscriptionPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	if p.MonthlyRefillTokens != nil {
		v := *p.MonthlyRefillTokens
		copied.MonthlyRefillTokens = &v
	}
	s.subscriptionPrices[p.PlanKey] = &copied
}

// SetTokenPrice seeds one one-time token pack into the catalog
func (s *InMemoryCatalogStore) SetTokenPrice(p *catalog.TokenPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.tokenPrices[p.PlanKey] = &copied
}

func copySubscriptionPrice(p *catalog.SubscriptionPrice) *catalog.SubscriptionPrice {
	copied := *p
	if p.MonthlyRefillTokens != nil {
		v := *p.MonthlyRefillTokens
		copied.MonthlyRefillTokens = &v
	}
	return &copied
}

func (s *InMemoryCatalogStore) GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.subscriptionPrices[planKey]; exists {
		return copySubscriptionPrice(p), nil
	}
	return nil, priceNotFound(planKey)
}

func (s *InMemoryCatalogStore) GetTokenPrice(ctx context.Context, planKey string) (*catalog.TokenPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.tokenPrices[planKey]; exists {
		copied := *p
		return &copied, nil
	}
	return nil, priceNotFound(planKey)
}

func (s *InMemoryCatalogStore) ListSubscriptionPrices(ctx context.Context) ([]*catalog.SubscriptionPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.SubscriptionPrice, 0, len(s.subscriptionPrices))
	for _, p := range s.subscriptionPrices {
		result = append(result, copySubscriptionPrice(p))
	}
	return result, nil
}

func (s *InMemoryCatalogStore) ListTokenPrices(ctx context.Context) ([]*catalog.TokenPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.TokenPrice, 0, len(s.tokenPrices))
	for _, p := range s.tokenPrices {
		copied := *p
		result = append(result, &copied)
	}
	return result, nil
}

func (s *InMemoryCatalogStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionPrices = make(map[string]*catalog.SubscriptionPrice)
	s.tokenPrices = make(map[string]*catalog.TokenPrice)
}

func priceNotFound(planKey string) error {
	return ierr.NewError("price not found in catalog").
		WithHint("No catalog entry for this plan key").
		WithReportableDetails(map[string]any{
			"plan_key": planKey,
		}).
		Mark(ierr.ErrNotFound)
}
