package testutil

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// InMemoryPurchaseStore implements purchase.Repository
type InMemoryPurchaseStore struct {
	*InMemoryStore[*purchase.Purchase]
}

// NewInMemoryPurchaseStore creates a new in-memory purchase store
func NewInMemoryPurchaseStore() *InMemoryPurchaseStore {
	return &InMemoryPurchaseStore{
		InMemoryStore: NewInMemoryStore[*purchase.Purchase](),
	}
}

func copyPurchase(p *purchase.Purchase) *purchase.Purchase {
	if p == nil {
		return nil
	}
	copied := *p
	return &copied
}

// purchaseSortFn orders purchases newest first
func purchaseSortFn(i, j *purchase.Purchase) bool {
	if i.CreatedAt.Equal(j.CreatedAt) {
		return i.ID > j.ID
	}
	return i.CreatedAt.After(j.CreatedAt)
}

func (s *InMemoryPurchaseStore) Create(ctx context.Context, p *purchase.Purchase) error {
	dup, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, item *purchase.Purchase) bool {
		return item.PGPurchaseID == p.PGPurchaseID
	}, nil)
	if err != nil {
		return err
	}
	if len(dup) > 0 {
		return purchaseAlreadyExists(p.PGPurchaseID)
	}

	if err := s.InMemoryStore.Create(ctx, p.ID, copyPurchase(p)); err != nil {
		return purchaseAlreadyExists(p.PGPurchaseID)
	}
	return nil
}

func (s *InMemoryPurchaseStore) GetByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, purchaseNotFound()
	}
	return copyPurchase(p), nil
}

func (s *InMemoryPurchaseStore) GetByPGPurchaseID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	matches, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, item *purchase.Purchase) bool {
		return item.PGPurchaseID == pgPurchaseID
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, purchaseNotFound()
	}
	return copyPurchase(matches[0]), nil
}

func (s *InMemoryPurchaseStore) ListByUserID(ctx context.Context, userID string) ([]*purchase.Purchase, error) {
	matches, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, item *purchase.Purchase) bool {
		return item.UserID == userID
	}, purchaseSortFn)
	if err != nil {
		return nil, err
	}
	result := make([]*purchase.Purchase, 0, len(matches))
	for _, p := range matches {
		result = append(result, copyPurchase(p))
	}
	return result, nil
}

func purchaseNotFound() error {
	return ierr.NewError("purchase not found").
		WithHint("Purchase not found").
		Mark(ierr.ErrNotFound)
}

func purchaseAlreadyExists(pgPurchaseID string) error {
	return ierr.NewError("purchase already exists").
		WithHint("A purchase for this gateway payment already exists").
		WithReportableDetails(map[string]any{
			"pg_purchase_id": pgPurchaseID,
		}).
		Mark(ierr.ErrAlreadyExists)
}
