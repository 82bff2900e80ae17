package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/batch"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// InMemoryBatchStore implements batch.Repository
type InMemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]*batch.TokenBatch
}

// NewInMemoryBatchStore creates a new in-memory batch store
func NewInMemoryBatchStore() *InMemoryBatchStore {
	return &InMemoryBatchStore{
		batches: make(map[string]*batch.TokenBatch),
	}
}

func copyBatch(b *batch.TokenBatch) *batch.TokenBatch {
	if b == nil {
		return nil
	}
	copied := *b
	if b.SubscriptionID != nil {
		v := *b.SubscriptionID
		copied.SubscriptionID = &v
	}
	if b.PurchaseID != nil {
		v := *b.PurchaseID
		copied.PurchaseID = &v
	}
	if b.ReferrerID != nil {
		v := *b.ReferrerID
		copied.ReferrerID = &v
	}
	if b.InvoiceID != nil {
		v := *b.InvoiceID
		copied.InvoiceID = &v
	}
	return &copied
}

func (s *InMemoryBatchStore) Create(ctx context.Context, b *batch.TokenBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[b.ID]; exists {
		return batchAlreadyExists(b.InvoiceID)
	}
	if b.InvoiceID != nil {
		for _, existing := range s.batches {
			if existing.InvoiceID != nil && *existing.InvoiceID == *b.InvoiceID {
				return batchAlreadyExists(b.InvoiceID)
			}
		}
	}

	s.batches[b.ID] = copyBatch(b)
	return nil
}

func (s *InMemoryBatchStore) GetByID(ctx context.Context, id string) (*batch.TokenBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, exists := s.batches[id]; exists {
		return copyBatch(b), nil
	}
	return nil, batchNotFound()
}

func (s *InMemoryBatchStore) GetByInvoiceID(ctx context.Context, invoiceID string) (*batch.TokenBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.batches {
		if b.InvoiceID != nil && *b.InvoiceID == invoiceID {
			return copyBatch(b), nil
		}
	}
	return nil, batchNotFound()
}

func (s *InMemoryBatchStore) LockActiveFIFO(ctx context.Context, userID string, now time.Time) ([]*batch.TokenBatch, error) {
	return s.ListActiveByUserID(ctx, userID, now)
}

func (s *InMemoryBatchStore) ApplyConsumption(ctx context.Context, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.batches[id]
	if !exists {
		return batchNotFound()
	}
	if b.Consumed+delta > b.Amount {
		return ierr.NewError("consumption exceeds batch amount").
			WithHint("Cannot consume more than the batch holds").
			WithReportableDetails(map[string]any{
				"batch_id": id,
				"amount":   b.Amount,
				"consumed": b.Consumed,
				"delta":    delta,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	b.Consumed += delta
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryBatchStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.batches[id]
	if !exists {
		return batchNotFound()
	}
	b.IsActive = false
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryBatchStore) ListDueForExpiry(ctx context.Context, now time.Time) ([]*batch.TokenBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = now.UTC()
	var result []*batch.TokenBatch
	for _, b := range s.batches {
		if b.IsActive && b.IsExpired(now) {
			result = append(result, copyBatch(b))
		}
	}
	sortFIFO(result)
	return result, nil
}

func (s *InMemoryBatchStore) ActiveBalance(ctx context.Context, userID string, now time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = now.UTC()
	var total int64
	for _, b := range s.batches {
		if b.UserID == userID && b.IsActive && b.ExpiresAt.After(now) {
			total += b.Remaining()
		}
	}
	return total, nil
}

func (s *InMemoryBatchStore) ActiveRemainder(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, b := range s.batches {
		if b.UserID == userID && b.IsActive {
			total += b.Amount - b.Consumed
		}
	}
	return total, nil
}

func (s *InMemoryBatchStore) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*batch.TokenBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = now.UTC()
	var result []*batch.TokenBatch
	for _, b := range s.batches {
		if b.UserID == userID && b.IsActive && b.ExpiresAt.After(now) {
			result = append(result, copyBatch(b))
		}
	}
	sortFIFO(result)
	return result, nil
}

func (s *InMemoryBatchStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = make(map[string]*batch.TokenBatch)
}

func sortFIFO(batches []*batch.TokenBatch) {
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].ExpiresAt.Equal(batches[j].ExpiresAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].ExpiresAt.Before(batches[j].ExpiresAt)
	})
}

func batchNotFound() error {
	return ierr.NewError("token batch not found").
		WithHint("Token batch not found").
		Mark(ierr.ErrNotFound)
}

func batchAlreadyExists(invoiceID *string) error {
	details := map[string]any{}
	if invoiceID != nil {
		details["invoice_id"] = *invoiceID
	}
	return ierr.NewError("token batch already exists").
		WithHint("A batch for this invoice already exists").
		WithReportableDetails(details).
		Mark(ierr.ErrAlreadyExists)
}
