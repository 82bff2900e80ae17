package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// InMemoryTokenEventStore implements tokenevent.Repository
type InMemoryTokenEventStore struct {
	mu     sync.RWMutex
	events []*tokenevent.TokenEvent
}

// NewInMemoryTokenEventStore creates a new in-memory token event store
func NewInMemoryTokenEventStore() *InMemoryTokenEventStore {
	return &InMemoryTokenEventStore{}
}

func (s *InMemoryTokenEventStore) Append(ctx context.Context, e *tokenevent.TokenEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.ID == e.ID {
			return ierr.NewError("token event already exists").
				WithHint("A journal entry with this id already exists").
				Mark(ierr.ErrAlreadyExists)
		}
	}

	copied := *e
	s.events = append(s.events, &copied)
	return nil
}

func (s *InMemoryTokenEventStore) ListByUserID(ctx context.Context, userID string, filter *types.QueryFilter) ([]*tokenevent.TokenEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*tokenevent.TokenEvent
	for _, e := range s.events {
		if e.UserID == userID {
			copied := *e
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].At.Equal(result[j].At) {
			return result[i].ID > result[j].ID
		}
		return result[i].At.After(result[j].At)
	})
	return paginate(result, filter), nil
}

func (s *InMemoryTokenEventStore) SumDeltaByUserID(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.events {
		if e.UserID == userID {
			total += e.Delta
		}
	}
	return total, nil
}

func (s *InMemoryTokenEventStore) SumDeltaByBatchID(ctx context.Context, batchID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.events {
		if e.BatchID == batchID {
			total += e.Delta
		}
	}
	return total, nil
}

// Events returns a snapshot of every journal entry in append order
func (s *InMemoryTokenEventStore) Events() []*tokenevent.TokenEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*tokenevent.TokenEvent, 0, len(s.events))
	for _, e := range s.events {
		copied := *e
		result = append(result, &copied)
	}
	return result
}

func (s *InMemoryTokenEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
