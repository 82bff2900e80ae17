package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// InMemoryUserStore implements user.Repository
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*user.User
}

// NewInMemoryUserStore creates a new in-memory user store
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		users: make(map[string]*user.User),
	}
}

func copyUser(u *user.User) *user.User {
	if u == nil {
		return nil
	}
	copied := *u
	if u.PGCustomerID != nil {
		id := *u.PGCustomerID
		copied.PGCustomerID = &id
	}
	return &copied
}

func (s *InMemoryUserStore) Create(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.ID == u.ID || existing.ExternalID == u.ExternalID || existing.Email == u.Email {
			return ierr.NewError("user already exists").
				WithHint("A user with this identity already exists").
				WithReportableDetails(map[string]any{
					"external_id": u.ExternalID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *InMemoryUserStore) GetByID(ctx context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, exists := s.users[id]; exists {
		return copyUser(u), nil
	}
	return nil, userNotFound()
}

func (s *InMemoryUserStore) GetByExternalID(ctx context.Context, externalID string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ExternalID == externalID {
			return copyUser(u), nil
		}
	}
	return nil, userNotFound()
}

func (s *InMemoryUserStore) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, userNotFound()
}

func (s *InMemoryUserStore) GetByPGCustomerID(ctx context.Context, pgCustomerID string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.PGCustomerID != nil && *u.PGCustomerID == pgCustomerID {
			return copyUser(u), nil
		}
	}
	return nil, userNotFound()
}

func (s *InMemoryUserStore) UpsertByExternalID(ctx context.Context, u *user.User) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.ExternalID == u.ExternalID {
			existing.Email = u.Email
			existing.UpdatedAt = time.Now().UTC()
			return copyUser(existing), nil
		}
	}

	s.users[u.ID] = copyUser(u)
	return copyUser(u), nil
}

func (s *InMemoryUserStore) BindPGCustomer(ctx context.Context, id string, pgCustomerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return userNotFound()
	}

	for _, other := range s.users {
		if other.ID != id && other.PGCustomerID != nil && *other.PGCustomerID == pgCustomerID {
			return ierr.NewError("gateway customer already bound").
				WithHint("This gateway customer is already bound to another user").
				WithReportableDetails(map[string]any{
					"pg_customer_id": pgCustomerID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	u.PGCustomerID = &pgCustomerID
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryUserStore) UpdateFlags(ctx context.Context, id string, flags user.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return userNotFound()
	}

	if flags.HasActiveSubscription != nil {
		u.HasActiveSubscription = *flags.HasActiveSubscription
	}
	if flags.HasPaymentIssue != nil {
		u.HasPaymentIssue = *flags.HasPaymentIssue
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryUserStore) List(ctx context.Context, filter *types.QueryFilter) ([]*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, copyUser(u))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return paginate(result, filter), nil
}

func (s *InMemoryUserStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*user.User)
}

func userNotFound() error {
	return ierr.NewError("user not found").
		WithHint("User with given identity not found").
		Mark(ierr.ErrNotFound)
}

// paginate slices a sorted result set per the filter
func paginate[T any](items []T, filter *types.QueryFilter) []T {
	if filter == nil {
		filter = &types.QueryFilter{}
	}
	start := filter.GetOffset()
	if start >= len(items) {
		return []T{}
	}
	end := start + filter.GetLimit()
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
