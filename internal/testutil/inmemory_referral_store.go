package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/referral"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// InMemoryReferralStore implements referral.Repository
type InMemoryReferralStore struct {
	mu        sync.RWMutex
	referrals map[string]*referral.Referral
}

// NewInMemoryReferralStore creates a new in-memory referral store
func NewInMemoryReferralStore() *InMemoryReferralStore {
	return &InMemoryReferralStore{
		referrals: make(map[string]*referral.Referral),
	}
}

func copyReferral(r *referral.Referral) *referral.Referral {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

func (s *InMemoryReferralStore) Create(ctx context.Context, r *referral.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.referrals {
		if existing.ID == r.ID || existing.ReferredUserID == r.ReferredUserID {
			return ierr.NewError("referral already exists").
				WithHint("This user has already been referred").
				WithReportableDetails(map[string]any{
					"referred_user_id": r.ReferredUserID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	s.referrals[r.ID] = copyReferral(r)
	return nil
}

func (s *InMemoryReferralStore) GetByReferredUserID(ctx context.Context, referredUserID string) (*referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.referrals {
		if r.ReferredUserID == referredUserID {
			return copyReferral(r), nil
		}
	}
	return nil, referralNotFound()
}

func (s *InMemoryReferralStore) GetPendingByReferredUserID(ctx context.Context, referredUserID string) (*referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.referrals {
		if r.ReferredUserID == referredUserID && !r.IsRewarded {
			return copyReferral(r), nil
		}
	}
	return nil, referralNotFound()
}

func (s *InMemoryReferralStore) MarkRewarded(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.referrals[id]
	if !exists || r.IsRewarded {
		return ierr.NewError("referral not found or already rewarded").
			WithHint("Referral not found or already rewarded").
			Mark(ierr.ErrAlreadyExists)
	}
	r.IsRewarded = true
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryReferralStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrals = make(map[string]*referral.Referral)
}

func referralNotFound() error {
	return ierr.NewError("referral not found").
		WithHint("Referral not found").
		Mark(ierr.ErrNotFound)
}
