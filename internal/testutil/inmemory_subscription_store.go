package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*subscription.Subscription
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subs: make(map[string]*subscription.Subscription),
	}
}

func copySubscription(s *subscription.Subscription) *subscription.Subscription {
	if s == nil {
		return nil
	}
	copied := *s
	if s.CurrentPeriodStart != nil {
		t := *s.CurrentPeriodStart
		copied.CurrentPeriodStart = &t
	}
	if s.CurrentPeriodEnd != nil {
		t := *s.CurrentPeriodEnd
		copied.CurrentPeriodEnd = &t
	}
	if s.LastMonthlyRefill != nil {
		t := *s.LastMonthlyRefill
		copied.LastMonthlyRefill = &t
	}
	if s.PaymentFailureReason != nil {
		r := *s.PaymentFailureReason
		copied.PaymentFailureReason = &r
	}
	return &copied
}

func (st *InMemorySubscriptionStore) Create(ctx context.Context, s *subscription.Subscription) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.subs {
		if existing.ID == s.ID || existing.PGSubscriptionID == s.PGSubscriptionID {
			return ierr.NewError("subscription already exists").
				WithHint("A subscription for this gateway id already exists").
				WithReportableDetails(map[string]any{
					"pg_subscription_id": s.PGSubscriptionID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	st.subs[s.ID] = copySubscription(s)
	return nil
}

func (st *InMemorySubscriptionStore) Update(ctx context.Context, s *subscription.Subscription) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	stored, exists := st.subs[s.ID]
	if !exists {
		return subscriptionNotFound()
	}

	updated := copySubscription(s)
	updated.CreatedAt = stored.CreatedAt
	updated.CreatedBy = stored.CreatedBy
	updated.UpdatedAt = time.Now().UTC()
	st.subs[s.ID] = updated
	return nil
}

func (st *InMemorySubscriptionStore) GetByID(ctx context.Context, id string) (*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if s, exists := st.subs[id]; exists {
		return copySubscription(s), nil
	}
	return nil, subscriptionNotFound()
}

func (st *InMemorySubscriptionStore) GetByPGSubscriptionID(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, s := range st.subs {
		if s.PGSubscriptionID == pgSubscriptionID {
			return copySubscription(s), nil
		}
	}
	return nil, subscriptionNotFound()
}

func (st *InMemorySubscriptionStore) GetLatestActiveByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var latest *subscription.Subscription
	for _, s := range st.subs {
		if s.UserID != userID || !s.IsActive {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) ||
			(s.CreatedAt.Equal(latest.CreatedAt) && s.ID > latest.ID) {
			latest = s
		}
	}
	if latest == nil {
		return nil, subscriptionNotFound()
	}
	return copySubscription(latest), nil
}

// Upsert mirrors the conflict behavior of the SQL implementation: the row is
// keyed by pg_subscription_id, the user binding and refill/failure stamps
// survive a conflict, and older actives for the same user are demoted.
func (st *InMemorySubscriptionStore) Upsert(ctx context.Context, s *subscription.Subscription) (*subscription.Subscription, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var stored *subscription.Subscription
	wasInsert := true

	incoming := copySubscription(s)
	for _, existing := range st.subs {
		if existing.PGSubscriptionID == s.PGSubscriptionID {
			existing.PlanKey = incoming.PlanKey
			existing.PlanTier = incoming.PlanTier
			existing.BillingCycle = incoming.BillingCycle
			existing.IsActive = incoming.IsActive
			existing.CurrentPeriodStart = incoming.CurrentPeriodStart
			existing.CurrentPeriodEnd = incoming.CurrentPeriodEnd
			existing.TokensPerCycle = incoming.TokensPerCycle
			existing.PriceCents = incoming.PriceCents
			existing.UpdatedAt = time.Now().UTC()
			existing.UpdatedBy = incoming.UpdatedBy
			stored = existing
			wasInsert = false
			break
		}
	}

	if stored == nil {
		st.subs[s.ID] = incoming
		stored = incoming
	}

	if stored.IsActive {
		for _, other := range st.subs {
			if other.ID != stored.ID && other.UserID == stored.UserID && other.IsActive {
				other.IsActive = false
				other.UpdatedAt = time.Now().UTC()
			}
		}
	}

	return copySubscription(stored), wasInsert, nil
}

func (st *InMemorySubscriptionStore) Deactivate(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.subs[id]
	if !exists {
		return subscriptionNotFound()
	}
	s.IsActive = false
	s.UpdatedAt = time.Now().UTC()
	s.UpdatedBy = types.GetUserID(ctx)
	return nil
}

func (st *InMemorySubscriptionStore) SetPaymentFailure(ctx context.Context, id string, reason string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.subs[id]
	if !exists {
		return subscriptionNotFound()
	}
	s.PaymentFailureReason = &reason
	s.UpdatedAt = time.Now().UTC()
	s.UpdatedBy = types.GetUserID(ctx)
	return nil
}

func (st *InMemorySubscriptionStore) ClearPaymentFailure(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.subs[id]
	if !exists {
		return subscriptionNotFound()
	}
	s.PaymentFailureReason = nil
	s.UpdatedAt = time.Now().UTC()
	s.UpdatedBy = types.GetUserID(ctx)
	return nil
}

func (st *InMemorySubscriptionStore) StampMonthlyRefill(ctx context.Context, id string, at time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.subs[id]
	if !exists {
		return subscriptionNotFound()
	}
	stamped := at.UTC()
	s.LastMonthlyRefill = &stamped
	s.UpdatedAt = time.Now().UTC()
	s.UpdatedBy = types.GetUserID(ctx)
	return nil
}

func (st *InMemorySubscriptionStore) ListActivePastPeriodEnd(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now = now.UTC()
	var result []*subscription.Subscription
	for _, s := range st.subs {
		if s.IsActive && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(now) {
			result = append(result, copySubscription(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CurrentPeriodEnd.Before(*result[j].CurrentPeriodEnd)
	})
	return result, nil
}

func (st *InMemorySubscriptionStore) ListActiveByBillingCycle(ctx context.Context, cycle types.BillingCycle) ([]*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*subscription.Subscription
	for _, s := range st.subs {
		if s.IsActive && s.BillingCycle == cycle {
			result = append(result, copySubscription(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (st *InMemorySubscriptionStore) List(ctx context.Context, filter *types.QueryFilter) ([]*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(st.subs))
	for _, s := range st.subs {
		result = append(result, copySubscription(s))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, filter), nil
}

func (st *InMemorySubscriptionStore) ListActive(ctx context.Context, filter *types.QueryFilter) ([]*subscription.Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*subscription.Subscription
	for _, s := range st.subs {
		if s.IsActive {
			result = append(result, copySubscription(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, filter), nil
}

func (st *InMemorySubscriptionStore) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subs = make(map[string]*subscription.Subscription)
}

func subscriptionNotFound() error {
	return ierr.NewError("subscription not found").
		WithHint("Subscription not found").
		Mark(ierr.ErrNotFound)
}
