package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
)

// InMemorySubscriptionStore implements subscription.Repository with the
// same optimistic version semantics as the postgres repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
	mu sync.Mutex

	// BeforeUpdate runs before the version check, inside the store's lock.
	// Tests use it to simulate a concurrent writer.
	BeforeUpdate func(stored *subscription.Subscription)
	// DeleteErrors fails Delete for the given record ids
	DeleteErrors map[string]error
}

var _ subscription.Repository = (*InMemorySubscriptionStore)(nil)

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
		DeleteErrors:  make(map[string]error),
	}
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.InMemoryStore.List(ctx, nil, nil) {
		if existing.UserID == sub.UserID {
			return ierr.NewError("subscription already exists for user").
				WithReportableDetails(map[string]any{"user_id": sub.UserID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	now := time.Now().UTC()
	sub.Version = 1
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return s.InMemoryStore.Create(ctx, sub.ID, sub.Clone())
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, notFound("id", id)
	}
	return sub.Clone(), nil
}

func (s *InMemorySubscriptionStore) GetByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return s.findOne(ctx, "user_id", userID, func(sub *subscription.Subscription) bool {
		return sub.UserID == userID
	})
}

func (s *InMemorySubscriptionStore) GetByBillingSubscriptionRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	return s.findOne(ctx, "billing_subscription_ref", ref, func(sub *subscription.Subscription) bool {
		return ref != "" && sub.BillingSubscriptionRef == ref
	})
}

func (s *InMemorySubscriptionStore) GetByBillingCustomerRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	return s.findOne(ctx, "billing_customer_ref", ref, func(sub *subscription.Subscription) bool {
		return ref != "" && sub.BillingCustomerRef == ref
	})
}

func (s *InMemorySubscriptionStore) ListByUserID(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	items := s.InMemoryStore.List(ctx, func(_ context.Context, sub *subscription.Subscription) bool {
		return sub.UserID == userID
	}, func(a, b *subscription.Subscription) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})

	result := make([]*subscription.Subscription, 0, len(items))
	for _, sub := range items {
		result = append(result, sub.Clone())
	}
	return result, nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.InMemoryStore.Get(ctx, sub.ID)
	if err != nil {
		return notFound("id", sub.ID)
	}
	if s.BeforeUpdate != nil {
		s.BeforeUpdate(stored)
	}
	if stored.Version != sub.Version {
		return ierr.NewError("subscription was modified concurrently").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"version":         sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, sub.ID, sub.Clone())
}

func (s *InMemorySubscriptionStore) Delete(ctx context.Context, id string) error {
	if err, ok := s.DeleteErrors[id]; ok {
		return err
	}
	if err := s.InMemoryStore.Delete(ctx, id); err != nil {
		return notFound("id", id)
	}
	return nil
}

// Put stores sub as is, bypassing version handling. Used to seed tests.
func (s *InMemorySubscriptionStore) Put(sub *subscription.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.Version == 0 {
		sub.Version = 1
	}
	_ = s.InMemoryStore.Delete(context.Background(), sub.ID)
	_ = s.InMemoryStore.Create(context.Background(), sub.ID, sub.Clone())
}

func (s *InMemorySubscriptionStore) findOne(ctx context.Context, field, value string, match func(*subscription.Subscription) bool) (*subscription.Subscription, error) {
	items := s.InMemoryStore.List(ctx, func(_ context.Context, sub *subscription.Subscription) bool {
		return match(sub)
	}, nil)
	if len(items) == 0 {
		return nil, notFound(field, value)
	}
	return items[0].Clone(), nil
}

func notFound(field, value string) error {
	return ierr.NewError("subscription not found").
		WithHintf("No subscription found for %s %s", field, value).
		Mark(subscription.ErrNotFound)
}
