package subscription

import (
	"context"
)

// Repository stores subscription records.
// Update is optimistic: it succeeds only if the stored version equals
// sub.Version, increments sub.Version on success and returns
// ierr.ErrVersionConflict otherwise.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByUserID(ctx context.Context, userID string) (*Subscription, error)
	GetByBillingSubscriptionRef(ctx context.Context, ref string) (*Subscription, error)
	GetByBillingCustomerRef(ctx context.Context, ref string) (*Subscription, error)
	ListByUserID(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}
