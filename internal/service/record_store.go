package service

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/types"
)

const maxSaveAttempts = 3

// mutation applies an operation to the latest record and reports whether it changed anything.
// It must depend only on the record it is given and the operation input so it
// can be re-applied after a version conflict.
type mutation func(sub *subscription.Subscription) bool

// recordStore saves subscription records with optimistic retries
type recordStore struct {
	repo   subscription.Repository
	logger *logger.Logger
}

func newRecordStore(params ServiceParams) *recordStore {
	return &recordStore{repo: params.SubRepo, logger: params.Logger}
}

// update applies mutate to sub and saves it. On a version conflict the record
// is reloaded and mutate re-applied. The save ignores caller cancellation so a
// processor change that already happened is always persisted.
func (r *recordStore) update(ctx context.Context, sub *subscription.Subscription, mutate mutation) (*subscription.Subscription, error) {
	ctx = context.WithoutCancel(ctx)
	current := sub

	for attempt := 1; ; attempt++ {
		next := current.Clone()
		if !mutate(next) {
			return current, nil
		}

		err := r.repo.Update(ctx, next)
		if err == nil {
			return next, nil
		}
		if !ierr.IsVersionConflict(err) || attempt >= maxSaveAttempts {
			return nil, err
		}

		r.logger.Warnw("subscription changed concurrently, reapplying",
			"subscription_id", sub.ID,
			"user_id", sub.UserID,
			"attempt", attempt,
		)
		current, err = r.repo.Get(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
	}
}

// upsert updates the user's record, creating it from seed when absent
func (r *recordStore) upsert(ctx context.Context, seed *subscription.Subscription, mutate mutation) (*subscription.Subscription, error) {
	ctx = context.WithoutCancel(ctx)

	existing, err := r.repo.GetByUserID(ctx, seed.UserID)
	if err == nil {
		return r.update(ctx, existing, mutate)
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	created := seed.Clone()
	if created.ID == "" {
		created.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION)
	}
	mutate(created)

	err = r.repo.Create(ctx, created)
	if err == nil {
		r.logger.Infow("created subscription record",
			"subscription_id", created.ID,
			"user_id", created.UserID,
			"plan_type", created.PlanType,
			"status", created.Status,
		)
		return created, nil
	}
	if !ierr.IsAlreadyExists(err) {
		return nil, err
	}

	// lost a creation race; apply to the winner's record
	existing, err = r.repo.GetByUserID(ctx, seed.UserID)
	if err != nil {
		return nil, err
	}
	return r.update(ctx, existing, mutate)
}

// applyBillingState copies processor state onto sub and reports whether anything changed
func applyBillingState(sub *subscription.Subscription, b *billing.Subscription) bool {
	changed := false

	if b.Ref != "" && sub.BillingSubscriptionRef != b.Ref {
		sub.BillingSubscriptionRef = b.Ref
		changed = true
	}
	if b.CustomerRef != "" && sub.BillingCustomerRef != b.CustomerRef {
		sub.BillingCustomerRef = b.CustomerRef
		changed = true
	}
	if b.PriceRef != "" && sub.BillingPriceRef != b.PriceRef {
		sub.BillingPriceRef = b.PriceRef
		changed = true
	}
	if b.Status != "" && sub.Status != b.Status {
		sub.Status = b.Status
		changed = true
	}
	if sub.CancelAtPeriodEnd != b.CancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = b.CancelAtPeriodEnd
		changed = true
	}
	if b.CurrentPeriodStart != nil && !sameTime(sub.CurrentPeriodStart, b.CurrentPeriodStart) {
		sub.CurrentPeriodStart = clone(b.CurrentPeriodStart)
		changed = true
	}
	if b.CurrentPeriodEnd != nil && !sameTime(sub.CurrentPeriodEnd, b.CurrentPeriodEnd) {
		sub.CurrentPeriodEnd = clone(b.CurrentPeriodEnd)
		changed = true
	}
	if !sameTime(sub.CanceledAt, b.CanceledAt) {
		sub.CanceledAt = clone(b.CanceledAt)
		changed = true
	}
	return changed
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func clone(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
