package stripe

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/domain/billing"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
)

// Stripe proration_behavior values
const (
	prorationCreate        = "create_prorations"
	prorationNone          = "none"
	prorationAlwaysInvoice = "always_invoice"
)

func prorationBehavior(p types.ProrationPreference) string {
	switch p {
	case types.ProrationPreferenceAutoProrate:
		return prorationCreate
	case types.ProrationPreferenceNone:
		return prorationNone
	default:
		return prorationAlwaysInvoice
	}
}

// CreateSubscription creates a subscription billing every price in req.PriceRefs
func (g *Gateway) CreateSubscription(ctx context.Context, req *billing.CreateSubscriptionRequest) (*billing.Subscription, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}
	if len(req.PriceRefs) == 0 {
		return nil, ierr.NewError("subscription needs at least one price").
			Mark(ierr.ErrValidation)
	}

	params := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(req.CustomerRef),
		Metadata: req.Metadata,
		Items: lo.Map(req.PriceRefs, func(price string, _ int) *stripe.SubscriptionCreateItemParams {
			return &stripe.SubscriptionCreateItemParams{
				Price:    stripe.String(price),
				Quantity: stripe.Int64(1),
			}
		}),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sub, err := sc.V1Subscriptions.Create(ctx, params)
	if err != nil {
		return nil, apiError(err, "Unable to create Stripe subscription", map[string]any{
			"customer_ref": req.CustomerRef,
			"price_refs":   req.PriceRefs,
		})
	}

	g.logger.Infow("created stripe subscription",
		"customer_ref", req.CustomerRef,
		"subscription_ref", sub.ID,
		"status", sub.Status,
	)
	return g.toSubscription(sub), nil
}

func (g *Gateway) GetSubscription(ctx context.Context, ref string) (*billing.Subscription, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}

	sub, err := sc.V1Subscriptions.Retrieve(ctx, ref, nil)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ierr.WithError(err).
				WithHintf("Stripe subscription %s does not exist", ref).
				Mark(ierr.ErrNotFound)
		}
		return nil, apiError(err, "Unable to retrieve Stripe subscription", map[string]any{
			"subscription_ref": ref,
		})
	}
	return g.toSubscription(sub), nil
}

// UpdateSubscriptionPrice swaps the plan item to newPriceRef immediately
func (g *Gateway) UpdateSubscriptionPrice(ctx context.Context, ref, newPriceRef string, mode types.ProrationPreference) (*billing.Subscription, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}

	current, err := sc.V1Subscriptions.Retrieve(ctx, ref, nil)
	if err != nil {
		return nil, apiError(err, "Unable to retrieve Stripe subscription", map[string]any{
			"subscription_ref": ref,
		})
	}
	item, ok := g.planItem(current)
	if !ok {
		return nil, ierr.NewError("subscription has no plan item").
			WithHintf("Stripe subscription %s has no item billed at a plan price", ref).
			Mark(ierr.ErrInvalidOperation)
	}

	sub, err := sc.V1Subscriptions.Update(ctx, ref, &stripe.SubscriptionUpdateParams{
		ProrationBehavior: stripe.String(prorationBehavior(mode)),
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(item.ID),
				Price: stripe.String(newPriceRef),
			},
		},
	})
	if err != nil {
		return nil, apiError(err, "Unable to update Stripe subscription price", map[string]any{
			"subscription_ref": ref,
			"price_ref":        newPriceRef,
		})
	}
	return g.toSubscription(sub), nil
}

// ScheduleDeferredPriceChange attaches a two phase schedule to the subscription:
// the current items until effectiveAt, then the same items with the plan price
// swapped for one iteration, after which the schedule releases.
func (g *Gateway) ScheduleDeferredPriceChange(ctx context.Context, ref, newPriceRef string, effectiveAt time.Time) (string, error) {
	sc, err := g.api()
	if err != nil {
		return "", err
	}

	current, err := sc.V1Subscriptions.Retrieve(ctx, ref, nil)
	if err != nil {
		return "", apiError(err, "Unable to retrieve Stripe subscription", map[string]any{
			"subscription_ref": ref,
		})
	}
	planItem, ok := g.planItem(current)
	if !ok {
		return "", ierr.NewError("subscription has no plan item").
			WithHintf("Stripe subscription %s has no item billed at a plan price", ref).
			Mark(ierr.ErrInvalidOperation)
	}

	var sched *stripe.SubscriptionSchedule
	if current.Schedule != nil && current.Schedule.ID != "" {
		sched, err = sc.V1SubscriptionSchedules.Retrieve(ctx, current.Schedule.ID, nil)
	} else {
		sched, err = sc.V1SubscriptionSchedules.Create(ctx, &stripe.SubscriptionScheduleCreateParams{
			FromSubscription: stripe.String(ref),
		})
	}
	if err != nil {
		return "", apiError(err, "Unable to create Stripe subscription schedule", map[string]any{
			"subscription_ref": ref,
		})
	}

	startDate := time.Now().Unix()
	if len(sched.Phases) > 0 {
		startDate = sched.Phases[0].StartDate
	}

	currentItems := make([]*stripe.SubscriptionScheduleUpdatePhaseItemParams, 0, len(current.Items.Data))
	nextItems := make([]*stripe.SubscriptionScheduleUpdatePhaseItemParams, 0, len(current.Items.Data))
	for _, item := range current.Items.Data {
		price := item.Price.ID
		quantity := lo.Max([]int64{item.Quantity, 1})
		currentItems = append(currentItems, &stripe.SubscriptionScheduleUpdatePhaseItemParams{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(quantity),
		})
		if item.ID == planItem.ID {
			price = newPriceRef
		}
		nextItems = append(nextItems, &stripe.SubscriptionScheduleUpdatePhaseItemParams{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(quantity),
		})
	}

	_, err = sc.V1SubscriptionSchedules.Update(ctx, sched.ID, &stripe.SubscriptionScheduleUpdateParams{
		EndBehavior:       stripe.String(string(stripe.SubscriptionScheduleEndBehaviorRelease)),
		ProrationBehavior: stripe.String(prorationNone),
		Phases: []*stripe.SubscriptionScheduleUpdatePhaseParams{
			{
				Items:     currentItems,
				StartDate: stripe.Int64(startDate),
				EndDate:   stripe.Int64(effectiveAt.Unix()),
			},
			{
				Items:      nextItems,
				Iterations: stripe.Int64(1),
			},
		},
	})
	if err != nil {
		return "", apiError(err, "Unable to update Stripe subscription schedule", map[string]any{
			"subscription_ref": ref,
			"schedule_ref":     sched.ID,
			"price_ref":        newPriceRef,
		})
	}

	g.logger.Infow("scheduled deferred price change",
		"subscription_ref", ref,
		"schedule_ref", sched.ID,
		"price_ref", newPriceRef,
		"effective_at", effectiveAt,
	)
	return sched.ID, nil
}

// ReleaseSchedule detaches a schedule, leaving the subscription on its current phase
func (g *Gateway) ReleaseSchedule(ctx context.Context, scheduleRef string) error {
	sc, err := g.api()
	if err != nil {
		return err
	}

	_, err = sc.V1SubscriptionSchedules.Release(ctx, scheduleRef, &stripe.SubscriptionScheduleReleaseParams{})
	if err != nil && !isResourceMissing(err) {
		return apiError(err, "Unable to release Stripe subscription schedule", map[string]any{
			"schedule_ref": scheduleRef,
		})
	}
	return nil
}

// CancelSubscription cancels immediately, or flags the subscription to end with its period
func (g *Gateway) CancelSubscription(ctx context.Context, ref string, atPeriodEnd bool) error {
	sc, err := g.api()
	if err != nil {
		return err
	}

	if atPeriodEnd {
		_, err = sc.V1Subscriptions.Update(ctx, ref, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		_, err = sc.V1Subscriptions.Cancel(ctx, ref, &stripe.SubscriptionCancelParams{})
	}
	if err != nil && !isResourceMissing(err) {
		return apiError(err, "Unable to cancel Stripe subscription", map[string]any{
			"subscription_ref": ref,
			"at_period_end":    atPeriodEnd,
		})
	}
	return nil
}

// AddSubscriptionItem bills priceRef on the subscription and returns the new item ref
func (g *Gateway) AddSubscriptionItem(ctx context.Context, subscriptionRef, priceRef string) (string, error) {
	sc, err := g.api()
	if err != nil {
		return "", err
	}

	item, err := sc.V1SubscriptionItems.Create(ctx, &stripe.SubscriptionItemCreateParams{
		Subscription:      stripe.String(subscriptionRef),
		Price:             stripe.String(priceRef),
		Quantity:          stripe.Int64(1),
		ProrationBehavior: stripe.String(prorationCreate),
	})
	if err != nil {
		return "", apiError(err, "Unable to add Stripe subscription item", map[string]any{
			"subscription_ref": subscriptionRef,
			"price_ref":        priceRef,
		})
	}
	return item.ID, nil
}

func (g *Gateway) RemoveSubscriptionItem(ctx context.Context, itemRef string) error {
	sc, err := g.api()
	if err != nil {
		return err
	}

	_, err = sc.V1SubscriptionItems.Delete(ctx, itemRef, &stripe.SubscriptionItemDeleteParams{
		ProrationBehavior: stripe.String(prorationCreate),
	})
	if err != nil && !isResourceMissing(err) {
		return apiError(err, "Unable to remove Stripe subscription item", map[string]any{
			"item_ref": itemRef,
		})
	}
	return nil
}

// planItem finds the item billed at a catalog plan price
func (g *Gateway) planItem(sub *stripe.Subscription) (*stripe.SubscriptionItem, bool) {
	if sub.Items == nil {
		return nil, false
	}
	return lo.Find(sub.Items.Data, func(item *stripe.SubscriptionItem) bool {
		if item.Price == nil {
			return false
		}
		_, ok := g.catalog.PlanForPrice(item.Price.ID)
		return ok
	})
}

func (g *Gateway) toSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		Ref:               sub.ID,
		Status:            types.NormalizeSubscriptionStatus(string(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixTime(sub.CanceledAt),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Schedule != nil {
		out.ScheduleRef = sub.Schedule.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			out.Items = append(out.Items, billing.SubscriptionItem{Ref: item.ID, PriceRef: item.Price.ID})
			// billing periods live on items
			if out.CurrentPeriodStart == nil {
				out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
				out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
		}
	}
	if item, ok := g.planItem(sub); ok {
		out.PriceRef = item.Price.ID
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
