package service

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/cache"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/idempotency"
	"github.com/flexprice/plancore/internal/types"
	"github.com/samber/lo"
)

// BillingWebhookService reconciles local records with processor events.
// Events may arrive late, duplicated or out of order; every handler is
// idempotent and re-reads processor state where ordering matters.
type BillingWebhookService interface {
	// HandleWebhook verifies the signature and processes the event. Only a
	// verification failure is returned; processing errors are reported and
	// the event is acknowledged.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	HandleEvent(ctx context.Context, event *billing.Event) error
}

type billingWebhookService struct {
	ServiceParams
	store   *recordStore
	addons  *addonService
	entsync EntitlementSyncService
}

func NewBillingWebhookService(params ServiceParams) BillingWebhookService {
	return &billingWebhookService{
		ServiceParams: params,
		store:         newRecordStore(params),
		addons:        NewAddonService(params).(*addonService),
		entsync:       NewEntitlementSyncService(params),
	}
}

func (s *billingWebhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.PaymentGateway.VerifyAndParseWebhook(payload, signature, s.Config.Stripe.WebhookSecret)
	if err != nil {
		s.Logger.Warnw("rejected billing webhook", "error", err)
		return err
	}
	return s.HandleEvent(ctx, event)
}

func (s *billingWebhookService) HandleEvent(ctx context.Context, event *billing.Event) error {
	key := cache.GenerateKey(cache.PrefixBillingEvent, event.ID)
	if _, seen := s.Cache.Get(ctx, key); seen {
		s.Logger.Debugw("skipping already processed billing event",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}

	s.Logger.Infow("processing billing event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := s.dispatch(ctx, event); err != nil {
		s.Logger.Errorw("failed to process billing event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		s.Sentry.CaptureExceptionWithTags(err, map[string]string{
			"event_id":   event.ID,
			"event_type": event.Type.String(),
		})
		return nil
	}

	s.Cache.Set(ctx, key, true, s.Config.Cache.WebhookEventTTL)
	return nil
}

func (s *billingWebhookService) dispatch(ctx context.Context, event *billing.Event) error {
	switch {
	case event.CheckoutSession != nil && event.Type == types.BillingEventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event.CheckoutSession)
	case event.Subscription != nil && (event.Type == types.BillingEventSubscriptionCreated || event.Type == types.BillingEventSubscriptionUpdated):
		return s.handleSubscriptionChanged(ctx, event.Subscription)
	case event.Subscription != nil && event.Type == types.BillingEventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event.Subscription)
	case event.Invoice != nil && event.Type == types.BillingEventInvoicePaymentSucceeded:
		return s.handleInvoicePaid(ctx, event.Invoice)
	case event.Invoice != nil && event.Type == types.BillingEventInvoicePaymentFailed:
		return s.handleInvoiceFailed(ctx, event.Invoice)
	case event.Schedule != nil && (event.Type == types.BillingEventScheduleCompleted || event.Type == types.BillingEventScheduleReleased):
		return s.handleScheduleEnded(ctx, event.Schedule)
	}

	s.Logger.Debugw("ignoring billing event", "event_id", event.ID, "event_type", event.Type)
	return nil
}

// handleCheckoutCompleted activates the plan bought through a hosted checkout
func (s *billingWebhookService) handleCheckoutCompleted(ctx context.Context, session *billing.CheckoutSession) error {
	if session.Mode != types.CheckoutModeSubscription {
		return nil
	}
	if session.SubscriptionRef == "" {
		s.Logger.Warnw("checkout completed without a subscription", "checkout_ref", session.Ref)
		return nil
	}

	userID := lo.CoalesceOrEmpty(session.Metadata[types.MetadataKeyUserID], session.ClientReferenceID)
	if userID == "" {
		return ierr.NewError("checkout session has no user").
			WithReportableDetails(map[string]any{"checkout_ref": session.Ref}).
			Mark(ierr.ErrValidation)
	}

	bsub, err := s.PaymentGateway.GetSubscription(ctx, session.SubscriptionRef)
	if err != nil {
		return err
	}
	plan, ok := s.PaymentGateway.PlanNameForPrice(bsub.PriceRef)
	if !ok {
		return ierr.NewError("checkout subscription price is not in the catalog").
			WithReportableDetails(map[string]any{
				"checkout_ref": session.Ref,
				"price_ref":    bsub.PriceRef,
			}).
			Mark(subscription.ErrInvalidPlan)
	}

	seed := &subscription.Subscription{
		UserID:             userID,
		Username:           session.Metadata[types.MetadataKeyUsername],
		Email:              session.Metadata[types.MetadataKeyEmail],
		BillingCustomerRef: session.CustomerRef,
		Status:             types.SubscriptionStatusIncomplete,
		PlanType:           plan,
	}
	saved, err := s.store.upsert(ctx, seed, func(sub *subscription.Subscription) bool {
		changed := applyBillingState(sub, bsub)
		if sub.PlanType != plan {
			sub.PlanType = plan
			changed = true
		}
		if sub.PendingChange != nil {
			sub.PendingChange = nil
			changed = true
		}
		return changed
	})
	if err != nil {
		return err
	}

	s.Logger.Infow("checkout completed",
		"user_id", saved.UserID,
		"plan_type", saved.PlanType,
		"status", saved.Status,
		"subscription_ref", saved.BillingSubscriptionRef,
	)
	s.entsync.Upsert(ctx, saved)
	return nil
}

// locate finds the record for a processor subscription. A record without a
// processor subscription yet is matched by customer; a record already bound
// to a different subscription never is, so events from replaced
// subscriptions are dropped.
func (s *billingWebhookService) locate(ctx context.Context, subscriptionRef, customerRef string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.GetByBillingSubscriptionRef(ctx, subscriptionRef)
	if err == nil || !ierr.IsNotFound(err) || customerRef == "" {
		return sub, err
	}

	sub, err = s.SubRepo.GetByBillingCustomerRef(ctx, customerRef)
	if err != nil {
		return nil, err
	}
	if sub.BillingSubscriptionRef != "" {
		return nil, subscription.NewNotFoundError(sub.UserID)
	}
	return sub, nil
}

func (s *billingWebhookService) handleSubscriptionChanged(ctx context.Context, bsub *billing.Subscription) error {
	sub, err := s.locate(ctx, bsub.Ref, bsub.CustomerRef)
	if ierr.IsNotFound(err) {
		s.Logger.Infow("no record for processor subscription", "subscription_ref", bsub.Ref)
		return nil
	}
	if err != nil {
		return err
	}

	// events arrive out of order; the processor's current state wins over
	// the payload so a late event cannot roll back a newer plan or addon set
	bsub, err = s.PaymentGateway.GetSubscription(ctx, bsub.Ref)
	if ierr.IsNotFound(err) {
		s.Logger.Infow("processor subscription no longer exists", "user_id", sub.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	// a price change only moves the plan when nothing is scheduled, or when it
	// is the scheduled downgrade taking effect
	plan, known := s.PaymentGateway.PlanNameForPrice(bsub.PriceRef)
	if known && plan != sub.PlanType && (sub.PendingChange == nil || sub.PendingChange.TargetPlan == plan) {
		return s.applyProcessorPlan(ctx, sub, bsub, plan)
	}

	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		return applyBillingState(sub, bsub)
	})
	if err != nil {
		return err
	}
	s.syncIfChanged(ctx, sub, saved)
	return nil
}

// handleSubscriptionDeleted moves the user to a fresh free subscription.
// When the replacement cannot be created the record is left canceled and
// the user keeps free entitlements.
func (s *billingWebhookService) handleSubscriptionDeleted(ctx context.Context, bsub *billing.Subscription) error {
	sub, err := s.SubRepo.GetByBillingSubscriptionRef(ctx, bsub.Ref)
	if ierr.IsNotFound(err) {
		s.Logger.Infow("deleted processor subscription is not tracked", "subscription_ref", bsub.Ref)
		return nil
	}
	if err != nil {
		return err
	}

	free := s.Catalog.FreePlan()
	replacement, replaceErr := s.PaymentGateway.CreateSubscription(ctx, &billing.CreateSubscriptionRequest{
		CustomerRef: lo.CoalesceOrEmpty(sub.BillingCustomerRef, bsub.CustomerRef),
		PriceRefs:   []string{free.PriceRef},
		Metadata: map[string]string{
			types.MetadataKeyUserID:   sub.UserID,
			types.MetadataKeyUsername: sub.Username,
			types.MetadataKeyEmail:    sub.Email,
		},
		IdempotencyKey: idempotency.NewGenerator().GenerateKey(idempotency.ScopeReplacement, map[string]interface{}{
			"subscription_ref": bsub.Ref,
		}),
	})

	canceledAt := lo.FromPtrOr(bsub.CanceledAt, time.Now().UTC())
	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		if sub.BillingSubscriptionRef != bsub.Ref {
			return false
		}
		if replaceErr == nil {
			applyBillingState(sub, replacement)
		} else {
			sub.Status = types.SubscriptionStatusCanceled
			sub.CanceledAt = &canceledAt
			sub.CancelAtPeriodEnd = false
		}
		sub.PlanType = free.Name
		sub.BillingPriceRef = free.PriceRef
		sub.PendingChange = nil
		for _, addon := range sub.ActiveAddOns {
			if addon.Status == types.AddonStatusActive {
				addon.Status = types.AddonStatusCanceled
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	if replaceErr != nil {
		s.Logger.Errorw("failed to create replacement free subscription",
			"user_id", saved.UserID,
			"subscription_ref", bsub.Ref,
			"error", replaceErr,
		)
		s.Sentry.CaptureExceptionWithTags(replaceErr, map[string]string{
			"user_id":          saved.UserID,
			"subscription_ref": bsub.Ref,
		})
	} else {
		s.Logger.Infow("replaced deleted subscription with free plan",
			"user_id", saved.UserID,
			"old_subscription_ref", bsub.Ref,
			"subscription_ref", saved.BillingSubscriptionRef,
		)
	}

	s.entsync.DowngradeToFree(ctx, saved.UserID)
	return nil
}

// handleInvoicePaid restores access after a successful payment. A canceled
// record stays canceled; only a new subscription brings it back.
func (s *billingWebhookService) handleInvoicePaid(ctx context.Context, invoice *billing.Invoice) error {
	if invoice.SubscriptionRef == "" {
		return nil
	}
	sub, err := s.SubRepo.GetByBillingSubscriptionRef(ctx, invoice.SubscriptionRef)
	if ierr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		if sub.Status == types.SubscriptionStatusActive || sub.Status == types.SubscriptionStatusCanceled {
			return false
		}
		sub.Status = types.SubscriptionStatusActive
		return true
	})
	if err != nil {
		return err
	}
	s.syncIfChanged(ctx, sub, saved)
	return nil
}

func (s *billingWebhookService) handleInvoiceFailed(ctx context.Context, invoice *billing.Invoice) error {
	if invoice.SubscriptionRef == "" {
		return nil
	}
	sub, err := s.SubRepo.GetByBillingSubscriptionRef(ctx, invoice.SubscriptionRef)
	if ierr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		if !sub.IsActive() {
			return false
		}
		sub.Status = types.SubscriptionStatusPastDue
		return true
	})
	if err != nil {
		return err
	}
	if saved != sub {
		s.Logger.Warnw("subscription payment failed",
			"user_id", saved.UserID,
			"subscription_ref", invoice.SubscriptionRef,
			"invoice_ref", invoice.Ref,
		)
	}
	return nil
}

// handleScheduleEnded applies the outcome of a downgrade schedule. Events for
// a schedule other than the one pending on the record only refresh billing
// state.
func (s *billingWebhookService) handleScheduleEnded(ctx context.Context, schedule *billing.Schedule) error {
	ref := lo.CoalesceOrEmpty(schedule.SubscriptionRef, schedule.ReleasedSubscriptionRef)
	if ref == "" {
		return nil
	}
	sub, err := s.SubRepo.GetByBillingSubscriptionRef(ctx, ref)
	if ierr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	bsub, err := s.PaymentGateway.GetSubscription(ctx, ref)
	if err != nil {
		return err
	}

	if sub.PendingChange == nil || sub.PendingChange.ScheduleRef != schedule.Ref {
		s.Logger.Infow("ignoring stale schedule event",
			"user_id", sub.UserID,
			"schedule_ref", schedule.Ref,
		)
		saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
			return applyBillingState(sub, bsub)
		})
		if err != nil {
			return err
		}
		s.syncIfChanged(ctx, sub, saved)
		return nil
	}

	plan, ok := s.PaymentGateway.PlanNameForPrice(bsub.PriceRef)
	if !ok {
		return ierr.NewError("subscription price is not in the catalog").
			WithReportableDetails(map[string]any{
				"subscription_ref": ref,
				"price_ref":        bsub.PriceRef,
			}).
			Mark(subscription.ErrInvalidPlan)
	}
	return s.applyProcessorPlan(ctx, sub, bsub, plan)
}

// applyProcessorPlan adopts the plan the processor is billing, clears any
// pending change and prunes addons the plan does not allow
func (s *billingWebhookService) applyProcessorPlan(ctx context.Context, sub *subscription.Subscription, bsub *billing.Subscription, plan string) error {
	prune := s.addons.pruneFor(ctx, sub, plan)

	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		changed := applyBillingState(sub, bsub)
		if sub.PlanType != plan {
			sub.PlanType = plan
			changed = true
		}
		if sub.PendingChange != nil {
			sub.PendingChange = nil
			changed = true
		}
		if prune.apply(sub) {
			changed = true
		}
		return changed
	})
	if err != nil {
		return err
	}

	s.Logger.Infow("applied processor plan",
		"user_id", saved.UserID,
		"plan_type", saved.PlanType,
		"status", saved.Status,
		"pruned_addons", prune.removed,
	)
	s.syncIfChanged(ctx, sub, saved)
	return nil
}

// syncIfChanged pushes entitlements when a save actually wrote the record.
// recordStore.update returns the input record untouched when nothing changed.
func (s *billingWebhookService) syncIfChanged(ctx context.Context, before, after *subscription.Subscription) {
	if before == after {
		return
	}
	if after.Status == types.SubscriptionStatusCanceled {
		s.entsync.DowngradeToFree(ctx, after.UserID)
		return
	}
	if after.IsActive() {
		s.entsync.Update(ctx, after)
	}
}
