package service

import (
	"context"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/catalog"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/idempotency"
	"github.com/flexprice/plancore/internal/types"
)

func (s *subscriptionService) RequestPlanChange(ctx context.Context, req *dto.PlanChangeRequest) (*dto.PlanChangeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, ok := s.Catalog.Plan(req.TargetPlan)
	if !ok {
		return nil, subscription.NewInvalidPlanError(req.TargetPlan)
	}

	sub, err := s.SubRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	attempt := newPlanChangeAttempt(s.Logger, sub.UserID, target.Name, types.PlanChangeStateIdle)
	if sub.PlanType == target.Name {
		return nil, attempt.fail(subscription.NewSamePlanError(target.Name))
	}
	if !sub.HasBillingSubscription() {
		return nil, attempt.fail(noBillingSubscriptionError(sub.UserID))
	}

	isUpgrade, err := s.Catalog.IsUpgrade(sub.PlanType, target.Name)
	if err != nil {
		return nil, attempt.fail(err)
	}

	sub, err = s.releasePendingChange(ctx, sub)
	if err != nil {
		return nil, attempt.fail(err)
	}

	if !isUpgrade {
		return s.scheduleDowngrade(ctx, attempt, sub, target)
	}

	chargeable, err := s.setup.ensureChargeable(ctx, sub)
	if err != nil {
		return nil, attempt.fail(err)
	}
	if !chargeable {
		if err := attempt.transition(types.PlanChangeStateAwaitingPaymentSetup); err != nil {
			return nil, err
		}
		setup, err := s.setup.begin(ctx, sub, types.SetupPurposePlanUpgrade, map[string]string{
			types.MetadataKeyTargetPlan:          target.Name,
			types.MetadataKeyProrationPreference: string(req.ProrationPreference),
		})
		if err != nil {
			return nil, attempt.fail(err)
		}
		return &dto.PlanChangeResponse{
			Type:         types.PlanChangeTypePaymentMethodRequired,
			Setup:        setup,
			Subscription: dto.NewSubscriptionResponse(sub),
		}, nil
	}

	if err := attempt.transition(types.PlanChangeStateApplying); err != nil {
		return nil, err
	}
	return s.applyUpgrade(ctx, attempt, sub, target, req.ProrationPreference)
}

func (s *subscriptionService) CompleteUpgrade(ctx context.Context, req *dto.CompleteSetupRequest) (*dto.PlanChangeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	attempt := newPlanChangeAttempt(s.Logger, req.UserID, "", types.PlanChangeStateAwaitingPaymentSetup)
	metadata, sub, err := s.setup.resume(ctx, req.UserID, req.SetupRef, types.SetupPurposePlanUpgrade, types.MetadataKeyTargetPlan)
	if err != nil {
		return nil, attempt.fail(err)
	}

	attempt.targetPlan = metadata[types.MetadataKeyTargetPlan]
	target, ok := s.Catalog.Plan(attempt.targetPlan)
	if !ok {
		return nil, attempt.fail(subscription.NewInvalidPlanError(attempt.targetPlan))
	}
	if sub.PlanType == target.Name {
		return nil, attempt.fail(subscription.NewSamePlanError(target.Name))
	}
	if !sub.HasBillingSubscription() {
		return nil, attempt.fail(noBillingSubscriptionError(sub.UserID))
	}

	sub, err = s.releasePendingChange(ctx, sub)
	if err != nil {
		return nil, attempt.fail(err)
	}

	proration := types.ProrationPreference(metadata[types.MetadataKeyProrationPreference])
	if proration.Validate() != nil {
		proration = types.ProrationPreferenceAlwaysInvoice
	}

	if err := attempt.transition(types.PlanChangeStateApplying); err != nil {
		return nil, err
	}
	return s.applyUpgrade(ctx, attempt, sub, target, proration)
}

// releasePendingChange cancels a scheduled downgrade at the processor and clears it locally
func (s *subscriptionService) releasePendingChange(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error) {
	if sub.PendingChange == nil {
		return sub, nil
	}

	scheduleRef := sub.PendingChange.ScheduleRef
	if scheduleRef != "" {
		if err := s.PaymentGateway.ReleaseSchedule(ctx, scheduleRef); err != nil {
			return nil, err
		}
	}

	s.Logger.Infow("released pending downgrade",
		"user_id", sub.UserID,
		"target_plan", sub.PendingChange.TargetPlan,
		"schedule_id", scheduleRef,
	)
	return s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		if sub.PendingChange == nil || sub.PendingChange.ScheduleRef != scheduleRef {
			return false
		}
		sub.PendingChange = nil
		return true
	})
}

// applyUpgrade moves the subscription to target immediately. A canceled
// processor subscription cannot be reactivated, so a new one is created
// carrying the plan and every addon still compatible with it.
func (s *subscriptionService) applyUpgrade(
	ctx context.Context,
	attempt *planChangeAttempt,
	sub *subscription.Subscription,
	target *catalog.Plan,
	proration types.ProrationPreference,
) (*dto.PlanChangeResponse, error) {
	priceRef, err := s.PaymentGateway.PriceRefForPlan(target.Name)
	if err != nil {
		return nil, attempt.fail(err)
	}

	bsub, err := s.PaymentGateway.GetSubscription(ctx, sub.BillingSubscriptionRef)
	if err != nil {
		return nil, attempt.fail(err)
	}

	resultType := types.PlanChangeTypeUpgrade
	itemRefs := map[string]string{}
	var prune *addonPrune

	if bsub.IsCanceled() {
		resultType = types.PlanChangeTypeNewSubscription
		prune = s.addons.pruneFor(ctx, sub, target.Name)

		priceRefs := []string{priceRef}
		kept := make(map[string]string)
		for _, name := range prune.remaining {
			entry, ok := s.Catalog.Addon(name)
			if !ok {
				continue
			}
			priceRefs = append(priceRefs, entry.PriceRef)
			kept[name] = entry.PriceRef
		}

		bsub, err = s.PaymentGateway.CreateSubscription(ctx, &billing.CreateSubscriptionRequest{
			CustomerRef: sub.BillingCustomerRef,
			PriceRefs:   priceRefs,
			Metadata: map[string]string{
				types.MetadataKeyUserID:   sub.UserID,
				types.MetadataKeyUsername: sub.Username,
				types.MetadataKeyEmail:    sub.Email,
			},
			IdempotencyKey: idempotency.NewGenerator().GenerateKey(idempotency.ScopeResubscribe, map[string]interface{}{
				"subscription_ref": sub.BillingSubscriptionRef,
				"plan":             target.Name,
			}),
		})
		if err != nil {
			return nil, attempt.fail(err)
		}

		for name, addonPrice := range kept {
			if item, ok := bsub.ItemForPrice(addonPrice); ok {
				itemRefs[name] = item.Ref
			}
		}
		s.Logger.Infow("replaced canceled processor subscription",
			"user_id", sub.UserID,
			"old_subscription_id", sub.BillingSubscriptionRef,
			"subscription_id", bsub.Ref,
			"pruned_addons", prune.removed,
		)
	} else {
		bsub, err = s.PaymentGateway.UpdateSubscriptionPrice(ctx, sub.BillingSubscriptionRef, priceRef, proration)
		if err != nil {
			return nil, attempt.fail(err)
		}
		prune = s.addons.pruneFor(ctx, sub, target.Name)
	}
	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		changed := applyBillingState(sub, bsub)
		if sub.PlanType != target.Name || sub.BillingPriceRef != priceRef {
			sub.PlanType = target.Name
			sub.BillingPriceRef = priceRef
			changed = true
		}
		if sub.PendingChange != nil {
			sub.PendingChange = nil
			changed = true
		}
		if prune.apply(sub) {
			changed = true
		}
		for _, addon := range sub.ActiveAddOns {
			if ref, ok := itemRefs[addon.Name]; ok && addon.Status == types.AddonStatusActive && addon.BillingItemRef != ref {
				addon.BillingItemRef = ref
				changed = true
			}
		}
		return changed
	})
	if err != nil {
		s.Logger.Errorw("plan changed at processor but not saved",
			"user_id", sub.UserID,
			"target_plan", target.Name,
			"subscription_id", bsub.Ref,
			"error", err,
		)
		return nil, attempt.fail(err)
	}

	if err := attempt.transition(types.PlanChangeStateApplied); err != nil {
		return nil, err
	}
	s.Logger.Infow("plan upgraded",
		"user_id", saved.UserID,
		"plan_type", saved.PlanType,
		"type", resultType,
		"status", saved.Status,
	)
	s.entsync.Update(ctx, saved)

	return &dto.PlanChangeResponse{
		Type:         resultType,
		Subscription: dto.NewSubscriptionResponse(saved),
	}, nil
}

// scheduleDowngrade defers the change to the end of the current period.
// PlanType is left alone until the schedule-completed event confirms it.
func (s *subscriptionService) scheduleDowngrade(
	ctx context.Context,
	attempt *planChangeAttempt,
	sub *subscription.Subscription,
	target *catalog.Plan,
) (*dto.PlanChangeResponse, error) {
	if err := attempt.transition(types.PlanChangeStateApplying); err != nil {
		return nil, err
	}

	priceRef, err := s.PaymentGateway.PriceRefForPlan(target.Name)
	if err != nil {
		return nil, attempt.fail(err)
	}

	periodEnd := sub.CurrentPeriodEnd
	if periodEnd == nil {
		bsub, err := s.PaymentGateway.GetSubscription(ctx, sub.BillingSubscriptionRef)
		if err != nil {
			return nil, attempt.fail(err)
		}
		periodEnd = bsub.CurrentPeriodEnd
	}
	if periodEnd == nil {
		return nil, attempt.fail(ierr.NewError("billing period end is unknown").
			WithHint("The downgrade cannot be scheduled yet, try again shortly").
			WithReportableDetails(map[string]any{"user_id": sub.UserID}).
			Mark(ierr.ErrInvalidOperation))
	}

	scheduleRef, err := s.PaymentGateway.ScheduleDeferredPriceChange(ctx, sub.BillingSubscriptionRef, priceRef, *periodEnd)
	if err != nil {
		return nil, attempt.fail(err)
	}

	pending := subscription.PendingChange{
		TargetPlan:    target.Name,
		EffectiveDate: *periodEnd,
		ScheduleRef:   scheduleRef,
	}
	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		if sub.PendingChange != nil && *sub.PendingChange == pending {
			return false
		}
		pc := pending
		sub.PendingChange = &pc
		return true
	})
	if err != nil {
		s.Logger.Errorw("downgrade scheduled at processor but not saved",
			"user_id", sub.UserID,
			"target_plan", target.Name,
			"schedule_id", scheduleRef,
			"error", err,
		)
		return nil, attempt.fail(err)
	}

	if err := attempt.transition(types.PlanChangeStateApplied); err != nil {
		return nil, err
	}
	s.Logger.Infow("downgrade scheduled",
		"user_id", saved.UserID,
		"plan_type", saved.PlanType,
		"target_plan", target.Name,
		"effective_date", pending.EffectiveDate,
		"schedule_id", scheduleRef,
	)

	effective := pending.EffectiveDate
	return &dto.PlanChangeResponse{
		Type:          types.PlanChangeTypeDowngrade,
		EffectiveDate: &effective,
		Subscription:  dto.NewSubscriptionResponse(saved),
	}, nil
}

func noBillingSubscriptionError(userID string) error {
	return ierr.NewError("no billing subscription").
		WithHint("Complete a checkout before changing plans").
		WithReportableDetails(map[string]any{"user_id": userID}).
		Mark(subscription.ErrNoBillingSubscription)
}
