package service

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/domain/catalog"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/samber/lo"
)

// AddonService resolves addon compatibility and handles addon purchases
type AddonService interface {
	// PruneIncompatible cancels every active addon not available for plan and saves once
	PruneIncompatible(ctx context.Context, sub *subscription.Subscription, plan string) (*PruneResult, error)

	Purchase(ctx context.Context, req *dto.PurchaseAddonRequest) (*dto.AddonResponse, error)
	// CompletePurchase resumes a purchase that was suspended on payment method setup
	CompletePurchase(ctx context.Context, req *dto.CompleteSetupRequest) (*dto.AddonResponse, error)
	Cancel(ctx context.Context, req *dto.CancelAddonRequest) (*dto.AddonResponse, error)
}

// PruneResult lists addon names canceled by a prune and those still active
type PruneResult struct {
	Subscription *subscription.Subscription
	Removed      []string
	Remaining    []string
}

type addonService struct {
	ServiceParams
	store   *recordStore
	setup   *paymentSetup
	entsync EntitlementSyncService
}

func NewAddonService(params ServiceParams) AddonService {
	return &addonService{
		ServiceParams: params,
		store:         newRecordStore(params),
		setup:         newPaymentSetup(params),
		entsync:       NewEntitlementSyncService(params),
	}
}

func (s *addonService) PruneIncompatible(ctx context.Context, sub *subscription.Subscription, plan string) (*PruneResult, error) {
	prune := s.pruneFor(ctx, sub, plan)
	if len(prune.removed) == 0 {
		return &PruneResult{
			Subscription: sub,
			Removed:      []string{},
			Remaining:    prune.remaining,
		}, nil
	}

	saved, err := s.store.update(ctx, sub, prune.apply)
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("pruned incompatible addons",
		"user_id", sub.UserID,
		"plan", plan,
		"removed", prune.removed,
	)
	return &PruneResult{
		Subscription: saved,
		Removed:      prune.removed,
		Remaining:    saved.ActiveAddonNames(),
	}, nil
}

// addonPrune is a prune whose billing side already ran. apply cancels the
// pruned addons on the record and is meant to run inside the caller's save.
type addonPrune struct {
	removed   []string
	remaining []string
	apply     mutation
}

// pruneFor removes the billing items of active addons not available for
// plan, best effort, and returns the names removed and kept
func (s *addonService) pruneFor(ctx context.Context, sub *subscription.Subscription, plan string) *addonPrune {
	prune := &addonPrune{
		removed:   []string{},
		remaining: []string{},
		apply:     cancelUnavailableAddons(s.Catalog, plan),
	}
	for _, addon := range sub.ActiveAddOns {
		if addon.Status != types.AddonStatusActive {
			continue
		}
		if s.Catalog.IsAddonAvailable(addon.Name, plan) {
			prune.remaining = append(prune.remaining, addon.Name)
			continue
		}
		if addon.BillingItemRef != "" {
			if err := s.PaymentGateway.RemoveSubscriptionItem(ctx, addon.BillingItemRef); err != nil {
				s.Logger.Warnw("failed to remove billing item of incompatible addon",
					"user_id", sub.UserID,
					"addon", addon.Name,
					"item_ref", addon.BillingItemRef,
					"error", err,
				)
			}
		}
		prune.removed = append(prune.removed, addon.Name)
	}
	return prune
}

// cancelUnavailableAddons marks every active addon not available for plan as canceled
func cancelUnavailableAddons(cat *catalog.Catalog, plan string) mutation {
	return func(sub *subscription.Subscription) bool {
		changed := false
		for _, addon := range sub.ActiveAddOns {
			if addon.Status == types.AddonStatusActive && !cat.IsAddonAvailable(addon.Name, plan) {
				addon.Status = types.AddonStatusCanceled
				changed = true
			}
		}
		return changed
	}
}

func (s *addonService) Purchase(ctx context.Context, req *dto.PurchaseAddonRequest) (*dto.AddonResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	addon, ok := s.Catalog.Addon(req.AddonName)
	if !ok {
		return nil, subscription.NewInvalidAddonError(req.AddonName)
	}

	sub, err := s.SubRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPurchasable(sub, addon); err != nil {
		return nil, err
	}

	chargeable, err := s.setup.ensureChargeable(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !chargeable {
		setup, err := s.setup.begin(ctx, sub, types.SetupPurposeAddonPurchase, map[string]string{
			types.MetadataKeyAddonName: addon.Name,
		})
		if err != nil {
			return nil, err
		}
		return &dto.AddonResponse{
			AddonName:             addon.Name,
			PaymentMethodRequired: true,
			Setup:                 setup,
			Subscription:          dto.NewSubscriptionResponse(sub),
		}, nil
	}

	return s.applyPurchase(ctx, sub, addon)
}

func (s *addonService) CompletePurchase(ctx context.Context, req *dto.CompleteSetupRequest) (*dto.AddonResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	metadata, sub, err := s.setup.resume(ctx, req.UserID, req.SetupRef, types.SetupPurposeAddonPurchase, types.MetadataKeyAddonName)
	if err != nil {
		return nil, err
	}

	name := metadata[types.MetadataKeyAddonName]
	addon, ok := s.Catalog.Addon(name)
	if !ok {
		return nil, subscription.NewInvalidAddonError(name)
	}
	if err := s.checkPurchasable(sub, addon); err != nil {
		return nil, err
	}
	return s.applyPurchase(ctx, sub, addon)
}

func (s *addonService) checkPurchasable(sub *subscription.Subscription, addon *catalog.Addon) error {
	if !sub.IsActive() {
		return ierr.NewError("subscription is not active").
			WithHintf("Addons require an active subscription, current status is %s", sub.Status).
			WithReportableDetails(map[string]any{"status": sub.Status}).
			Mark(subscription.ErrNotActive)
	}
	if !addon.IsAvailableFor(sub.PlanType) {
		return ierr.NewError("addon not available for plan").
			WithHintf("%s is not available on the %s plan", addon.Name, sub.PlanType).
			WithReportableDetails(map[string]any{
				"addon": addon.Name,
				"plan":  sub.PlanType,
			}).
			Mark(subscription.ErrAddonNotAvailable)
	}
	if _, ok := sub.ActiveAddon(addon.Name); ok {
		return ierr.NewError("addon already active").
			WithHintf("%s is already active", addon.Name).
			WithReportableDetails(map[string]any{"addon": addon.Name}).
			Mark(subscription.ErrAddonAlreadyActive)
	}
	if !sub.HasBillingSubscription() {
		return ierr.NewError("no billing subscription").
			WithHint("Subscribe to a plan before purchasing addons").
			Mark(subscription.ErrNoStripeSubscription)
	}
	return nil
}

func (s *addonService) applyPurchase(ctx context.Context, sub *subscription.Subscription, addon *catalog.Addon) (*dto.AddonResponse, error) {
	itemRef, err := s.PaymentGateway.AddSubscriptionItem(ctx, sub.BillingSubscriptionRef, addon.PriceRef)
	if err != nil {
		return nil, err
	}

	purchasedAt := time.Now().UTC()
	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		if _, ok := sub.ActiveAddon(addon.Name); ok {
			return false
		}
		sub.ActiveAddOns = append(sub.ActiveAddOns, &subscription.AddOn{
			Name:           addon.Name,
			BillingItemRef: itemRef,
			PurchasedAt:    purchasedAt,
			Status:         types.AddonStatusActive,
		})
		return true
	})
	if err != nil {
		s.Logger.Errorw("addon billed but not saved",
			"user_id", sub.UserID,
			"addon", addon.Name,
			"item_ref", itemRef,
			"error", err,
		)
		return nil, err
	}

	s.Logger.Infow("addon purchased",
		"user_id", saved.UserID,
		"addon", addon.Name,
		"item_ref", itemRef,
	)
	s.entsync.Update(ctx, saved)

	return &dto.AddonResponse{
		AddonName:    addon.Name,
		Status:       types.AddonStatusActive,
		Subscription: dto.NewSubscriptionResponse(saved),
	}, nil
}

func (s *addonService) Cancel(ctx context.Context, req *dto.CancelAddonRequest) (*dto.AddonResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	active, ok := sub.ActiveAddon(req.AddonName)
	if !ok {
		known := lo.ContainsBy(sub.ActiveAddOns, func(a *subscription.AddOn) bool { return a.Name == req.AddonName })
		if !known {
			return nil, ierr.NewError("addon not found").
				WithHintf("%s was never purchased", req.AddonName).
				WithReportableDetails(map[string]any{"addon": req.AddonName}).
				Mark(subscription.ErrAddonNotFound)
		}
		return nil, ierr.NewError("addon not active").
			WithHintf("%s is not active", req.AddonName).
			WithReportableDetails(map[string]any{"addon": req.AddonName}).
			Mark(subscription.ErrAddonNotActive)
	}

	if active.BillingItemRef != "" {
		if err := s.PaymentGateway.RemoveSubscriptionItem(ctx, active.BillingItemRef); err != nil {
			s.Logger.Warnw("failed to remove addon billing item",
				"user_id", sub.UserID,
				"addon", req.AddonName,
				"item_ref", active.BillingItemRef,
				"error", err,
			)
		}
	}

	saved, err := s.store.update(ctx, sub, func(sub *subscription.Subscription) bool {
		changed := false
		for _, a := range sub.ActiveAddOns {
			if a.Name == req.AddonName && a.Status == types.AddonStatusActive {
				a.Status = types.AddonStatusCanceled
				changed = true
			}
		}
		return changed
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("addon canceled", "user_id", saved.UserID, "addon", req.AddonName)
	s.entsync.Update(ctx, saved)

	return &dto.AddonResponse{
		AddonName:    req.AddonName,
		Status:       types.AddonStatusCanceled,
		Subscription: dto.NewSubscriptionResponse(saved),
	}, nil
}
