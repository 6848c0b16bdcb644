package service

import (
	"context"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
)

// SubscriptionService owns the user's plan: first selection, reads and plan changes
type SubscriptionService interface {
	GetSubscription(ctx context.Context, userID string) (*dto.SubscriptionResponse, error)
	StartCheckout(ctx context.Context, req *dto.StartCheckoutRequest) (*dto.CheckoutResponse, error)

	// RequestPlanChange upgrades immediately or schedules a downgrade for period end.
	// An upgrade without a chargeable payment method suspends and returns a setup handle.
	RequestPlanChange(ctx context.Context, req *dto.PlanChangeRequest) (*dto.PlanChangeResponse, error)
	// CompleteUpgrade resumes a suspended upgrade once its setup session is complete
	CompleteUpgrade(ctx context.Context, req *dto.CompleteSetupRequest) (*dto.PlanChangeResponse, error)
}

type subscriptionService struct {
	ServiceParams
	store   *recordStore
	setup   *paymentSetup
	addons  *addonService
	entsync EntitlementSyncService
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		store:         newRecordStore(params),
		setup:         newPaymentSetup(params),
		addons:        NewAddonService(params).(*addonService),
		entsync:       NewEntitlementSyncService(params),
	}
}

func (s *subscriptionService) GetSubscription(ctx context.Context, userID string) (*dto.SubscriptionResponse, error) {
	if userID == "" {
		return nil, ierr.NewError("user id is required").
			WithHint("Please provide a user id").
			Mark(ierr.ErrValidation)
	}

	sub, err := s.SubRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

// StartCheckout records the user's first plan selection. The free plan is
// provisioned directly; paid plans return a hosted checkout and the record
// stays incomplete until the checkout-completed event arrives.
func (s *subscriptionService) StartCheckout(ctx context.Context, req *dto.StartCheckoutRequest) (*dto.CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	plan, ok := s.Catalog.Plan(req.Plan)
	if !ok {
		return nil, subscription.NewInvalidPlanError(req.Plan)
	}

	var existingCustomerRef string
	existing, err := s.SubRepo.GetByUserID(ctx, req.UserID)
	switch {
	case err == nil:
		if existing.IsActive() && existing.HasBillingSubscription() {
			return nil, ierr.NewError("user already subscribed").
				WithHintf("You already have an active %s subscription, use a plan change instead", existing.PlanType).
				WithReportableDetails(map[string]any{
					"user_id":   req.UserID,
					"plan_type": existing.PlanType,
				}).
				Mark(subscription.ErrAlreadySubscribed)
		}
		existingCustomerRef = existing.BillingCustomerRef
	case !ierr.IsNotFound(err):
		return nil, err
	}

	customerRef, err := s.PaymentGateway.GetOrCreateCustomer(ctx, &billing.CustomerRequest{
		UserID:      req.UserID,
		Username:    req.Username,
		Email:       req.Email,
		ExistingRef: existingCustomerRef,
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		types.MetadataKeyUserID:   req.UserID,
		types.MetadataKeyUsername: req.Username,
		types.MetadataKeyEmail:    req.Email,
	}
	seed := &subscription.Subscription{
		UserID:             req.UserID,
		Username:           req.Username,
		Email:              req.Email,
		BillingCustomerRef: customerRef,
		Status:             types.SubscriptionStatusIncomplete,
		PlanType:           s.Catalog.FreePlan().Name,
	}

	if plan.Name == s.Catalog.FreePlan().Name {
		bsub, err := s.PaymentGateway.CreateSubscription(ctx, &billing.CreateSubscriptionRequest{
			CustomerRef: customerRef,
			PriceRefs:   []string{plan.PriceRef},
			Metadata:    metadata,
		})
		if err != nil {
			return nil, err
		}

		saved, err := s.store.upsert(ctx, seed, func(sub *subscription.Subscription) bool {
			applyBillingState(sub, bsub)
			sub.BillingCustomerRef = customerRef
			sub.BillingPriceRef = plan.PriceRef
			sub.PlanType = plan.Name
			sub.PendingChange = nil
			return true
		})
		if err != nil {
			return nil, err
		}

		s.entsync.Upsert(ctx, saved)
		return &dto.CheckoutResponse{
			Plan:         plan.Name,
			Status:       saved.Status,
			Subscription: dto.NewSubscriptionResponse(saved),
		}, nil
	}

	session, err := s.PaymentGateway.CreateCheckoutSession(ctx, &billing.CheckoutRequest{
		CustomerRef: customerRef,
		PriceRef:    plan.PriceRef,
		UserID:      req.UserID,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	saved, err := s.store.upsert(ctx, seed, func(sub *subscription.Subscription) bool {
		changed := sub.BillingCustomerRef != customerRef || sub.Status != types.SubscriptionStatusIncomplete
		sub.BillingCustomerRef = customerRef
		sub.Status = types.SubscriptionStatusIncomplete
		return changed
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("checkout started",
		"user_id", req.UserID,
		"plan", plan.Name,
		"checkout_ref", session.Ref,
	)
	return &dto.CheckoutResponse{
		Plan:         plan.Name,
		Status:       saved.Status,
		CheckoutRef:  session.Ref,
		CheckoutURL:  session.URL,
		Subscription: dto.NewSubscriptionResponse(saved),
	}, nil
}
