package subscription

import (
	ierr "github.com/flexprice/plancore/internal/errors"
)

// Error codes specific to the subscription domain
const (
	ErrCodeInvalidPlan           = "INVALID_PLAN"
	ErrCodeInvalidProration      = "INVALID_PRORATION"
	ErrCodeSamePlan              = "SAME_PLAN"
	ErrCodeNotFound              = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeAlreadySubscribed     = "ALREADY_SUBSCRIBED"
	ErrCodeNoBillingSubscription = "NO_BILLING_SUBSCRIPTION"
	ErrCodeSetupNotComplete      = "SETUP_NOT_COMPLETE"
	ErrCodeNoPaymentMethod       = "NO_PAYMENT_METHOD"
	ErrCodeNoPendingUpgrade      = "NO_PENDING_UPGRADE"
	ErrCodeInvalidAddon          = "INVALID_ADDON"
	ErrCodeNotActive             = "SUBSCRIPTION_NOT_ACTIVE"
	ErrCodeAddonNotAvailable     = "ADDON_NOT_AVAILABLE"
	ErrCodeAddonAlreadyActive    = "ADDON_ALREADY_ACTIVE"
	ErrCodeNoStripeSubscription  = "NO_STRIPE_SUBSCRIPTION"
	ErrCodeAddonNotFound         = "ADDON_NOT_FOUND"
	ErrCodeAddonNotActive        = "ADDON_NOT_ACTIVE"
	ErrCodeDeletionIncomplete    = "DELETION_INCOMPLETE"
)

// Subscription domain errors. Each carries its reporting category.
var (
	ErrInvalidPlan           = ierr.NewCode(ErrCodeInvalidPlan, "plan is not in the catalog", ierr.ErrValidation)
	ErrInvalidProration      = ierr.NewCode(ErrCodeInvalidProration, "unknown proration preference", ierr.ErrValidation)
	ErrSamePlan              = ierr.NewCode(ErrCodeSamePlan, "target plan is the current plan", ierr.ErrConflict)
	ErrNotFound              = ierr.NewCode(ErrCodeNotFound, "subscription not found", ierr.ErrNotFound)
	ErrAlreadySubscribed     = ierr.NewCode(ErrCodeAlreadySubscribed, "user already has an active subscription", ierr.ErrConflict)
	ErrNoBillingSubscription = ierr.NewCode(ErrCodeNoBillingSubscription, "no billing subscription", ierr.ErrNotFound)
	ErrSetupNotComplete      = ierr.NewCode(ErrCodeSetupNotComplete, "payment method setup is not complete", ierr.ErrInvalidOperation)
	ErrNoPaymentMethod       = ierr.NewCode(ErrCodeNoPaymentMethod, "setup did not produce a payment method", ierr.ErrInvalidOperation)
	ErrNoPendingUpgrade      = ierr.NewCode(ErrCodeNoPendingUpgrade, "no pending upgrade recorded for setup", ierr.ErrInvalidOperation)
	ErrInvalidAddon          = ierr.NewCode(ErrCodeInvalidAddon, "addon is not in the catalog", ierr.ErrValidation)
	ErrNotActive             = ierr.NewCode(ErrCodeNotActive, "subscription is not active", ierr.ErrInvalidOperation)
	ErrAddonNotAvailable     = ierr.NewCode(ErrCodeAddonNotAvailable, "addon is not available for the current plan", ierr.ErrInvalidOperation)
	ErrAddonAlreadyActive    = ierr.NewCode(ErrCodeAddonAlreadyActive, "addon is already active", ierr.ErrConflict)
	ErrNoStripeSubscription  = ierr.NewCode(ErrCodeNoStripeSubscription, "no processor subscription to attach the addon to", ierr.ErrNotFound)
	ErrAddonNotFound         = ierr.NewCode(ErrCodeAddonNotFound, "addon not found on subscription", ierr.ErrNotFound)
	ErrAddonNotActive        = ierr.NewCode(ErrCodeAddonNotActive, "addon is not active", ierr.ErrNotFound)

	// ErrDeletionIncomplete means a user deletion ran to the end, entitlement
	// removal included, but some records could not be deleted
	ErrDeletionIncomplete = ierr.NewCode(ErrCodeDeletionIncomplete, "some subscription records could not be deleted", ierr.ErrDatabase)
)

// NewNotFoundError creates a not found error for a user without a record
func NewNotFoundError(userID string) error {
	return ierr.NewError("subscription not found").
		WithHintf("No subscription found for user %s", userID).
		WithReportableDetails(map[string]any{
			"user_id": userID,
		}).
		Mark(ErrNotFound)
}

// NewSamePlanError is returned when a plan change targets the current plan
func NewSamePlanError(plan string) error {
	return ierr.NewError("target plan matches current plan").
		WithHintf("You are already on the %s plan", plan).
		WithReportableDetails(map[string]any{
			"plan": plan,
		}).
		Mark(ErrSamePlan)
}

// NewInvalidPlanError is returned for plan names missing from the catalog
func NewInvalidPlanError(plan string) error {
	return ierr.NewError("unknown plan").
		WithHintf("Plan %q does not exist", plan).
		WithReportableDetails(map[string]any{
			"plan": plan,
		}).
		Mark(ErrInvalidPlan)
}

// NewInvalidAddonError is returned for addon names missing from the catalog
func NewInvalidAddonError(addon string) error {
	return ierr.NewError("unknown addon").
		WithHintf("Addon %q does not exist", addon).
		WithReportableDetails(map[string]any{
			"addon": addon,
		}).
		Mark(ErrInvalidAddon)
}
