package types

import (
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus mirrors the processor's subscription statuses
// https://stripe.com/docs/api/subscriptions/object#subscription_object-status
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsActive reports whether the status grants access to paid features
func (s SubscriptionStatus) IsActive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusIncomplete,
		SubscriptionStatusCanceled,
		SubscriptionStatusUnpaid,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NormalizeSubscriptionStatus maps processor statuses onto the local set.
// incomplete_expired collapses to canceled and paused to unpaid.
func NormalizeSubscriptionStatus(raw string) SubscriptionStatus {
	switch raw {
	case "incomplete_expired":
		return SubscriptionStatusCanceled
	case "paused":
		return SubscriptionStatusUnpaid
	}
	s := SubscriptionStatus(raw)
	if s.Validate() != nil {
		return SubscriptionStatusIncomplete
	}
	return s
}

// ProrationPreference is the caller's choice of proration for an immediate price change
type ProrationPreference string

const (
	ProrationPreferenceAutoProrate   ProrationPreference = "auto_prorate"
	ProrationPreferenceNone          ProrationPreference = "none"
	ProrationPreferenceAlwaysInvoice ProrationPreference = "always_invoice"
)

func (p ProrationPreference) String() string {
	return string(p)
}

func (p ProrationPreference) Validate() error {
	allowed := []ProrationPreference{
		ProrationPreferenceAutoProrate,
		ProrationPreferenceNone,
		ProrationPreferenceAlwaysInvoice,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid proration preference").
			WithHint("Proration preference must be one of auto_prorate, none or always_invoice").
			WithReportableDetails(map[string]any{
				"proration_preference": p,
				"allowed":              allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AddonStatus is the local lifecycle of a purchased addon
type AddonStatus string

const (
	AddonStatusActive   AddonStatus = "active"
	AddonStatusCanceled AddonStatus = "canceled"
	AddonStatusPending  AddonStatus = "pending"
)

// PlanChangeType classifies the outcome of a plan change request
type PlanChangeType string

const (
	PlanChangeTypeUpgrade               PlanChangeType = "upgrade"
	PlanChangeTypeNewSubscription       PlanChangeType = "new_subscription"
	PlanChangeTypeDowngrade             PlanChangeType = "downgrade"
	PlanChangeTypePaymentMethodRequired PlanChangeType = "payment_method_required"
)

// SetupPurpose is stored in setup session metadata so a resumed flow knows what to apply
type SetupPurpose string

const (
	SetupPurposePlanUpgrade   SetupPurpose = "plan_upgrade"
	SetupPurposeAddonPurchase SetupPurpose = "addon_purchase"
)

// Metadata keys written to processor objects
const (
	MetadataKeyUserID              = "user_id"
	MetadataKeyUsername            = "username"
	MetadataKeyEmail               = "email"
	MetadataKeyPurpose             = "purpose"
	MetadataKeyTargetPlan          = "target_plan"
	MetadataKeyProrationPreference = "proration_preference"
	MetadataKeyAddonName           = "addon_name"
)
