package dto

import (
	"time"

	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/flexprice/plancore/internal/validator"
)

// StartCheckoutRequest selects the first plan for a user
type StartCheckoutRequest struct {
	UserID   string `json:"-" validate:"required"`
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Plan     string `json:"plan" validate:"required"`
}

func (r *StartCheckoutRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CheckoutResponse carries the hosted checkout to redirect to, or the
// provisioned subscription when the free plan was selected
type CheckoutResponse struct {
	Plan         string                   `json:"plan"`
	Status       types.SubscriptionStatus `json:"status"`
	CheckoutRef  string                   `json:"checkout_ref,omitempty"`
	CheckoutURL  string                   `json:"checkout_url,omitempty"`
	Subscription *SubscriptionResponse    `json:"subscription,omitempty"`
}

// PlanChangeRequest asks for the user's plan to become TargetPlan
type PlanChangeRequest struct {
	UserID     string `json:"-" validate:"required"`
	TargetPlan string `json:"target_plan" validate:"required"`

	// ProrationPreference applies to immediate upgrades, defaults to always_invoice
	ProrationPreference types.ProrationPreference `json:"proration_preference"`
}

func (r *PlanChangeRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.ProrationPreference == "" {
		r.ProrationPreference = types.ProrationPreferenceAlwaysInvoice
	}
	if err := r.ProrationPreference.Validate(); err != nil {
		return ierr.WithError(err).
			WithHint("Proration preference must be one of auto_prorate, none or always_invoice").
			WithReportableDetails(map[string]any{
				"proration_preference": r.ProrationPreference,
			}).
			Mark(subscription.ErrInvalidProration)
	}
	return nil
}

// CompleteSetupRequest resumes an operation suspended on payment method setup
type CompleteSetupRequest struct {
	UserID   string `json:"-" validate:"required"`
	SetupRef string `json:"setup_ref" validate:"required"`
}

func (r *CompleteSetupRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// SetupRequiredResponse is returned when a payment method must be collected first
type SetupRequiredResponse struct {
	SetupRef string `json:"setup_ref"`
	SetupURL string `json:"setup_url"`
}

// PlanChangeResponse describes the outcome of a plan change
type PlanChangeResponse struct {
	Type types.PlanChangeType `json:"type"`

	// EffectiveDate is set for downgrades, which apply at period end
	EffectiveDate *time.Time `json:"effective_date,omitempty"`

	// Setup is set when Type is payment_method_required
	Setup *SetupRequiredResponse `json:"setup,omitempty"`

	Subscription *SubscriptionResponse `json:"subscription"`
}

// PendingChangeResponse hides the schedule ref of a pending downgrade
type PendingChangeResponse struct {
	TargetPlan    string    `json:"target_plan"`
	EffectiveDate time.Time `json:"effective_date"`
}

// SubscriptionResponse is the read view of a subscription record
type SubscriptionResponse struct {
	UserID             string                   `json:"user_id"`
	PlanType           string                   `json:"plan_type"`
	Status             types.SubscriptionStatus `json:"status"`
	IsActive           bool                     `json:"is_active"`
	CurrentPeriodStart *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	PendingChange      *PendingChangeResponse   `json:"pending_change,omitempty"`
	ActiveAddOns       []string                 `json:"active_add_ons"`
}

// NewSubscriptionResponse builds the read view of sub
func NewSubscriptionResponse(sub *subscription.Subscription) *SubscriptionResponse {
	if sub == nil {
		return nil
	}
	resp := &SubscriptionResponse{
		UserID:             sub.UserID,
		PlanType:           sub.PlanType,
		Status:             sub.Status,
		IsActive:           sub.IsActive(),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		ActiveAddOns:       sub.ActiveAddonNames(),
	}
	if sub.PendingChange != nil {
		resp.PendingChange = &PendingChangeResponse{
			TargetPlan:    sub.PendingChange.TargetPlan,
			EffectiveDate: sub.PendingChange.EffectiveDate,
		}
	}
	if resp.ActiveAddOns == nil {
		resp.ActiveAddOns = []string{}
	}
	return resp
}
