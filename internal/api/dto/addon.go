package dto

import (
	"github.com/flexprice/plancore/internal/types"
	"github.com/flexprice/plancore/internal/validator"
)

// PurchaseAddonRequest adds an addon to the user's subscription
type PurchaseAddonRequest struct {
	UserID    string `json:"-" validate:"required"`
	AddonName string `json:"addon_name" validate:"required"`
}

func (r *PurchaseAddonRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CancelAddonRequest removes an active addon
type CancelAddonRequest struct {
	UserID    string `json:"-" validate:"required"`
	AddonName string `json:"-" validate:"required"`
}

func (r *CancelAddonRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// AddonResponse is the result of an addon purchase or cancellation
type AddonResponse struct {
	AddonName string            `json:"addon_name"`
	Status    types.AddonStatus `json:"status,omitempty"`

	// PaymentMethodRequired is set with Setup when the purchase is suspended
	PaymentMethodRequired bool                   `json:"payment_method_required"`
	Setup                 *SetupRequiredResponse `json:"setup,omitempty"`

	Subscription *SubscriptionResponse `json:"subscription"`
}
