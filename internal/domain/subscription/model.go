package subscription

import (
	"time"

	"github.com/flexprice/plancore/internal/types"
	"github.com/samber/lo"
)

// Subscription is the locally authoritative record of a user's plan and addons.
// There is at most one per user.
type Subscription struct {
	// ID is the unique identifier for the subscription record
	ID string `db:"id" json:"id"`

	// UserID, Username and Email identify the owner and never change after creation
	UserID   string `db:"user_id" json:"user_id"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`

	// BillingCustomerRef is the customer id at the payment processor
	BillingCustomerRef string `db:"billing_customer_ref" json:"billing_customer_ref"`

	// BillingSubscriptionRef is the subscription id at the payment processor, unique when set
	BillingSubscriptionRef string `db:"billing_subscription_ref" json:"billing_subscription_ref"`

	// BillingPriceRef is the processor price backing PlanType
	BillingPriceRef string `db:"billing_price_ref" json:"billing_price_ref"`

	Status types.SubscriptionStatus `db:"status" json:"status"`

	// PlanType is a catalog plan name
	PlanType string `db:"plan_type" json:"plan_type"`

	ActiveAddOns []*AddOn `db:"-" json:"active_add_ons"`

	CurrentPeriodStart *time.Time `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CanceledAt         *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`

	// PendingChange is set only while a downgrade is scheduled at the processor
	PendingChange *PendingChange `db:"-" json:"pending_change,omitempty"`

	// Version is incremented by every successful write and checked on update
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AddOn is one purchased addon on a subscription
type AddOn struct {
	Name           string            `json:"name"`
	BillingItemRef string            `json:"billing_item_ref"`
	PurchasedAt    time.Time         `json:"purchased_at"`
	Status         types.AddonStatus `json:"status"`
}

// PendingChange describes a downgrade waiting for the processor schedule to run
type PendingChange struct {
	TargetPlan    string    `json:"target_plan"`
	EffectiveDate time.Time `json:"effective_date"`
	ScheduleRef   string    `json:"schedule_ref"`
}

// IsActive reports whether the subscription currently grants paid access
func (s *Subscription) IsActive() bool {
	return s.Status.IsActive()
}

// HasBillingSubscription reports whether a processor subscription is attached
func (s *Subscription) HasBillingSubscription() bool {
	return s.BillingSubscriptionRef != ""
}

// ActiveAddon returns the active entry for name, if any
func (s *Subscription) ActiveAddon(name string) (*AddOn, bool) {
	return lo.Find(s.ActiveAddOns, func(a *AddOn) bool {
		return a.Name == name && a.Status == types.AddonStatusActive
	})
}

// ActiveAddonNames returns the names of all active addons in purchase order
func (s *Subscription) ActiveAddonNames() []string {
	return lo.FilterMap(s.ActiveAddOns, func(a *AddOn, _ int) (string, bool) {
		return a.Name, a.Status == types.AddonStatusActive
	})
}

// Clone returns a deep copy so callers can compare before/after states
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.ActiveAddOns = lo.Map(s.ActiveAddOns, func(a *AddOn, _ int) *AddOn {
		cp := *a
		return &cp
	})
	if s.PendingChange != nil {
		pc := *s.PendingChange
		c.PendingChange = &pc
	}
	c.CurrentPeriodStart = clonePtr(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = clonePtr(s.CurrentPeriodEnd)
	c.CanceledAt = clonePtr(s.CanceledAt)
	return &c
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
