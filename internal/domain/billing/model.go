package billing

import (
	"time"

	"github.com/flexprice/plancore/internal/types"
)

// Subscription is the processor's view of a recurring subscription
type Subscription struct {
	Ref         string
	CustomerRef string
	Status      types.SubscriptionStatus
	// PriceRef is the price of the plan item, empty when no item maps to a plan
	PriceRef           string
	Items              []SubscriptionItem
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	ScheduleRef        string
	Metadata           map[string]string
}

// IsCanceled reports whether the processor subscription can no longer be updated
func (s *Subscription) IsCanceled() bool {
	return s.Status == types.SubscriptionStatusCanceled
}

// ItemForPrice returns the item billed at priceRef, if any
func (s *Subscription) ItemForPrice(priceRef string) (SubscriptionItem, bool) {
	for _, item := range s.Items {
		if item.PriceRef == priceRef {
			return item, true
		}
	}
	return SubscriptionItem{}, false
}

type SubscriptionItem struct {
	Ref      string
	PriceRef string
}

// SetupSession is a hosted flow that collects a payment method without charging it.
// Its Ref is the setup handle returned to callers.
type SetupSession struct {
	Ref              string
	URL              string
	Complete         bool
	CustomerRef      string
	PaymentMethodRef string
	Metadata         map[string]string
}

// CheckoutSession is a hosted subscription checkout
type CheckoutSession struct {
	Ref               string
	URL               string
	Mode              types.CheckoutMode
	Complete          bool
	CustomerRef       string
	SubscriptionRef   string
	ClientReferenceID string
	Metadata          map[string]string
}

type Invoice struct {
	Ref             string
	CustomerRef     string
	SubscriptionRef string
}

type Schedule struct {
	Ref                     string
	SubscriptionRef         string
	ReleasedSubscriptionRef string
	Status                  string
}

// Event is a verified processor webhook normalized to the fields reconciliation needs.
// Exactly one payload pointer is set for supported types.
type Event struct {
	ID              string
	Type            types.BillingEventType
	Created         time.Time
	Subscription    *Subscription
	CheckoutSession *CheckoutSession
	Invoice         *Invoice
	Schedule        *Schedule
}

type CustomerRequest struct {
	UserID   string
	Username string
	Email    string
	// ExistingRef is reused when still valid at the processor
	ExistingRef string
}

type CheckoutRequest struct {
	CustomerRef string
	PriceRef    string
	UserID      string
	Metadata    map[string]string
}

type SetupRequest struct {
	CustomerRef string
	Metadata    map[string]string
}

type CreateSubscriptionRequest struct {
	CustomerRef string
	// PriceRefs lists the plan price first, then addon prices
	PriceRefs      []string
	Metadata       map[string]string
	IdempotencyKey string
}
