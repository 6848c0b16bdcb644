package billing

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/types"
)

// Gateway is the contract with the payment processor. Implementations are
// constructed once, opened at startup and closed at shutdown.
type Gateway interface {
	Open(ctx context.Context) error
	Close() error

	GetOrCreateCustomer(ctx context.Context, req *CustomerRequest) (string, error)
	// HasChargeableMethod reports whether the customer has a default payment method
	HasChargeableMethod(ctx context.Context, customerRef string) (bool, error)
	// ListAttachableMethods lists payment methods attached to the customer that could become default
	ListAttachableMethods(ctx context.Context, customerRef string) ([]string, error)
	SetDefaultMethod(ctx context.Context, customerRef, methodRef string) error

	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
	CreateSetupSession(ctx context.Context, req *SetupRequest) (*SetupSession, error)
	GetSetupSession(ctx context.Context, ref string) (*SetupSession, error)

	CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error)
	GetSubscription(ctx context.Context, ref string) (*Subscription, error)
	// UpdateSubscriptionPrice swaps the plan item's price immediately
	UpdateSubscriptionPrice(ctx context.Context, ref, newPriceRef string, mode types.ProrationPreference) (*Subscription, error)
	// ScheduleDeferredPriceChange keeps the current price until effectiveAt, then
	// bills newPriceRef for one iteration and releases the schedule. Returns the schedule ref.
	ScheduleDeferredPriceChange(ctx context.Context, ref, newPriceRef string, effectiveAt time.Time) (string, error)
	ReleaseSchedule(ctx context.Context, scheduleRef string) error
	CancelSubscription(ctx context.Context, ref string, atPeriodEnd bool) error
	AddSubscriptionItem(ctx context.Context, subscriptionRef, priceRef string) (string, error)
	RemoveSubscriptionItem(ctx context.Context, itemRef string) error

	PriceRefForPlan(plan string) (string, error)
	PlanNameForPrice(priceRef string) (string, bool)

	VerifyAndParseWebhook(payload []byte, signature, secret string) (*Event, error)
}
