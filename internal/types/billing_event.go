package types

// BillingEventType is a processor webhook event type this service reacts to
type BillingEventType string

const (
	BillingEventCheckoutCompleted       BillingEventType = "checkout.session.completed"
	BillingEventSubscriptionCreated     BillingEventType = "customer.subscription.created"
	BillingEventSubscriptionUpdated     BillingEventType = "customer.subscription.updated"
	BillingEventSubscriptionDeleted     BillingEventType = "customer.subscription.deleted"
	BillingEventInvoicePaymentSucceeded BillingEventType = "invoice.payment_succeeded"
	BillingEventInvoicePaymentFailed    BillingEventType = "invoice.payment_failed"
	BillingEventScheduleCompleted       BillingEventType = "subscription_schedule.completed"
	BillingEventScheduleReleased        BillingEventType = "subscription_schedule.released"
)

func (t BillingEventType) String() string {
	return string(t)
}

// CheckoutMode distinguishes subscription checkouts from payment method setups
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModeSetup        CheckoutMode = "setup"
	CheckoutModePayment      CheckoutMode = "payment"
)
