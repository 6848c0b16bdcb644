package stripe

import (
	"encoding/json"
	"time"

	"github.com/flexprice/plancore/internal/domain/billing"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// invoicePayload reads the subscription link from both the legacy top level
// field and the parent details used by newer API versions
type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// VerifyAndParseWebhook checks the Stripe signature and normalizes the event.
// Event types this service does not handle are returned without a payload.
func (g *Gateway) VerifyAndParseWebhook(payload []byte, signature, secret string) (*billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		g.logger.Warnw("stripe webhook verification failed", "error", err)
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	out := &billing.Event{
		ID:      event.ID,
		Type:    types.BillingEventType(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}
	raw := event.Data.Raw

	switch out.Type {
	case types.BillingEventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, payloadError(err, event.ID, out.Type)
		}
		out.CheckoutSession = toCheckoutSession(&session)

	case types.BillingEventSubscriptionCreated,
		types.BillingEventSubscriptionUpdated,
		types.BillingEventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, payloadError(err, event.ID, out.Type)
		}
		out.Subscription = g.toSubscription(&sub)

	case types.BillingEventInvoicePaymentSucceeded,
		types.BillingEventInvoicePaymentFailed:
		var inv invoicePayload
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, payloadError(err, event.ID, out.Type)
		}
		out.Invoice = &billing.Invoice{
			Ref:             inv.ID,
			CustomerRef:     inv.Customer,
			SubscriptionRef: inv.Subscription,
		}
		if out.Invoice.SubscriptionRef == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			out.Invoice.SubscriptionRef = inv.Parent.SubscriptionDetails.Subscription
		}

	case types.BillingEventScheduleCompleted,
		types.BillingEventScheduleReleased:
		var sched stripe.SubscriptionSchedule
		if err := json.Unmarshal(raw, &sched); err != nil {
			return nil, payloadError(err, event.ID, out.Type)
		}
		out.Schedule = toSchedule(&sched)
	}

	return out, nil
}

// toSchedule maps a schedule event. Stripe sends the linked subscriptions
// unexpanded, as bare ids.
func toSchedule(sched *stripe.SubscriptionSchedule) *billing.Schedule {
	out := &billing.Schedule{
		Ref:    sched.ID,
		Status: string(sched.Status),
	}
	if sched.Subscription != nil {
		out.SubscriptionRef = sched.Subscription.ID
	}
	if sched.ReleasedSubscription != nil {
		out.ReleasedSubscriptionRef = sched.ReleasedSubscription.ID
	}
	return out
}

func payloadError(err error, eventID string, eventType types.BillingEventType) error {
	return ierr.WithError(err).
		WithHint("Malformed webhook payload").
		WithReportableDetails(map[string]any{
			"event_id":   eventID,
			"event_type": eventType,
		}).
		Mark(ierr.ErrValidation)
}
