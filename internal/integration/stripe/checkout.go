package stripe

import (
	"context"

	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// CreateCheckoutSession creates a hosted subscription checkout for a plan price
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req *billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerRef),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(g.cfg.CheckoutSuccessURL),
		CancelURL:         stripe.String(g.cfg.CheckoutCancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: req.Metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}

	session, err := sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, apiError(err, "Unable to create Stripe checkout session", map[string]any{
			"customer_ref": req.CustomerRef,
			"price_ref":    req.PriceRef,
		})
	}
	return toCheckoutSession(session), nil
}

// CreateSetupSession creates a setup mode checkout that only collects a payment method
func (g *Gateway) CreateSetupSession(ctx context.Context, req *billing.SetupRequest) (*billing.SetupSession, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:   stripe.String(req.CustomerRef),
		Currency:   stripe.String("usd"), // Stripe requires a currency even in setup mode
		SuccessURL: stripe.String(g.cfg.SetupSuccessURL),
		CancelURL:  stripe.String(g.cfg.SetupCancelURL),
		Metadata:   req.Metadata,
		SetupIntentData: &stripe.CheckoutSessionCreateSetupIntentDataParams{
			Metadata: req.Metadata,
		},
	}

	session, err := sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, apiError(err, "Unable to create Stripe setup session", map[string]any{
			"customer_ref": req.CustomerRef,
		})
	}

	g.logger.Infow("created stripe setup session",
		"customer_ref", req.CustomerRef,
		"session_ref", session.ID,
		"purpose", req.Metadata[types.MetadataKeyPurpose],
	)
	return toSetupSession(session), nil
}

// GetSetupSession loads a setup session with its setup intent expanded
func (g *Gateway) GetSetupSession(ctx context.Context, ref string) (*billing.SetupSession, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionRetrieveParams{
		Expand: []*string{
			stripe.String("setup_intent"),
		},
	}
	session, err := sc.V1CheckoutSessions.Retrieve(ctx, ref, params)
	if err != nil {
		return nil, apiError(err, "Unable to retrieve Stripe setup session", map[string]any{
			"session_ref": ref,
		})
	}
	return toSetupSession(session), nil
}

func toSetupSession(s *stripe.CheckoutSession) *billing.SetupSession {
	out := &billing.SetupSession{
		Ref:      s.ID,
		URL:      s.URL,
		Complete: s.Status == stripe.CheckoutSessionStatusComplete,
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerRef = s.Customer.ID
	}
	if s.SetupIntent != nil && s.SetupIntent.PaymentMethod != nil {
		out.PaymentMethodRef = s.SetupIntent.PaymentMethod.ID
	}
	return out
}

func toCheckoutSession(s *stripe.CheckoutSession) *billing.CheckoutSession {
	out := &billing.CheckoutSession{
		Ref:               s.ID,
		URL:               s.URL,
		Mode:              types.CheckoutMode(s.Mode),
		Complete:          s.Status == stripe.CheckoutSessionStatusComplete,
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerRef = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionRef = s.Subscription.ID
	}
	return out
}
