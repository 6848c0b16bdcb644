package stripe

import (
	"context"
	"errors"

	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// GetOrCreateCustomer returns a live Stripe customer for the user. An existing
// ref is reused unless Stripe reports it missing or deleted, then customers
// tagged with the user id are searched before a new one is created.
func (g *Gateway) GetOrCreateCustomer(ctx context.Context, req *billing.CustomerRequest) (string, error) {
	sc, err := g.api()
	if err != nil {
		return "", err
	}

	if req.ExistingRef != "" {
		cust, err := sc.V1Customers.Retrieve(ctx, req.ExistingRef, nil)
		switch {
		case err == nil && !cust.Deleted:
			return cust.ID, nil
		case err != nil && !isResourceMissing(err):
			return "", apiError(err, "Unable to retrieve Stripe customer", map[string]any{
				"customer_ref": req.ExistingRef,
			})
		}
		g.logger.Warnw("stored stripe customer is gone, resolving a new one",
			"user_id", req.UserID,
			"customer_ref", req.ExistingRef,
		)
	}

	params := &stripe.CustomerSearchParams{}
	params.Query = "metadata['" + types.MetadataKeyUserID + "']:'" + req.UserID + "'"
	params.Limit = stripe.Int64(1)
	for cust, err := range sc.V1Customers.Search(ctx, params) {
		if err != nil {
			// search is best effort; fall through to create
			g.logger.Warnw("stripe customer search failed", "user_id", req.UserID, "error", err)
			break
		}
		if !cust.Deleted {
			return cust.ID, nil
		}
	}

	cust, err := sc.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Name:  stripe.String(req.Username),
		Email: stripe.String(req.Email),
		Metadata: map[string]string{
			types.MetadataKeyUserID:   req.UserID,
			types.MetadataKeyUsername: req.Username,
		},
	})
	if err != nil {
		return "", apiError(err, "Unable to create Stripe customer", map[string]any{
			"user_id": req.UserID,
		})
	}

	g.logger.Infow("created stripe customer", "user_id", req.UserID, "customer_ref", cust.ID)
	return cust.ID, nil
}

// HasChargeableMethod reports whether invoices for the customer can be charged
func (g *Gateway) HasChargeableMethod(ctx context.Context, customerRef string) (bool, error) {
	sc, err := g.api()
	if err != nil {
		return false, err
	}

	cust, err := sc.V1Customers.Retrieve(ctx, customerRef, nil)
	if err != nil {
		return false, apiError(err, "Unable to retrieve Stripe customer", map[string]any{
			"customer_ref": customerRef,
		})
	}
	return cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil, nil
}

func (g *Gateway) ListAttachableMethods(ctx context.Context, customerRef string) ([]string, error) {
	sc, err := g.api()
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String("card"),
	}

	var refs []string
	for pm, err := range sc.V1PaymentMethods.List(ctx, params) {
		if err != nil {
			return nil, apiError(err, "Unable to list payment methods", map[string]any{
				"customer_ref": customerRef,
			})
		}
		refs = append(refs, pm.ID)
	}
	return refs, nil
}

func (g *Gateway) SetDefaultMethod(ctx context.Context, customerRef, methodRef string) error {
	sc, err := g.api()
	if err != nil {
		return err
	}

	_, err = sc.V1Customers.Update(ctx, customerRef, &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(methodRef),
		},
	})
	if err != nil {
		return apiError(err, "Unable to set default payment method", map[string]any{
			"customer_ref":       customerRef,
			"payment_method_ref": methodRef,
		})
	}
	return nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}
