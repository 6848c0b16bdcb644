package service

import (
	"context"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/samber/lo"
)

// paymentSetup handles operations that need a chargeable payment method:
// promoting an attached method, suspending on a hosted setup session and
// resuming once the setup is complete.
type paymentSetup struct {
	ServiceParams
}

func newPaymentSetup(params ServiceParams) *paymentSetup {
	return &paymentSetup{ServiceParams: params}
}

// ensureChargeable reports whether the customer can be charged, promoting an
// attached payment method to default when none is set
func (p *paymentSetup) ensureChargeable(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	ok, err := p.PaymentGateway.HasChargeableMethod(ctx, sub.BillingCustomerRef)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	methods, err := p.PaymentGateway.ListAttachableMethods(ctx, sub.BillingCustomerRef)
	if err != nil {
		return false, err
	}
	if len(methods) == 0 {
		return false, nil
	}

	if err := p.PaymentGateway.SetDefaultMethod(ctx, sub.BillingCustomerRef, methods[0]); err != nil {
		return false, err
	}
	p.Logger.Infow("promoted attached payment method to default",
		"user_id", sub.UserID,
		"customer_ref", sub.BillingCustomerRef,
		"payment_method_ref", methods[0],
	)
	return true, nil
}

// begin creates a setup session whose metadata records the suspended operation
func (p *paymentSetup) begin(ctx context.Context, sub *subscription.Subscription, purpose types.SetupPurpose, metadata map[string]string) (*dto.SetupRequiredResponse, error) {
	md := lo.Assign(map[string]string{
		types.MetadataKeyUserID:  sub.UserID,
		types.MetadataKeyPurpose: string(purpose),
	}, metadata)

	session, err := p.PaymentGateway.CreateSetupSession(ctx, &billing.SetupRequest{
		CustomerRef: sub.BillingCustomerRef,
		Metadata:    md,
	})
	if err != nil {
		return nil, err
	}

	p.Logger.Infow("payment method required, awaiting setup",
		"user_id", sub.UserID,
		"purpose", purpose,
		"setup_ref", session.Ref,
	)
	return &dto.SetupRequiredResponse{
		SetupRef: session.Ref,
		SetupURL: session.URL,
	}, nil
}

// resume validates a completed setup session for userID, checks it was
// started for purpose and carries requiredKey, then makes its payment method
// the default. Returns the session metadata and the user's record.
func (p *paymentSetup) resume(ctx context.Context, userID, setupRef string, purpose types.SetupPurpose, requiredKey string) (map[string]string, *subscription.Subscription, error) {
	session, err := p.PaymentGateway.GetSetupSession(ctx, setupRef)
	if err != nil {
		return nil, nil, err
	}

	if !session.Complete {
		return nil, nil, ierr.NewError("setup session is not complete").
			WithHint("Finish adding a payment method before continuing").
			WithReportableDetails(map[string]any{"setup_ref": setupRef}).
			Mark(subscription.ErrSetupNotComplete)
	}
	if session.PaymentMethodRef == "" {
		return nil, nil, ierr.NewError("setup session has no payment method").
			WithHint("No payment method was collected").
			WithReportableDetails(map[string]any{"setup_ref": setupRef}).
			Mark(subscription.ErrNoPaymentMethod)
	}
	if owner := session.Metadata[types.MetadataKeyUserID]; owner != "" && owner != userID {
		return nil, nil, ierr.NewError("setup session belongs to another user").
			WithHint("This setup session cannot be used").
			Mark(ierr.ErrPermissionDenied)
	}
	if session.Metadata[types.MetadataKeyPurpose] != string(purpose) || session.Metadata[requiredKey] == "" {
		return nil, nil, ierr.NewError("no pending operation recorded for setup").
			WithHint("This setup session was not started for this operation").
			WithReportableDetails(map[string]any{
				"setup_ref": setupRef,
				"purpose":   purpose,
			}).
			Mark(subscription.ErrNoPendingUpgrade)
	}

	sub, err := p.SubRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	customerRef := lo.CoalesceOrEmpty(session.CustomerRef, sub.BillingCustomerRef)
	if err := p.PaymentGateway.SetDefaultMethod(ctx, customerRef, session.PaymentMethodRef); err != nil {
		return nil, nil, err
	}
	return session.Metadata, sub, nil
}
