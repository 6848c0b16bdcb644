package service

import (
	"context"

	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/panics"
)

// UserDeletionService removes everything held for a deleted user
type UserDeletionService interface {
	// HandleUserEvent dispatches an inbound user lifecycle event
	HandleUserEvent(ctx context.Context, event *types.UserEvent) error
	// DeleteUser cancels and deletes every record of the user and removes
	// their entitlements. Each record is handled independently; the
	// returned error aggregates the records that could not be deleted and
	// is marked subscription.ErrDeletionIncomplete; running the deletion
	// again would repeat the entitlement removal.
	DeleteUser(ctx context.Context, userID string) error
}

type userDeletionService struct {
	ServiceParams
	entsync EntitlementSyncService
}

func NewUserDeletionService(params ServiceParams) UserDeletionService {
	return &userDeletionService{
		ServiceParams: params,
		entsync:       NewEntitlementSyncService(params),
	}
}

func (s *userDeletionService) HandleUserEvent(ctx context.Context, event *types.UserEvent) error {
	switch event.Type {
	case types.UserEventDeleted:
		return s.DeleteUser(ctx, event.UserID)
	default:
		s.Logger.Debugw("ignoring user event", "event_id", event.ID, "event_type", event.Type)
		return nil
	}
}

func (s *userDeletionService) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ierr.NewError("user id is required").
			WithHint("User deletion events must carry a user id").
			Mark(ierr.ErrValidation)
	}

	subs, err := s.SubRepo.ListByUserID(ctx, userID)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, sub := range subs {
		var catcher panics.Catcher
		catcher.Try(func() {
			if err := s.deleteRecord(ctx, sub); err != nil {
				result = multierror.Append(result, err)
			}
		})
		if r := catcher.Recovered(); r != nil {
			s.Logger.Errorw("panic while deleting subscription record",
				"user_id", userID,
				"subscription_id", sub.ID,
				"panic", r.Value,
			)
			result = multierror.Append(result, r.AsError())
		}
	}

	s.entsync.Delete(ctx, userID)

	if err := result.ErrorOrNil(); err != nil {
		s.Sentry.CaptureExceptionWithTags(err, map[string]string{"user_id": userID})
		return ierr.WithError(err).
			WithMessagef("failed to delete %d subscription record(s)", len(result.Errors)).
			WithReportableDetails(map[string]any{"user_id": userID}).
			Mark(subscription.ErrDeletionIncomplete)
	}

	s.Logger.Infow("deleted user subscriptions", "user_id", userID, "records", len(subs))
	return nil
}

// deleteRecord cancels the processor subscription, best effort, then deletes the record
func (s *userDeletionService) deleteRecord(ctx context.Context, sub *subscription.Subscription) error {
	if sub.HasBillingSubscription() && sub.Status != types.SubscriptionStatusCanceled {
		if err := s.PaymentGateway.CancelSubscription(ctx, sub.BillingSubscriptionRef, false); err != nil {
			s.Logger.Warnw("failed to cancel processor subscription for deleted user",
				"user_id", sub.UserID,
				"subscription_ref", sub.BillingSubscriptionRef,
				"error", err,
			)
		}
	}

	if err := s.SubRepo.Delete(ctx, sub.ID); err != nil {
		s.Logger.Errorw("failed to delete subscription record",
			"user_id", sub.UserID,
			"subscription_id", sub.ID,
			"error", err,
		)
		return err
	}
	return nil
}
