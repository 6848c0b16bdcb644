package service

import (
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/types"
)

// planChangeAttempt tracks one plan change through its states. It is not
// persisted: a suspended attempt lives in the setup session metadata and a
// resumed one starts again from AwaitingPaymentSetup.
type planChangeAttempt struct {
	userID     string
	targetPlan string
	state      types.PlanChangeState
	logger     *logger.Logger
}

func newPlanChangeAttempt(log *logger.Logger, userID, targetPlan string, from types.PlanChangeState) *planChangeAttempt {
	return &planChangeAttempt{
		userID:     userID,
		targetPlan: targetPlan,
		state:      from,
		logger:     log,
	}
}

func (a *planChangeAttempt) transition(to types.PlanChangeState) error {
	if !a.state.CanTransition(to) {
		return ierr.NewError("illegal plan change transition").
			WithReportableDetails(map[string]any{
				"user_id": a.userID,
				"from":    a.state,
				"to":      to,
			}).
			Mark(ierr.ErrInternal)
	}
	a.logger.Debugw("plan change transition",
		"user_id", a.userID,
		"target_plan", a.targetPlan,
		"from", a.state,
		"to", to,
	)
	a.state = to
	return nil
}

// fail moves the attempt to Failed and returns err unchanged
func (a *planChangeAttempt) fail(err error) error {
	if !a.state.IsTerminal() {
		_ = a.transition(types.PlanChangeStateFailed)
	}
	a.logger.Warnw("plan change failed",
		"user_id", a.userID,
		"target_plan", a.targetPlan,
		"error", err,
	)
	return err
}
