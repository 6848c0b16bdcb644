package service

import (
	"testing"

	"github.com/cockroachdb/errors"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChangeAttemptTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []types.PlanChangeState
		wantErr bool
	}{
		{
			name: "immediate upgrade",
			path: []types.PlanChangeState{types.PlanChangeStateApplying, types.PlanChangeStateApplied},
		},
		{
			name: "suspended then resumed",
			path: []types.PlanChangeState{
				types.PlanChangeStateAwaitingPaymentSetup,
				types.PlanChangeStateApplying,
				types.PlanChangeStateApplied,
			},
		},
		{
			name: "rejected upfront",
			path: []types.PlanChangeState{types.PlanChangeStateFailed},
		},
		{
			name:    "applied without applying",
			path:    []types.PlanChangeState{types.PlanChangeStateApplied},
			wantErr: true,
		},
		{
			name: "no transition out of applied",
			path: []types.PlanChangeState{
				types.PlanChangeStateApplying,
				types.PlanChangeStateApplied,
				types.PlanChangeStateApplying,
			},
			wantErr: true,
		},
		{
			name: "no return to awaiting setup",
			path: []types.PlanChangeState{
				types.PlanChangeStateApplying,
				types.PlanChangeStateAwaitingPaymentSetup,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newPlanChangeAttempt(logger.NewNoop(), "u1", "PRO", types.PlanChangeStateIdle)

			var err error
			for _, to := range tt.path {
				if err = a.transition(to); err != nil {
					break
				}
			}

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ierr.ErrInternal))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], a.state)
		})
	}
}

func TestPlanChangeAttemptFail(t *testing.T) {
	cause := ierr.NewError("processor down").Mark(ierr.ErrHTTPClient)

	a := newPlanChangeAttempt(logger.NewNoop(), "u1", "STUDIO", types.PlanChangeStateAwaitingPaymentSetup)
	require.NoError(t, a.transition(types.PlanChangeStateApplying))

	err := a.fail(cause)
	assert.Same(t, cause, err)
	assert.Equal(t, types.PlanChangeStateFailed, a.state)

	// failing a terminal attempt keeps its state
	done := newPlanChangeAttempt(logger.NewNoop(), "u1", "STUDIO", types.PlanChangeStateApplying)
	require.NoError(t, done.transition(types.PlanChangeStateApplied))
	_ = done.fail(cause)
	assert.Equal(t, types.PlanChangeStateApplied, done.state)
}
