package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want SubscriptionStatus
	}{
		{"active", SubscriptionStatusActive},
		{"trialing", SubscriptionStatusTrialing},
		{"past_due", SubscriptionStatusPastDue},
		{"incomplete_expired", SubscriptionStatusCanceled},
		{"paused", SubscriptionStatusUnpaid},
		{"something_new", SubscriptionStatusIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSubscriptionStatus(tt.raw))
		})
	}
}

func TestProrationPreferenceValidate(t *testing.T) {
	assert.NoError(t, ProrationPreferenceAlwaysInvoice.Validate())
	assert.Error(t, ProrationPreference("sometimes").Validate())
}

func TestPlanChangeStateTerminal(t *testing.T) {
	assert.True(t, PlanChangeStateApplied.IsTerminal())
	assert.True(t, PlanChangeStateFailed.IsTerminal())
	assert.False(t, PlanChangeStateAwaitingPaymentSetup.IsTerminal())
	assert.False(t, PlanChangeStateFailed.CanTransition(PlanChangeStateApplying))
}
