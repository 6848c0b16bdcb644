package types

// PlanChangeState is the lifecycle of a single plan change attempt.
// AwaitingPaymentSetup is never persisted on the subscription; it lives in
// the setup session metadata until the attempt is resumed.
type PlanChangeState string

const (
	PlanChangeStateIdle                 PlanChangeState = "idle"
	PlanChangeStateAwaitingPaymentSetup PlanChangeState = "awaiting_payment_setup"
	PlanChangeStateApplying             PlanChangeState = "applying"
	PlanChangeStateApplied              PlanChangeState = "applied"
	PlanChangeStateFailed               PlanChangeState = "failed"
)

// PlanChangeTransition is a directed edge between two states
type PlanChangeTransition struct {
	From PlanChangeState
	To   PlanChangeState
}

var planChangeTransitions = map[PlanChangeTransition]bool{
	{PlanChangeStateIdle, PlanChangeStateApplying}:                 true, // payment method on file or downgrade
	{PlanChangeStateIdle, PlanChangeStateAwaitingPaymentSetup}:     true, // no chargeable method
	{PlanChangeStateIdle, PlanChangeStateFailed}:                   true, // rejected before any processor call
	{PlanChangeStateAwaitingPaymentSetup, PlanChangeStateApplying}: true, // resumed after setup
	{PlanChangeStateAwaitingPaymentSetup, PlanChangeStateFailed}:   true, // setup incomplete
	{PlanChangeStateApplying, PlanChangeStateApplied}:              true,
	{PlanChangeStateApplying, PlanChangeStateFailed}:               true,
}

// CanTransition checks if a plan change may move from one state to another
func (s PlanChangeState) CanTransition(to PlanChangeState) bool {
	return planChangeTransitions[PlanChangeTransition{s, to}]
}

// IsTerminal reports whether no further transitions are possible
func (s PlanChangeState) IsTerminal() bool {
	return s == PlanChangeStateApplied || s == PlanChangeStateFailed
}
