package subscription

import (
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// StateEvent is an occurrence that can move a subscription between
// lifecycle states.
type StateEvent string

const (
	// StateEventCreated is the gateway confirming a new or replaced
	// subscription
	StateEventCreated StateEvent = "created"
	// StateEventInvoicePaid is a successful charge, including recovery
	// after a failed one
	StateEventInvoicePaid StateEvent = "invoice_paid"
	// StateEventPaymentFailed is a failed charge entering dunning
	StateEventPaymentFailed StateEvent = "payment_failed"
	// StateEventCancelRequested is the user asking to stop at period end
	StateEventCancelRequested StateEvent = "cancel_requested"
	// StateEventDeleted is the gateway confirming the subscription ended
	StateEventDeleted StateEvent = "deleted"
	// StateEventPeriodElapsed is the maintenance pass observing the paid
	// period ran out without renewal
	StateEventPeriodElapsed StateEvent = "period_elapsed"
)

// transitions is the full lifecycle table. Handlers consult it before
// mutating rows so every move between states is spelled out in one place.
//
// Payment failure deliberately maps to payment_issue and not ended: the
// user keeps access while the gateway retries the charge, and only the
// deletion event or an elapsed period ends the subscription.
var transitions = map[types.SubscriptionState]map[StateEvent]types.SubscriptionState{
	types.SubscriptionStateAbsent: {
		StateEventCreated: types.SubscriptionStateActive,
	},
	types.SubscriptionStateActive: {
		StateEventCreated:         types.SubscriptionStateActive,
		StateEventInvoicePaid:     types.SubscriptionStateActive,
		StateEventPaymentFailed:   types.SubscriptionStatePaymentIssue,
		StateEventCancelRequested: types.SubscriptionStateCancelledPendingEnd,
		StateEventDeleted:         types.SubscriptionStateEnded,
		StateEventPeriodElapsed:   types.SubscriptionStateEnded,
	},
	types.SubscriptionStatePaymentIssue: {
		StateEventCreated:         types.SubscriptionStateActive,
		StateEventInvoicePaid:     types.SubscriptionStateActive,
		StateEventPaymentFailed:   types.SubscriptionStatePaymentIssue,
		StateEventCancelRequested: types.SubscriptionStateCancelledPendingEnd,
		StateEventDeleted:         types.SubscriptionStateEnded,
		StateEventPeriodElapsed:   types.SubscriptionStateEnded,
	},
	types.SubscriptionStateCancelledPendingEnd: {
		// The gateway keeps charging nothing here; the period simply runs
		// out. A new checkout before that shows up as created.
		StateEventCreated:       types.SubscriptionStateActive,
		StateEventInvoicePaid:   types.SubscriptionStateCancelledPendingEnd,
		StateEventDeleted:       types.SubscriptionStateEnded,
		StateEventPeriodElapsed: types.SubscriptionStateEnded,
	},
	types.SubscriptionStateEnded: {
		StateEventCreated: types.SubscriptionStateActive,
	},
}

// NextState applies ev to from and returns the resulting state. Pairs not
// in the table return ErrInvalidOperation so callers can log and skip
// instead of guessing.
func NextState(from types.SubscriptionState, ev StateEvent) (types.SubscriptionState, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, ierr.NewError("invalid subscription state transition").
		WithHint("This event does not apply to the subscription's current state").
		WithReportableDetails(map[string]any{
			"from":  from,
			"event": ev,
		}).
		Mark(ierr.ErrInvalidOperation)
}
