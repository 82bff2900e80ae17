package types

import (
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionState is the lifecycle state of a user's subscription as
// tracked locally. The gateway is the driver; the state machine in the
// subscription service is the only writer.
//
// absent -> active -> (payment_issue <-> active) -> cancelled_pending_end -> ended
type SubscriptionState string

const (
	// SubscriptionStateAbsent means no subscription row exists for the user
	SubscriptionStateAbsent SubscriptionState = "absent"
	// SubscriptionStateActive is a subscription in good standing
	SubscriptionStateActive SubscriptionState = "active"
	// SubscriptionStatePaymentIssue is an active subscription with a failed
	// payment recorded. Access is retained during the dunning grace window.
	SubscriptionStatePaymentIssue SubscriptionState = "payment_issue"
	// SubscriptionStateCancelledPendingEnd is set locally only in meaning:
	// the gateway holds the cancel-at-period-end flag and the local row stays
	// untouched until the deletion event arrives.
	SubscriptionStateCancelledPendingEnd SubscriptionState = "cancelled_pending_end"
	// SubscriptionStateEnded is a terminated subscription
	SubscriptionStateEnded SubscriptionState = "ended"
)

func (s SubscriptionState) String() string {
	return string(s)
}

func (s SubscriptionState) Validate() error {
	allowed := []SubscriptionState{
		SubscriptionStateAbsent,
		SubscriptionStateActive,
		SubscriptionStatePaymentIssue,
		SubscriptionStateCancelledPendingEnd,
		SubscriptionStateEnded,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription state").
			WithHint("Invalid subscription state").
			WithReportableDetails(map[string]any{
				"state":          s,
				"allowed_states": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTerminal reports whether the subscription has ended. A new checkout
// can still revive the user with a fresh subscription.
func (s SubscriptionState) IsTerminal() bool {
	return s == SubscriptionStateEnded
}
