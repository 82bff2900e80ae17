package subscription

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		from    types.SubscriptionState
		event   StateEvent
		want    types.SubscriptionState
		wantErr bool
	}{
		{
			name:  "first_subscription_activates",
			from:  types.SubscriptionStateAbsent,
			event: StateEventCreated,
			want:  types.SubscriptionStateActive,
		},
		{
			name:    "absent_cannot_be_paid",
			from:    types.SubscriptionStateAbsent,
			event:   StateEventInvoicePaid,
			wantErr: true,
		},
		{
			name:  "renewal_keeps_active",
			from:  types.SubscriptionStateActive,
			event: StateEventInvoicePaid,
			want:  types.SubscriptionStateActive,
		},
		{
			name:  "replacement_keeps_active",
			from:  types.SubscriptionStateActive,
			event: StateEventCreated,
			want:  types.SubscriptionStateActive,
		},
		{
			name:  "failed_charge_enters_dunning",
			from:  types.SubscriptionStateActive,
			event: StateEventPaymentFailed,
			want:  types.SubscriptionStatePaymentIssue,
		},
		{
			name:  "cancel_request_defers_the_end",
			from:  types.SubscriptionStateActive,
			event: StateEventCancelRequested,
			want:  types.SubscriptionStateCancelledPendingEnd,
		},
		{
			name:  "gateway_deletion_ends",
			from:  types.SubscriptionStateActive,
			event: StateEventDeleted,
			want:  types.SubscriptionStateEnded,
		},
		{
			name:  "elapsed_period_ends",
			from:  types.SubscriptionStateActive,
			event: StateEventPeriodElapsed,
			want:  types.SubscriptionStateEnded,
		},
		{
			name:  "successful_retry_recovers_from_dunning",
			from:  types.SubscriptionStatePaymentIssue,
			event: StateEventInvoicePaid,
			want:  types.SubscriptionStateActive,
		},
		{
			name:  "repeated_failure_stays_in_dunning",
			from:  types.SubscriptionStatePaymentIssue,
			event: StateEventPaymentFailed,
			want:  types.SubscriptionStatePaymentIssue,
		},
		{
			name:  "dunning_can_still_cancel",
			from:  types.SubscriptionStatePaymentIssue,
			event: StateEventCancelRequested,
			want:  types.SubscriptionStateCancelledPendingEnd,
		},
		{
			name:  "exhausted_retries_end_via_deletion",
			from:  types.SubscriptionStatePaymentIssue,
			event: StateEventDeleted,
			want:  types.SubscriptionStateEnded,
		},
		{
			name:  "cancelled_subscription_runs_out",
			from:  types.SubscriptionStateCancelledPendingEnd,
			event: StateEventPeriodElapsed,
			want:  types.SubscriptionStateEnded,
		},
		{
			name:  "new_checkout_revives_a_pending_cancel",
			from:  types.SubscriptionStateCancelledPendingEnd,
			event: StateEventCreated,
			want:  types.SubscriptionStateActive,
		},
		{
			name:    "pending_cancel_cannot_fail_payment",
			from:    types.SubscriptionStateCancelledPendingEnd,
			event:   StateEventPaymentFailed,
			wantErr: true,
		},
		{
			name:    "pending_cancel_cannot_cancel_again",
			from:    types.SubscriptionStateCancelledPendingEnd,
			event:   StateEventCancelRequested,
			wantErr: true,
		},
		{
			name:  "resubscribe_after_ending",
			from:  types.SubscriptionStateEnded,
			event: StateEventCreated,
			want:  types.SubscriptionStateActive,
		},
		{
			name:    "ended_subscription_cannot_be_paid",
			from:    types.SubscriptionStateEnded,
			event:   StateEventInvoicePaid,
			wantErr: true,
		},
		{
			name:    "deleting_an_ended_subscription_is_invalid",
			from:    types.SubscriptionStateEnded,
			event:   StateEventDeleted,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextState(tt.from, tt.event)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ierr.IsInvalidOperation(err))
				// invalid transitions leave the state where it was
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateDerivation(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want types.SubscriptionState
	}{
		{
			name: "active_row_without_issues",
			sub:  Subscription{IsActive: true},
			want: types.SubscriptionStateActive,
		},
		{
			name: "failure_reason_means_payment_issue",
			sub: Subscription{
				IsActive:             true,
				PaymentFailureReason: lo.ToPtr("card_declined"),
			},
			want: types.SubscriptionStatePaymentIssue,
		},
		{
			name: "empty_failure_reason_is_not_an_issue",
			sub: Subscription{
				IsActive:             true,
				PaymentFailureReason: lo.ToPtr(""),
			},
			want: types.SubscriptionStateActive,
		},
		{
			name: "inactive_row_is_ended",
			sub:  Subscription{IsActive: false},
			want: types.SubscriptionStateEnded,
		},
		{
			name: "inactive_beats_failure_reason",
			sub: Subscription{
				IsActive:             false,
				PaymentFailureReason: lo.ToPtr("card_declined"),
			},
			want: types.SubscriptionStateEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.State())
		})
	}
}

func TestNeedsMonthlyRefill(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{
			name: "monthly_plans_never_refill",
			sub: Subscription{
				IsActive:          true,
				BillingCycle:      types.BillingCycleMonthly,
				LastMonthlyRefill: lo.ToPtr(now.AddDate(0, -2, 0)),
			},
			want: false,
		},
		{
			name: "ended_yearly_plans_never_refill",
			sub: Subscription{
				IsActive:          false,
				BillingCycle:      types.BillingCycleYearly,
				LastMonthlyRefill: lo.ToPtr(now.AddDate(0, -2, 0)),
			},
			want: false,
		},
		{
			name: "yearly_without_stamp_is_due",
			sub: Subscription{
				IsActive:     true,
				BillingCycle: types.BillingCycleYearly,
			},
			want: true,
		},
		{
			name: "refilled_this_month_is_not_due",
			sub: Subscription{
				IsActive:          true,
				BillingCycle:      types.BillingCycleYearly,
				LastMonthlyRefill: lo.ToPtr(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
			},
			want: false,
		},
		{
			name: "refilled_last_month_is_due",
			sub: Subscription{
				IsActive:          true,
				BillingCycle:      types.BillingCycleYearly,
				LastMonthlyRefill: lo.ToPtr(time.Date(2025, 5, 31, 23, 59, 0, 0, time.UTC)),
			},
			want: true,
		},
		{
			name: "same_month_last_year_is_due",
			sub: Subscription{
				IsActive:          true,
				BillingCycle:      types.BillingCycleYearly,
				LastMonthlyRefill: lo.ToPtr(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.NeedsMonthlyRefill(now))
		})
	}
}
