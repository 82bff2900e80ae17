package types

import (
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/samber/lo"
)

// BatchSource identifies where a token batch came from
type BatchSource string

const (
	BatchSourceSubscription BatchSource = "subscription"
	BatchSourcePurchase     BatchSource = "purchase"
	BatchSourceReferral     BatchSource = "referral"
)

func (s BatchSource) String() string {
	return string(s)
}

func (s BatchSource) Validate() error {
	allowed := []BatchSource{
		BatchSourceSubscription,
		BatchSourcePurchase,
		BatchSourceReferral,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid batch source").
			WithHint("Invalid batch source").
			WithReportableDetails(map[string]any{
				"source":          s,
				"allowed_sources": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BatchOrigin ties a batch to the record that created it. The persisted
// representation is the source tag plus one nullable foreign key; in
// process the constructors below keep the pairing exhaustive.
type BatchOrigin struct {
	Source         BatchSource
	SubscriptionID string
	PurchaseID     string
	ReferrerID     string
}

// SubscriptionOrigin marks a batch as granted by a subscription invoice
func SubscriptionOrigin(subscriptionID string) BatchOrigin {
	return BatchOrigin{Source: BatchSourceSubscription, SubscriptionID: subscriptionID}
}

// PurchaseOrigin marks a batch as granted by a one-time purchase
func PurchaseOrigin(purchaseID string) BatchOrigin {
	return BatchOrigin{Source: BatchSourcePurchase, PurchaseID: purchaseID}
}

// ReferralOrigin marks a batch as a referral reward from the given referrer
func ReferralOrigin(referrerID string) BatchOrigin {
	return BatchOrigin{Source: BatchSourceReferral, ReferrerID: referrerID}
}

func (o BatchOrigin) Validate() error {
	if err := o.Source.Validate(); err != nil {
		return err
	}
	switch o.Source {
	case BatchSourceSubscription:
		if o.SubscriptionID == "" || o.PurchaseID != "" {
			return ierr.NewError("subscription batch requires a subscription id").
				WithHint("Subscription batches must reference exactly one subscription").
				Mark(ierr.ErrValidation)
		}
	case BatchSourcePurchase:
		if o.PurchaseID == "" || o.SubscriptionID != "" {
			return ierr.NewError("purchase batch requires a purchase id").
				WithHint("Purchase batches must reference exactly one purchase").
				Mark(ierr.ErrValidation)
		}
	case BatchSourceReferral:
		if o.ReferrerID == "" || o.SubscriptionID != "" || o.PurchaseID != "" {
			return ierr.NewError("referral batch requires a referrer id").
				WithHint("Referral batches only carry the referrer").
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// TokenEventReason is the stable reason tag on every journal entry
type TokenEventReason string

const (
	TokenEventReasonPurchase                  TokenEventReason = "purchase"
	TokenEventReasonSubscriptionInitialCredit TokenEventReason = "subscription_initial_credit"
	TokenEventReasonSubscriptionRefill        TokenEventReason = "subscription_refill"
	TokenEventReasonSubscriptionUpgradeCredit TokenEventReason = "subscription_upgrade_credit"
	TokenEventReasonReferralReward            TokenEventReason = "referral_reward"
	TokenEventReasonConsumption               TokenEventReason = "consumption"
	TokenEventReasonExpiry                    TokenEventReason = "expiry"
)

func (r TokenEventReason) String() string {
	return string(r)
}

func (r TokenEventReason) Validate() error {
	allowed := []TokenEventReason{
		TokenEventReasonPurchase,
		TokenEventReasonSubscriptionInitialCredit,
		TokenEventReasonSubscriptionRefill,
		TokenEventReasonSubscriptionUpgradeCredit,
		TokenEventReasonReferralReward,
		TokenEventReasonConsumption,
		TokenEventReasonExpiry,
	}
	if !lo.Contains(allowed, r) {
		return ierr.NewError("invalid token event reason").
			WithHint("Invalid token event reason").
			WithReportableDetails(map[string]any{
				"reason":          r,
				"allowed_reasons": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
