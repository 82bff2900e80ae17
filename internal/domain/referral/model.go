package referral

import (
	"context"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// Referral links a referred user back to their referrer. A user can be
// referred at most once; the reward is granted when the referred user first
// pays and IsRewarded then flips permanently.
type Referral struct {
	ID             string `db:"id" json:"id"`
	ReferrerUserID string `db:"referrer_user_id" json:"referrer_user_id"`
	ReferredUserID string `db:"referred_user_id" json:"referred_user_id"`
	// Code is the human-readable reference shown in support tooling
	Code       string `db:"code" json:"code"`
	IsRewarded bool   `db:"is_rewarded" json:"is_rewarded"`
	types.BaseModel
}

func New(ctx context.Context, referrerUserID, referredUserID string) *Referral {
	return &Referral{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REFERRAL),
		ReferrerUserID: referrerUserID,
		ReferredUserID: referredUserID,
		Code:           types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_REFERRAL),
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
}

func (r *Referral) TableName() string {
	return "referrals"
}

func (r *Referral) Validate() error {
	if r.ReferrerUserID == "" || r.ReferredUserID == "" {
		return ierr.NewError("referrer and referred user ids are required").
			WithHint("Referral must link two users").
			Mark(ierr.ErrValidation)
	}
	if r.ReferrerUserID == r.ReferredUserID {
		return ierr.NewError("user cannot refer themselves").
			WithHint("Referrer and referred user must differ").
			Mark(ierr.ErrValidation)
	}
	return nil
}
