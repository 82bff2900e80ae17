package dto

import (
	"github.com/tokenrail/tokenrail/internal/domain/referral"
	"github.com/tokenrail/tokenrail/internal/validator"
)

// RegisterReferralRequest links the authenticated user to the referrer
// whose link they signed up through.
type RegisterReferralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required" validate:"required"`
}

func (r *RegisterReferralRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ReferralResponse is one referral link between two users.
type ReferralResponse struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	ReferrerID string `json:"referrer_id"`
	IsRewarded bool   `json:"is_rewarded"`
}

// NewReferralResponse converts a referral row for API consumption.
func NewReferralResponse(r *referral.Referral) *ReferralResponse {
	return &ReferralResponse{
		ID:         r.ID,
		Code:       r.Code,
		ReferrerID: r.ReferrerUserID,
		IsRewarded: r.IsRewarded,
	}
}
