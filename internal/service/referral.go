package service

import (
	"context"
	"time"

	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/referral"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

// ReferralService links referred users to their referrers and pays the
// reward out once the referred user's first payment lands. Rewards are
// disabled entirely when the configured amount is zero.
type ReferralService interface {
	// Register records that referredUserID signed up through
	// referrerUserID's link. One referral per referred user; replays
	// return the existing row.
	Register(ctx context.Context, referrerUserID, referredUserID string) (*referral.Referral, error)

	// RewardPending grants the referrer's reward if the referred user has
	// an unsettled referral. Safe to call on every payment; reports
	// whether a reward was granted.
	RewardPending(ctx context.Context, referredUserID string) (bool, error)
}

type referralService struct {
	ServiceParams
}

// NewReferralService creates a new instance of ReferralService
func NewReferralService(params ServiceParams) ReferralService {
	return &referralService{
		ServiceParams: params,
	}
}

func (s *referralService) Register(ctx context.Context, referrerUserID, referredUserID string) (*referral.Referral, error) {
	ref := referral.New(ctx, referrerUserID, referredUserID)
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	// The referrer must be real; the referred user is the caller and
	// already authenticated.
	if _, err := s.UserRepo.GetByID(ctx, referrerUserID); err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("referrer does not exist").
				WithHint("The referral link points at an unknown user").
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}

	if err := s.ReferralRepo.Create(ctx, ref); err != nil {
		if ierr.IsAlreadyExists(err) {
			existing, getErr := s.ReferralRepo.GetByReferredUserID(ctx, referredUserID)
			if getErr != nil {
				return nil, getErr
			}
			return existing, nil
		}
		return nil, err
	}

	s.Logger.Infow("registered referral",
		"referral_id", ref.ID,
		"referrer_user_id", referrerUserID,
		"referred_user_id", referredUserID,
	)
	return ref, nil
}

func (s *referralService) RewardPending(ctx context.Context, referredUserID string) (bool, error) {
	amount := s.Config.Referral.TokenAmount
	if amount <= 0 {
		return false, nil
	}

	ref, err := s.ReferralRepo.GetPendingByReferredUserID(ctx, referredUserID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	expiryDays := s.Config.Referral.RewardExpiryDays
	if expiryDays <= 0 {
		expiryDays = 60
	}

	ledger := NewLedgerService(s.ServiceParams)
	rewarded := false
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		// MarkRewarded only flips unrewarded rows, so a concurrent payment
		// settles the referral exactly once.
		markErr := s.DB.WithTx(ctx, func(ctx context.Context) error {
			return s.ReferralRepo.MarkRewarded(ctx, ref.ID)
		})
		if markErr != nil {
			if ierr.IsAlreadyExists(markErr) {
				return nil
			}
			return markErr
		}

		if _, err := ledger.Grant(ctx, &batch.GrantOperation{
			UserID:    ref.ReferrerUserID,
			Origin:    types.ReferralOrigin(ref.ReferrerUserID),
			Amount:    amount,
			ExpiresAt: time.Now().UTC().AddDate(0, 0, expiryDays),
			Note:      "referral-reward",
			Reason:    types.TokenEventReasonReferralReward,
		}); err != nil {
			return err
		}
		rewarded = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if rewarded {
		s.Logger.Infow("granted referral reward",
			"referral_id", ref.ID,
			"referrer_user_id", ref.ReferrerUserID,
			"referred_user_id", referredUserID,
			"amount", amount,
		)
	}
	return rewarded, nil
}
