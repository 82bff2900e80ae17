package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/testutil"
	"github.com/tokenrail/tokenrail/internal/types"
)

type ReferralServiceSuite struct {
	testutil.BaseServiceTestSuite
	referrals ReferralService
	ledger    LedgerService
	testData  struct {
		referrer *user.User
		referred *user.User
	}
}

func TestReferralService(t *testing.T) {
	suite.Run(t, new(ReferralServiceSuite))
}

func (s *ReferralServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.GetConfig().Referral.TokenAmount = 2000
	s.GetConfig().Referral.RewardExpiryDays = 60
	params := ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		UserRepo:         s.GetStores().UserRepo,
		SubRepo:          s.GetStores().SubRepo,
		PurchaseRepo:     s.GetStores().PurchaseRepo,
		BatchRepo:        s.GetStores().BatchRepo,
		TokenEventRepo:   s.GetStores().TokenEventRepo,
		WebhookEventRepo: s.GetStores().WebhookEventRepo,
		ReferralRepo:     s.GetStores().ReferralRepo,
		CatalogRepo:      s.GetStores().CatalogRepo,
		Gateway:          s.GetGateway(),
		AlertSender:      s.GetAlertSender(),
		Client:           s.GetHTTPClient(),
	}
	s.referrals = NewReferralService(params)
	s.ledger = NewLedgerService(params)
	s.setupTestData()
}

func (s *ReferralServiceSuite) setupTestData() {
	s.testData.referrer = &user.User{
		ID:         "user_referrer",
		ExternalID: "ext_referrer",
		Email:      "referrer@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.testData.referred = &user.User{
		ID:         "user_referred",
		ExternalID: "ext_referred",
		Email:      "referred@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.referrer))
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.referred))
}

func (s *ReferralServiceSuite) TestRegisterLinksUsers() {
	ref, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)
	s.Equal(s.testData.referrer.ID, ref.ReferrerUserID)
	s.Equal(s.testData.referred.ID, ref.ReferredUserID)
	s.False(ref.IsRewarded)
	s.NotEmpty(ref.Code)

	stored, err := s.GetStores().ReferralRepo.GetByReferredUserID(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.Equal(ref.ID, stored.ID)
}

func (s *ReferralServiceSuite) TestRegisterReplayReturnsExistingLink() {
	first, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)

	second, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)
	s.Equal(first.ID, second.ID)
}

func (s *ReferralServiceSuite) TestRegisterRejectsSecondReferrer() {
	other := &user.User{
		ID:         "user_other",
		ExternalID: "ext_other",
		Email:      "other@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), other))

	first, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)

	// A user is referred at most once; the original link stands
	second, err := s.referrals.Register(s.GetContext(), other.ID, s.testData.referred.ID)
	s.NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(s.testData.referrer.ID, second.ReferrerUserID)
}

func (s *ReferralServiceSuite) TestRegisterRejectsSelfReferral() {
	_, err := s.referrals.Register(s.GetContext(), s.testData.referred.ID, s.testData.referred.ID)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *ReferralServiceSuite) TestRegisterRejectsUnknownReferrer() {
	_, err := s.referrals.Register(s.GetContext(), "user_ghost", s.testData.referred.ID)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *ReferralServiceSuite) TestRewardPendingGrantsExactlyOnce() {
	_, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)

	rewarded, err := s.referrals.RewardPending(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.True(rewarded)

	balance, err := s.ledger.Balance(s.GetContext(), s.testData.referrer.ID)
	s.NoError(err)
	s.Equal(int64(2000), balance)

	batches, err := s.GetStores().BatchRepo.ListActiveByUserID(s.GetContext(), s.testData.referrer.ID, s.GetNow())
	s.NoError(err)
	s.Len(batches, 1)
	s.Equal(types.BatchSourceReferral, batches[0].Source)
	s.WithinDuration(time.Now().UTC().AddDate(0, 0, 60), batches[0].ExpiresAt, 2*time.Minute)

	// every later payment sees the settled row and moves on
	rewarded, err = s.referrals.RewardPending(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.False(rewarded)

	balance, err = s.ledger.Balance(s.GetContext(), s.testData.referrer.ID)
	s.NoError(err)
	s.Equal(int64(2000), balance)
}

func (s *ReferralServiceSuite) TestRewardPendingWithoutReferralIsNoOp() {
	rewarded, err := s.referrals.RewardPending(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.False(rewarded)
}

func (s *ReferralServiceSuite) TestRewardPendingDisabledByZeroAmount() {
	_, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)

	s.GetConfig().Referral.TokenAmount = 0

	rewarded, err := s.referrals.RewardPending(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.False(rewarded)

	// the referral stays pending for the day the program reactivates
	pending, err := s.GetStores().ReferralRepo.GetPendingByReferredUserID(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.False(pending.IsRewarded)
}

func (s *ReferralServiceSuite) TestRewardPendingHonorsConfiguredExpiry() {
	s.GetConfig().Referral.RewardExpiryDays = 10

	_, err := s.referrals.Register(s.GetContext(), s.testData.referrer.ID, s.testData.referred.ID)
	s.NoError(err)

	rewarded, err := s.referrals.RewardPending(s.GetContext(), s.testData.referred.ID)
	s.NoError(err)
	s.True(rewarded)

	batches, err := s.GetStores().BatchRepo.ListActiveByUserID(s.GetContext(), s.testData.referrer.ID, s.GetNow())
	s.NoError(err)
	s.Len(batches, 1)
	s.WithinDuration(time.Now().UTC().AddDate(0, 0, 10), batches[0].ExpiresAt, 2*time.Minute)
}
