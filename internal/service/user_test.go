package service

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"

	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/testutil"
	"github.com/tokenrail/tokenrail/internal/types"
)

type UserServiceSuite struct {
	testutil.BaseServiceTestSuite
	users    UserService
	testData struct {
		alice *user.User
		bob   *user.User
	}
}

func TestUserService(t *testing.T) {
	suite.Run(t, new(UserServiceSuite))
}

func (s *UserServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.users = NewUserService(ServiceParams{
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
	})
	s.setupTestData()
}

func (s *UserServiceSuite) setupTestData() {
	s.testData.alice = &user.User{
		ID:         "user_alice",
		ExternalID: "ext_alice",
		Email:      "alice@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.testData.bob = &user.User{
		ID:         "user_bob",
		ExternalID: "ext_bob",
		Email:      "bob@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.alice))
	s.NoError(s.GetStores().UserRepo.Create(s.GetContext(), s.testData.bob))
}

func (s *UserServiceSuite) TestEnsureUserCreatesRow() {
	u, err := s.users.EnsureUser(s.GetContext(), "ext_new", "new@example.com")
	s.NoError(err)
	s.NotEmpty(u.ID)
	s.Equal("ext_new", u.ExternalID)
	s.Equal("new@example.com", u.Email)
	s.False(u.HasActiveSubscription)

	stored, err := s.GetStores().UserRepo.GetByExternalID(s.GetContext(), "ext_new")
	s.NoError(err)
	s.Equal(u.ID, stored.ID)
}

func (s *UserServiceSuite) TestEnsureUserReplayRefreshesEmail() {
	first, err := s.users.EnsureUser(s.GetContext(), "ext_new", "old@example.com")
	s.NoError(err)

	second, err := s.users.EnsureUser(s.GetContext(), "ext_new", "renamed@example.com")
	s.NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal("renamed@example.com", second.Email)

	stored, err := s.GetStores().UserRepo.GetByExternalID(s.GetContext(), "ext_new")
	s.NoError(err)
	s.Equal("renamed@example.com", stored.Email)
}

func (s *UserServiceSuite) TestEnsureUserRequiresIdentity() {
	_, err := s.users.EnsureUser(s.GetContext(), "", "new@example.com")
	s.Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.users.EnsureUser(s.GetContext(), "ext_new", "")
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *UserServiceSuite) TestGetUser() {
	u, err := s.users.GetUser(s.GetContext(), s.testData.alice.ID)
	s.NoError(err)
	s.Equal(s.testData.alice.Email, u.Email)

	_, err = s.users.GetUser(s.GetContext(), "")
	s.Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.users.GetUser(s.GetContext(), "user_ghost")
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *UserServiceSuite) TestBindCustomer() {
	err := s.users.BindCustomer(s.GetContext(), s.testData.alice.ID, "cus_alice")
	s.NoError(err)

	stored, err := s.GetStores().UserRepo.GetByPGCustomerID(s.GetContext(), "cus_alice")
	s.NoError(err)
	s.Equal(s.testData.alice.ID, stored.ID)
}

func (s *UserServiceSuite) TestBindCustomerValidatesArguments() {
	err := s.users.BindCustomer(s.GetContext(), "", "cus_alice")
	s.Error(err)
	s.True(ierr.IsValidation(err))

	err = s.users.BindCustomer(s.GetContext(), s.testData.alice.ID, "")
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *UserServiceSuite) TestBindCustomerRejectsSecondOwner() {
	s.NoError(s.users.BindCustomer(s.GetContext(), s.testData.alice.ID, "cus_shared"))

	err := s.users.BindCustomer(s.GetContext(), s.testData.bob.ID, "cus_shared")
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))

	// the original binding is untouched
	stored, err := s.GetStores().UserRepo.GetByPGCustomerID(s.GetContext(), "cus_shared")
	s.NoError(err)
	s.Equal(s.testData.alice.ID, stored.ID)
}

func (s *UserServiceSuite) TestResolveMetadataUserIDWinsOverEverything() {
	s.NoError(s.users.BindCustomer(s.GetContext(), s.testData.bob.ID, "cus_bob"))

	// fragments point at different users; metadata is authoritative
	resolved, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		MetadataUserID: s.testData.alice.ID,
		CustomerID:     "cus_bob",
		CustomerEmail:  s.testData.bob.Email,
	})
	s.NoError(err)
	s.Equal(s.testData.alice.ID, resolved.ID)
}

func (s *UserServiceSuite) TestResolveStaleMetadataFallsThrough() {
	s.NoError(s.users.BindCustomer(s.GetContext(), s.testData.bob.ID, "cus_bob"))

	resolved, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		MetadataUserID: "user_deleted_long_ago",
		CustomerID:     "cus_bob",
	})
	s.NoError(err)
	s.Equal(s.testData.bob.ID, resolved.ID)
}

func (s *UserServiceSuite) TestResolveByCustomerBinding() {
	s.NoError(s.users.BindCustomer(s.GetContext(), s.testData.alice.ID, "cus_alice"))

	resolved, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		CustomerID: "cus_alice",
	})
	s.NoError(err)
	s.Equal(s.testData.alice.ID, resolved.ID)
}

func (s *UserServiceSuite) TestResolveByPayloadEmail() {
	resolved, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		CustomerEmail: s.testData.bob.Email,
	})
	s.NoError(err)
	s.Equal(s.testData.bob.ID, resolved.ID)
}

func (s *UserServiceSuite) TestResolveThroughGatewayEmailLookup() {
	// customer id is not bound locally, but the gateway knows the email
	s.GetGateway().SetCustomer(&stripe.Customer{
		ID:    "cus_unbound",
		Email: s.testData.alice.Email,
	})

	resolved, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		CustomerID: "cus_unbound",
	})
	s.NoError(err)
	s.Equal(s.testData.alice.ID, resolved.ID)
}

func (s *UserServiceSuite) TestResolveUnknownIdentityIsNotFound() {
	_, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		MetadataUserID: "user_ghost",
		CustomerID:     "cus_ghost",
		CustomerEmail:  "ghost@example.com",
	})
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *UserServiceSuite) TestResolveSurvivesGatewayLookupFailure() {
	// unknown customer and no email anywhere: the gateway lookup fails and
	// resolution degrades to not-found instead of erroring out
	_, err := s.users.ResolveGatewayIdentity(s.GetContext(), &GatewayIdentity{
		CustomerID: "cus_ghost",
	})
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}
