package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/cache"
	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	"github.com/tokenrail/tokenrail/internal/domain/referral"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	"github.com/tokenrail/tokenrail/internal/domain/webhookevent"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/types"
	"github.com/tokenrail/tokenrail/internal/validator"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	UserRepo         user.Repository
	SubRepo          subscription.Repository
	PurchaseRepo     purchase.Repository
	BatchRepo        batch.Repository
	TokenEventRepo   tokenevent.Repository
	WebhookEventRepo webhookevent.Repository
	ReferralRepo     referral.Repository
	CatalogRepo      catalog.Repository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx         context.Context
	stores      Stores
	gateway     *FakeGateway
	httpClient  *MockHTTPClient
	alertSender alert.Sender
	db          postgres.IClient
	cache       cache.Cache
	logger      *logger.Logger
	config      *config.Configuration
	now         time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	// Initialize validator
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	// Point alerts at a webhook so the mock http client records them
	cfg.Alert.WebhookURL = "https://alerts.test/hook"
	cfg.Alert.Channel = "test-alerts"
	s.config = cfg

	var err error
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}

	s.cache = cache.Initialize(cfg, s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		UserRepo:         NewInMemoryUserStore(),
		SubRepo:          NewInMemorySubscriptionStore(),
		PurchaseRepo:     NewInMemoryPurchaseStore(),
		BatchRepo:        NewInMemoryBatchStore(),
		TokenEventRepo:   NewInMemoryTokenEventStore(),
		WebhookEventRepo: NewInMemoryWebhookEventStore(),
		ReferralRepo:     NewInMemoryReferralStore(),
		CatalogRepo:      NewInMemoryCatalogStore(),
	}

	s.db = NewMockPostgresClient(s.logger)
	s.gateway = NewFakeGateway()
	s.httpClient = NewMockHTTPClient()
	s.alertSender = alert.NewSender(s.config, s.httpClient, s.logger)
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.UserRepo.(*InMemoryUserStore).Clear()
	s.stores.SubRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.PurchaseRepo.(*InMemoryPurchaseStore).Clear()
	s.stores.BatchRepo.(*InMemoryBatchStore).Clear()
	s.stores.TokenEventRepo.(*InMemoryTokenEventStore).Clear()
	s.stores.WebhookEventRepo.(*InMemoryWebhookEventStore).Clear()
	s.stores.ReferralRepo.(*InMemoryReferralStore).Clear()
	s.stores.CatalogRepo.(*InMemoryCatalogStore).Clear()
	s.gateway.Clear()
	s.httpClient.Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetGateway returns the fake payment gateway
func (s *BaseServiceTestSuite) GetGateway() *FakeGateway {
	return s.gateway
}

// GetHTTPClient returns the mock http client
func (s *BaseServiceTestSuite) GetHTTPClient() *MockHTTPClient {
	return s.httpClient
}

// GetAlertSender returns the alert sender wired to the mock http client
func (s *BaseServiceTestSuite) GetAlertSender() alert.Sender {
	return s.alertSender
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetCache returns the test cache
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
