package service

import (
	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/catalog"
	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	"github.com/tokenrail/tokenrail/internal/domain/referral"
	"github.com/tokenrail/tokenrail/internal/domain/subscription"
	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	"github.com/tokenrail/tokenrail/internal/domain/webhookevent"
	"github.com/tokenrail/tokenrail/internal/httpclient"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	// Repositories
	UserRepo         user.Repository
	SubRepo          subscription.Repository
	PurchaseRepo     purchase.Repository
	BatchRepo        batch.Repository
	TokenEventRepo   tokenevent.Repository
	WebhookEventRepo webhookevent.Repository
	ReferralRepo     referral.Repository
	CatalogRepo      catalog.Repository

	// Payment gateway
	Gateway PaymentGateway

	// Alerting
	AlertSender alert.Sender

	// http client
	Client httpclient.Client
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	userRepo user.Repository,
	subRepo subscription.Repository,
	purchaseRepo purchase.Repository,
	batchRepo batch.Repository,
	tokenEventRepo tokenevent.Repository,
	webhookEventRepo webhookevent.Repository,
	referralRepo referral.Repository,
	catalogRepo catalog.Repository,
	gateway PaymentGateway,
	alertSender alert.Sender,
	client httpclient.Client,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		DB:               db,
		UserRepo:         userRepo,
		SubRepo:          subRepo,
		PurchaseRepo:     purchaseRepo,
		BatchRepo:        batchRepo,
		TokenEventRepo:   tokenEventRepo,
		WebhookEventRepo: webhookEventRepo,
		ReferralRepo:     referralRepo,
		CatalogRepo:      catalogRepo,
		Gateway:          gateway,
		AlertSender:      alertSender,
		Client:           client,
	}
}
