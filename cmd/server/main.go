package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/api"
	"github.com/tokenrail/tokenrail/internal/api/cron"
	v1 "github.com/tokenrail/tokenrail/internal/api/v1"
	"github.com/tokenrail/tokenrail/internal/auth"
	"github.com/tokenrail/tokenrail/internal/cache"
	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/httpclient"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/pyroscope"
	"github.com/tokenrail/tokenrail/internal/repository"
	"github.com/tokenrail/tokenrail/internal/sentry"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/validator"
)

// @title TokenRail API
// @version 1.0
// @description Billing and token ledger service
// @BasePath /v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,

			// Cache
			cache.Initialize,

			// Postgres
			postgres.NewDB,
			provideDBClient,

			// HTTP Client
			httpclient.NewDefaultClient,

			// Payment gateway
			provideGateway,

			// Alerting
			alert.NewSender,

			// Auth
			auth.NewProvider,

			// Repositories
			repository.NewUserRepository,
			repository.NewSubscriptionRepository,
			repository.NewPurchaseRepository,
			repository.NewBatchRepository,
			repository.NewTokenEventRepository,
			repository.NewWebhookEventRepository,
			repository.NewReferralRepository,
			repository.NewCatalogRepository,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			// Core services
			service.NewUserService,
			service.NewLedgerService,

			// Business services
			service.NewSubscriptionService,
			service.NewPurchaseService,
			service.NewReferralService,
			service.NewWebhookService,

			// Background workers
			service.NewMaintenanceService,
			service.NewReconciliationService,
		),
	)

	// API
	opts = append(opts,
		pyroscope.Module(),
		fx.Provide(
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideDBClient(db *postgres.DB, sentrySvc *sentry.Service, log *logger.Logger) postgres.IClient {
	return postgres.NewSentryClient(db, sentrySvc, log)
}

func provideGateway(cfg *config.Configuration, log *logger.Logger) service.PaymentGateway {
	return integration.NewClient(cfg, log)
}

func provideHandlers(
	logger *logger.Logger,
	ledgerService service.LedgerService,
	subscriptionService service.SubscriptionService,
	purchaseService service.PurchaseService,
	referralService service.ReferralService,
	webhookService service.WebhookService,
	maintenanceService service.MaintenanceService,
	reconciliationService service.ReconciliationService,
) api.Handlers {
	return api.Handlers{
		Health:         v1.NewHealthHandler(logger),
		Webhook:        v1.NewWebhookHandler(webhookService, logger),
		Purchase:       v1.NewPurchaseHandler(purchaseService, logger),
		Subscription:   v1.NewSubscriptionHandler(subscriptionService, logger),
		Token:          v1.NewTokenHandler(ledgerService, logger),
		Referral:       v1.NewReferralHandler(referralService, logger),
		Maintenance:    cron.NewMaintenanceHandler(logger, maintenanceService),
		Reconciliation: cron.NewReconciliationHandler(logger, reconciliationService),
	}
}

func provideRouter(
	handlers api.Handlers,
	cfg *config.Configuration,
	logger *logger.Logger,
	authProvider auth.Provider,
	userService service.UserService,
) *gin.Engine {
	return api.NewRouter(handlers, cfg, logger, authProvider, userService)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	log *logger.Logger,
) {
	log.Info("Registering API server start hook")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting API server...")
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return nil
		},
	})
}
