package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/tokenrail/tokenrail/internal/api/cron"
	v1 "github.com/tokenrail/tokenrail/internal/api/v1"
	"github.com/tokenrail/tokenrail/internal/auth"
	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/rest/middleware"
	"github.com/tokenrail/tokenrail/internal/service"
)

type Handlers struct {
	Health         *v1.HealthHandler
	Webhook        *v1.WebhookHandler
	Purchase       *v1.PurchaseHandler
	Subscription   *v1.SubscriptionHandler
	Token          *v1.TokenHandler
	Referral       *v1.ReferralHandler
	Maintenance    *cron.MaintenanceHandler
	Reconciliation *cron.ReconciliationHandler
}

func NewRouter(
	handlers Handlers,
	cfg *config.Configuration,
	logger *logger.Logger,
	authProvider auth.Provider,
	userService service.UserService,
) *gin.Engine {
	router := gin.New()

	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware(cfg),
		middleware.SentryMiddleware(cfg),
		middleware.PyroscopeMiddleware(cfg),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1Group := router.Group("/v1")

	// The webhook endpoint authenticates by signature, not bearer token.
	v1Group.POST("/webhooks/stripe", handlers.Webhook.HandleStripeWebhook)

	private := v1Group.Group("")
	private.Use(middleware.AuthenticateMiddleware(authProvider, userService, logger))
	registerV1Routes(private, handlers)

	cronGroup := router.Group("/cron")
	cronGroup.Use(middleware.CronSecretMiddleware(cfg, logger))
	registerCronRoutes(cronGroup, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	// Purchase routes
	purchases := router.Group("/purchases")
	{
		purchases.POST("/checkout", handlers.Purchase.Checkout)
		purchases.GET("", handlers.Purchase.List)
	}

	// Subscription routes
	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.GET("/current", handlers.Subscription.GetCurrent)
		subscriptions.POST("/cancel", handlers.Subscription.Cancel)
	}

	// Token ledger routes
	tokens := router.Group("/tokens")
	{
		tokens.GET("/balance", handlers.Token.Balance)
		tokens.GET("/history", handlers.Token.History)
		tokens.POST("/consume", handlers.Token.Consume)
	}

	// Referral routes
	router.POST("/referrals", handlers.Referral.Register)
}

func registerCronRoutes(router *gin.RouterGroup, handlers Handlers) {
	router.POST("/maintenance", handlers.Maintenance.Run)
	router.POST("/reconciliation", handlers.Reconciliation.Run)
}
