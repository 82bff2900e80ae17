package repository

import (
	"github.com/tokenrail/tokenrail/internal/cache"
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
	postgresRepo "github.com/tokenrail/tokenrail/internal/repository/postgres"
)

func NewUserRepository(db postgres.IClient, logger *logger.Logger) user.Repository {
	return postgresRepo.NewUserRepository(db, logger)
}

func NewSubscriptionRepository(db postgres.IClient, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewPurchaseRepository(db postgres.IClient, logger *logger.Logger) purchase.Repository {
	return postgresRepo.NewPurchaseRepository(db, logger)
}

func NewBatchRepository(db postgres.IClient, logger *logger.Logger) batch.Repository {
	return postgresRepo.NewBatchRepository(db, logger)
}

func NewTokenEventRepository(db postgres.IClient, logger *logger.Logger) tokenevent.Repository {
	return postgresRepo.NewTokenEventRepository(db, logger)
}

func NewWebhookEventRepository(db postgres.IClient, logger *logger.Logger) webhookevent.Repository {
	return postgresRepo.NewWebhookEventRepository(db, logger)
}

func NewReferralRepository(db postgres.IClient, logger *logger.Logger) referral.Repository {
	return postgresRepo.NewReferralRepository(db, logger)
}

func NewCatalogRepository(db postgres.IClient, logger *logger.Logger, cache cache.Cache) catalog.Repository {
	return postgresRepo.NewCatalogRepository(db, logger, cache)
}
