package internal

import (
	"fmt"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	"github.com/tokenrail/tokenrail/internal/domain/tokenevent"
	"github.com/tokenrail/tokenrail/internal/domain/user"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
	"github.com/tokenrail/tokenrail/internal/repository"
	"github.com/tokenrail/tokenrail/internal/sentry"
)

// scriptDeps is the hand-wired slice of the application that operational
// scripts need: config, logging and direct repository access. Scripts run
// against the live database, so they go through the same instrumented
// client the server uses.
type scriptDeps struct {
	cfg *config.Configuration
	log *logger.Logger
	db  postgres.IClient

	userRepo       user.Repository
	purchaseRepo   purchase.Repository
	batchRepo      batch.Repository
	tokenEventRepo tokenevent.Repository
}

func newScriptDeps() (*scriptDeps, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	client := postgres.NewSentryClient(db, sentry.NewSentryService(cfg, log), log)

	return &scriptDeps{
		cfg:            cfg,
		log:            log,
		db:             client,
		userRepo:       repository.NewUserRepository(client, log),
		purchaseRepo:   repository.NewPurchaseRepository(client, log),
		batchRepo:      repository.NewBatchRepository(client, log),
		tokenEventRepo: repository.NewTokenEventRepository(client, log),
	}, nil
}
