package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/postgres"
)

func main() {
	// Parse command line flags
	dryRun := flag.Bool("dry-run", false, "Print migration SQL without executing it")
	flag.Parse()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Check if we're in dry-run mode
	if *dryRun {
		logger.Info("Dry run mode - printing migration SQL without executing")
		for _, stmt := range postgres.Schema() {
			fmt.Println(stmt + ";")
		}
		return
	}

	// This command is the explicit migration path; the connection itself
	// must not migrate on open.
	cfg.Postgres.AutoMigrate = false

	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)
	db, err := postgres.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Run the actual migration
	logger.Info("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		logger.Fatalw("Failed to create schema resources", "error", err)
	}
	logger.Info("Migration completed successfully")

	fmt.Println("Migration process completed")
}
