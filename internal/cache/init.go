package cache

import (
	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"
)

// Initialize builds the cache used by the repositories
func Initialize(cfg *config.Configuration, log *logger.Logger) Cache {
	log.Infow("initializing cache", "enabled", cfg.Cache.Enabled)
	return NewInMemoryCache(cfg)
}
