package middleware

import (
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/config"
)

// SentryMiddleware ties each request to a Sentry hub so handler panics and
// slow spans are reported. Repanic lets gin.Recovery keep producing the 500.
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}
