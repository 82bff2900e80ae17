package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/config"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/types"
)

// CronSecretMiddleware guards the scheduled-job endpoints with a shared
// secret header. An empty configured secret disables the guard, which is
// only sane for local runs.
func CronSecretMiddleware(cfg *config.Configuration, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := cfg.Cron.Secret
		if secret == "" {
			logger.Warnw("cron endpoints are unguarded, set CRON_SECRET",
				"path", c.Request.URL.Path,
			)
			c.Next()
			return
		}

		provided := c.GetHeader(types.HeaderCronSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			logger.Warnw("rejected cron request with bad secret",
				"path", c.Request.URL.Path,
			)
			c.JSON(http.StatusForbidden, ierr.ErrorResponse{Error: "Forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
