package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/config"
)

// CORSMiddleware admits browser calls from the web app. The API is consumed
// by the SPA on the configured site domain; when no domain is configured
// (local development) any origin is allowed.
func CORSMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	allowedOrigin := cfg.Site.Domain
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", allowedOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
