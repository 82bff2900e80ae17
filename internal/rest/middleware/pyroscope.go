package middleware

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"

	"github.com/tokenrail/tokenrail/internal/config"
)

// PyroscopeMiddleware returns a middleware that adds profiling labels to HTTP requests
func PyroscopeMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Pyroscope.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		labels := []string{
			"method", c.Request.Method,
			"endpoint", c.FullPath(),
			"handler", fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()),
		}

		pyroscope.TagWrapper(context.Background(), pyroscope.Labels(labels...), func(ctx context.Context) {
			c.Next()
		})
	}
}
