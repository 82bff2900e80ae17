package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/types"
)

// ErrorHandler translates errors attached via c.Error into the uniform
// body. The last error wins; its sentinel mark picks the status code.
// Hints and reportable details are the only parts of an error that reach
// the client, everything else stays in the logs.
func ErrorHandler(logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status := ierr.HTTPStatusFromErr(err)

		fields := []any{
			"status", status,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", types.GetRequestID(c.Request.Context()),
			"error", err,
		}
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
		} else {
			logger.Debugw("request rejected", fields...)
		}

		c.JSON(status, ierr.NewErrorResponse(err))
	}
}
