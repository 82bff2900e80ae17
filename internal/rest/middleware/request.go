package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tokenrail/tokenrail/internal/types"
)

// RequestIDMiddleware threads a request id through the context and echoes
// it in the response headers.
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx := types.SetRequestID(c.Request.Context(), requestID)
	c.Request = c.Request.WithContext(ctx)

	c.Header(types.HeaderRequestID, requestID)
	c.Next()
}
