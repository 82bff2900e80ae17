package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/auth"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/types"
)

// AuthenticateMiddleware validates the bearer token and upserts the local
// user row for the asserted identity. Downstream handlers read the LOCAL
// user id from the context, never the issuer's subject.
func AuthenticateMiddleware(provider auth.Provider, userService service.UserService, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(types.HeaderAuthorization)
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, ierr.ErrorResponse{Error: "Unauthorized"})
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, ierr.ErrorResponse{Error: "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := provider.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			logger.Debugw("failed to validate token", "error", err)
			c.JSON(http.StatusUnauthorized, ierr.ErrorResponse{Error: "Invalid token"})
			c.Abort()
			return
		}
		if claims == nil || claims.UserID == "" {
			c.JSON(http.StatusUnauthorized, ierr.ErrorResponse{Error: "Invalid token claims"})
			c.Abort()
			return
		}

		// First authenticated interaction creates the row; later ones
		// refresh the email.
		u, err := userService.EnsureUser(c.Request.Context(), claims.UserID, claims.Email)
		if err != nil {
			logger.Errorw("failed to ensure user for authenticated identity",
				"error", err,
				"external_id", claims.UserID,
			)
			c.JSON(http.StatusInternalServerError, ierr.ErrorResponse{Error: "Failed to resolve user"})
			c.Abort()
			return
		}

		ctx := types.SetUserID(c.Request.Context(), u.ID)
		ctx = types.SetUserEmail(ctx, u.Email)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
