package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/logger"
)

type HealthHandler struct {
	logger *logger.Logger
}

func NewHealthHandler(
	logger *logger.Logger,
) *HealthHandler {
	return &HealthHandler{
		logger: logger,
	}
}

// @Summary Health check
// @Description Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
