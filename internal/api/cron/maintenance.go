package cron

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
)

type MaintenanceHandler struct {
	logger             *logger.Logger
	maintenanceService service.MaintenanceService
}

func NewMaintenanceHandler(logger *logger.Logger, maintenanceService service.MaintenanceService) *MaintenanceHandler {
	return &MaintenanceHandler{
		logger:             logger,
		maintenanceService: maintenanceService,
	}
}

// Run executes the daily maintenance pass: batch expiry, subscription
// deactivation and yearly monthly refills. Reruns are no-ops.
//
// @Summary Run the maintenance pass
// @Tags Cron
// @Produce json
// @Success 200 {object} dto.MaintenanceRunResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /cron/maintenance [post]
func (h *MaintenanceHandler) Run(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting maintenance cron job", "at", now.Format(time.RFC3339))

	response, err := h.maintenanceService.Run(c.Request.Context(), now)
	if err != nil {
		h.logger.Errorw("maintenance run failed", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}
