package cron

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
)

type ReconciliationHandler struct {
	logger                *logger.Logger
	reconciliationService service.ReconciliationService
}

func NewReconciliationHandler(logger *logger.Logger, reconciliationService service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		logger:                logger,
		reconciliationService: reconciliationService,
	}
}

// Run cross-checks local subscriptions against the gateway and reports
// drift. Pass audit_balances=true to also prove every user's journal sum
// against their batch remainders.
//
// @Summary Run the reconciliation pass
// @Tags Cron
// @Produce json
// @Param audit_balances query bool false "Also audit per-user balances"
// @Success 200 {object} dto.ReconciliationRunResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /cron/reconciliation [post]
func (h *ReconciliationHandler) Run(c *gin.Context) {
	auditBalances := c.Query("audit_balances") == "true"
	h.logger.Infow("starting reconciliation cron job",
		"at", time.Now().UTC().Format(time.RFC3339),
		"audit_balances", auditBalances,
	)

	response, err := h.reconciliationService.Run(c.Request.Context(), auditBalances)
	if err != nil {
		h.logger.Errorw("reconciliation run failed", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}
