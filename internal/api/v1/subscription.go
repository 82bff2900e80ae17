package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/types"
)

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	logger              *logger.Logger
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService, logger *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		logger:              logger,
	}
}

// @Summary Cancel the active subscription
// @Description Schedules the caller's active subscription to end with the paid period
// @Tags Subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.CancelSubscriptionResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /v1/subscriptions/cancel [post]
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	resp, err := h.subscriptionService.CancelCurrent(c.Request.Context(), types.GetUserID(c.Request.Context()))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get the active subscription
// @Description Returns the caller's newest active subscription
// @Tags Subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /v1/subscriptions/current [get]
func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	resp, err := h.subscriptionService.GetCurrent(c.Request.Context(), types.GetUserID(c.Request.Context()))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
