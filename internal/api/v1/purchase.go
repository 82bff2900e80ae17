package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/types"
)

type PurchaseHandler struct {
	purchaseService service.PurchaseService
	logger          *logger.Logger
}

func NewPurchaseHandler(purchaseService service.PurchaseService, logger *logger.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseService: purchaseService,
		logger:          logger,
	}
}

// @Summary Start a token pack checkout
// @Description Creates a hosted checkout session for a one-time token purchase
// @Tags Purchases
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CheckoutRequest true "Checkout request"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /v1/purchases/checkout [post]
func (h *PurchaseHandler) Checkout(c *gin.Context) {
	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.purchaseService.StartCheckout(c.Request.Context(), types.GetUserID(c.Request.Context()), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List purchases
// @Description Lists the caller's fulfilled token purchases, newest first
// @Tags Purchases
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.ListPurchasesResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /v1/purchases [get]
func (h *PurchaseHandler) List(c *gin.Context) {
	resp, err := h.purchaseService.List(c.Request.Context(), types.GetUserID(c.Request.Context()))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
