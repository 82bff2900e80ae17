package v1

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/types"
)

// WebhookHandler receives payment gateway events. Whatever it answers, the
// gateway's retry loop is the other party: 2xx means "stop sending this
// event", everything else means "try again later".
type WebhookHandler struct {
	webhookService service.WebhookService
	logger         *logger.Logger
}

func NewWebhookHandler(webhookService service.WebhookService, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// @Summary Receive a payment gateway event
// @Description Verifies, dedupes and processes one signed gateway event
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookResult
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /v1/webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Errorw("failed to read webhook body", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Failed to read request body").
			Mark(ierr.ErrValidation))
		return
	}

	signature := c.GetHeader(types.HeaderGatewaySignature)
	if signature == "" {
		c.Error(ierr.NewError("missing signature header").
			WithHint("Missing Stripe-Signature header").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.webhookService.ProcessEvent(c.Request.Context(), body, signature)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
