package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenrail/tokenrail/internal/api/dto"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/types"
)

type TokenHandler struct {
	ledgerService service.LedgerService
	logger        *logger.Logger
}

func NewTokenHandler(ledgerService service.LedgerService, logger *logger.Logger) *TokenHandler {
	return &TokenHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// @Summary Get token balance
// @Description Returns the caller's spendable token total
// @Tags Tokens
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.BalanceResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /v1/tokens/balance [get]
func (h *TokenHandler) Balance(c *gin.Context) {
	balance, err := h.ledgerService.Balance(c.Request.Context(), types.GetUserID(c.Request.Context()))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, &dto.BalanceResponse{Balance: balance})
}

// @Summary Get token history
// @Description Returns the caller's journal entries, newest first
// @Tags Tokens
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} dto.TokenHistoryResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /v1/tokens/history [get]
func (h *TokenHandler) History(c *gin.Context) {
	var filter types.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid pagination parameters").
			Mark(ierr.ErrValidation))
		return
	}

	events, err := h.ledgerService.History(c.Request.Context(), types.GetUserID(c.Request.Context()), &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTokenHistoryResponse(events, &filter))
}

// @Summary Consume tokens
// @Description Debits tokens from the caller's balance in expiry order
// @Tags Tokens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.ConsumeTokensRequest true "Consume request"
// @Success 200 {object} dto.ConsumeTokensResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /v1/tokens/consume [post]
func (h *TokenHandler) Consume(c *gin.Context) {
	var req dto.ConsumeTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	userID := types.GetUserID(c.Request.Context())
	consumed, err := h.ledgerService.Consume(c.Request.Context(), &batch.ConsumeOperation{
		UserID:     userID,
		Amount:     req.Amount,
		Reason:     types.TokenEventReasonConsumption,
		BestEffort: req.BestEffort,
	})
	if err != nil {
		c.Error(err)
		return
	}

	if req.Reason != "" {
		h.logger.Infow("tokens consumed",
			"user_id", userID,
			"consumed", consumed,
			"reason", req.Reason,
		)
	}

	balance, err := h.ledgerService.Balance(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, &dto.ConsumeTokensResponse{
		Requested: req.Amount,
		Consumed:  consumed,
		Balance:   balance,
	})
}
