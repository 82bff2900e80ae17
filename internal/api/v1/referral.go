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

type ReferralHandler struct {
	referralService service.ReferralService
	logger          *logger.Logger
}

func NewReferralHandler(referralService service.ReferralService, logger *logger.Logger) *ReferralHandler {
	return &ReferralHandler{
		referralService: referralService,
		logger:          logger,
	}
}

// @Summary Register a referral
// @Description Records that the caller signed up through another user's referral link
// @Tags Referrals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.RegisterReferralRequest true "Referral registration"
// @Success 200 {object} dto.ReferralResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /v1/referrals [post]
func (h *ReferralHandler) Register(c *gin.Context) {
	var req dto.RegisterReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	ref, err := h.referralService.Register(c.Request.Context(), req.ReferrerID, types.GetUserID(c.Request.Context()))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewReferralResponse(ref))
}
