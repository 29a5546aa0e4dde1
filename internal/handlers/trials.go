package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/models"
)

type TrialClaimer interface {
	ClaimTrial(ctx context.Context, name, email string, meta models.ClaimMetadata) (bool, error)
}

type TrialsHandler struct {
	trials TrialClaimer
}

func NewTrialsHandler(trials TrialClaimer) *TrialsHandler {
	return &TrialsHandler{trials: trials}
}

// ClaimTrial godoc
// @Summary     Claim the free trial
// @Description Registers a name and email for one free enhancement. Claiming again before the trial is used returns eligible=true again.
// @Tags        trials
// @Accept      json
// @Produce     json
// @Param       request body models.ClaimTrialRequest true "Name and email"
// @Success     200 {object} models.ClaimTrialResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     429 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /trials/claim [post]
func (h *TrialsHandler) ClaimTrial(c *gin.Context) {
	var req models.ClaimTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("a name of 2 to 60 characters and a valid email are required"))
		return
	}

	eligible, err := h.trials.ClaimTrial(c.Request.Context(), req.Name, req.Email, models.ClaimMetadata{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ClaimTrialResponse{Eligible: eligible})
}
