package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodglow-backend/internal/middleware"
	"foodglow-backend/internal/models"
)

type AccountEnsurer interface {
	EnsureAccount(ctx context.Context, id, email, displayName string) (*models.Account, error)
}

type AccountHandler struct {
	accounts AccountEnsurer
}

func NewAccountHandler(accounts AccountEnsurer) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// GetAccount godoc
// @Summary     Current account
// @Description Returns the signed-in user's credit balance and subscription. The account is created with a zero balance on first call.
// @Tags        account
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.AccountResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /account [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	acct, err := h.accounts.EnsureAccount(c.Request.Context(),
		c.GetString(middleware.UserIDKey),
		c.GetString(middleware.UserEmailKey),
		c.GetString(middleware.UserNameKey),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AccountResponse{
		ID:                 acct.ID,
		Email:              acct.Email,
		DisplayName:        acct.DisplayName,
		CreditBalance:      acct.CreditBalance,
		SubscriptionStatus: string(acct.SubscriptionStatus),
		PlanCode:           acct.PlanCode,
		Subscribed:         acct.Subscribed(),
		UpdatedAt:          acct.UpdatedAt,
	})
}
