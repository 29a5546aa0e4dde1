package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/models"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindJobDenied:
		return http.StatusForbidden
	case apperrors.KindInsufficientCredit:
		return http.StatusPaymentRequired
	case apperrors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.KindProviderTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	status := StatusFor(appErr.Kind)

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		status = http.StatusRequestEntityTooLarge
	}

	if appErr.Kind == apperrors.KindInternal {
		// The cause goes to the request log, not the client.
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Kind:      string(appErr.Kind),
		Reason:    appErr.Reason,
		Message:   appErr.Message,
		Retryable: appErr.Retryable(),
	})
}
