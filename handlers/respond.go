package handlers

import (
	"errors"
	"net/http"

	"servify/domain"
	"servify/utils"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP statuses. Unknown errors are a 500;
// transient payment failures report 503 so clients know to retry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlotConflict),
		errors.Is(err, domain.ErrStaleState),
		errors.Is(err, domain.ErrTerminalState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExpiredHold):
		return http.StatusGone
	case errors.Is(err, domain.ErrPolicyViolation),
		errors.Is(err, domain.ErrNotAllowed),
		errors.Is(err, domain.ErrOverRefund):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPaymentDeclined),
		errors.Is(err, domain.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	utils.JSONError(c, statusFor(err), err.Error(), "")
}
