package handlers

import (
	"net/http"

	"servify/services/payment"
	"servify/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentHandler exposes payment plans and refunds over HTTP.
type PaymentHandler struct {
	Ledger payment.PaymentLedger
	Log    *zap.Logger
}

// GetPlan handles GET /api/bookings/:id/plan.
func (h *PaymentHandler) GetPlan(c *gin.Context) {
	plan, err := h.Ledger.PlanForBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// RefundBooking handles POST /api/bookings/:id/refund. Amount zero or absent
// means a full refund of the net captured amount.
func (h *PaymentHandler) RefundBooking(c *gin.Context) {
	var input struct {
		Amount int64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	if err := h.Ledger.Refund(c.Request.Context(), c.Param("id"), input.Amount); err != nil {
		writeError(c, err)
		return
	}

	plan, err := h.Ledger.PlanForBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}
