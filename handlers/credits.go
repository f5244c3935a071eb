package handlers

import (
	"net/http"

	"servify/services/payment"
	"servify/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreditHandler exposes the prepaid credit ledger over HTTP.
type CreditHandler struct {
	Ledger payment.PaymentLedger
	Log    *zap.Logger
}

// GetBalance handles GET /api/credits/:customerID.
func (h *CreditHandler) GetBalance(c *gin.Context) {
	bal, err := h.Ledger.Balance(c.Request.Context(), c.Param("customerID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// ListTransactions handles GET /api/credits/:customerID/transactions.
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	txs, err := h.Ledger.Transactions(c.Request.Context(), c.Param("customerID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// PurchaseCredits handles POST /api/credits/purchase.
func (h *CreditHandler) PurchaseCredits(c *gin.Context) {
	var input struct {
		CustomerID string `json:"customer_id" binding:"required"`
		Credits    int64  `json:"credits" binding:"required"`
		Price      int64  `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	bal, err := h.Ledger.PurchaseCredits(c.Request.Context(), input.CustomerID, input.Credits, input.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}
