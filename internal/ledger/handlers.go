package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for ledger operations.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// GetBalance handles GET /v1/agents/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	addr := c.Param("address")

	bal, err := h.ledger.GetBalance(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to fetch balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /v1/agents/:address/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	addr := c.Param("address")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), addr, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to fetch ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// DepositRequest contains the parameters for recording a deposit.
type DepositRequest struct {
	AccountAddr string `json:"accountAddr" binding:"required"`
	Amount      uint64 `json:"amount" binding:"required"`
	TxHash      string `json:"txHash" binding:"required"`
}

// RecordDeposit handles POST /v1/admin/deposits
// In production this is called by the payment rail's webhook/indexer.
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "accountAddr, amount, and txHash are required",
		})
		return
	}

	err := h.ledger.Deposit(c.Request.Context(), req.AccountAddr, req.Amount, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateDeposit):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_deposit",
				"message": "This deposit has already been processed",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be greater than zero",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to record deposit",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "credited"})
}

// RegisterRoutes sets up public (read-only) ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/agents/:address/balance", h.GetBalance)
	r.GET("/agents/:address/ledger", h.GetHistory)
}
