package policy

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/Kaydot97/DecentralizedEscrow/internal/validation"
)

// Handler provides HTTP endpoints for platform configuration.
type Handler struct {
	service *Service
}

// NewHandler creates a new policy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/platform", h.GetPlatform)
	r.GET("/fees", h.QuoteFee)
}

// RegisterAdminRoutes sets up owner-only configuration routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/arbiter", h.SetArbiter)
	r.POST("/fee-rate", h.SetFeeRate)
}

// GetPlatform handles GET /v1/platform
func (h *Handler) GetPlatform(c *gin.Context) {
	settings, err := h.service.Settings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load platform settings",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owner":      h.service.Owner(),
		"arbiter":    settings.Arbiter,
		"feeRateBps": settings.FeeRateBps,
	})
}

// QuoteFee handles GET /v1/fees?amount=N
func (h *Handler) QuoteFee(c *gin.Context) {
	amount, err := strconv.ParseUint(c.Query("amount"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount must be a non-negative integer",
		})
		return
	}

	fee, err := h.service.CalculateFee(c.Request.Context(), amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute fee",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount": amount,
		"fee":    fee,
		"payout": amount - fee,
	})
}

// SetArbiterRequest contains the parameters for changing the arbiter.
type SetArbiterRequest struct {
	Arbiter string `json:"arbiter" binding:"required"`
}

// SetArbiter handles POST /v1/admin/arbiter
func (h *Handler) SetArbiter(c *gin.Context) {
	caller := c.GetString("authAgentAddr")

	var req SetArbiterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "arbiter is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("arbiter", req.Arbiter),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	if err := h.service.SetArbiter(c.Request.Context(), caller, req.Arbiter); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Only the platform owner can change the arbiter",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update arbiter",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// SetFeeRateRequest contains the parameters for changing the fee rate.
type SetFeeRateRequest struct {
	FeeRateBps *uint32 `json:"feeRateBps" binding:"required"`
}

// SetFeeRate handles POST /v1/admin/fee-rate
func (h *Handler) SetFeeRate(c *gin.Context) {
	caller := c.GetString("authAgentAddr")

	var req SetFeeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FeeRateBps == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "feeRateBps is required",
		})
		return
	}

	err := h.service.SetFeeRate(c.Request.Context(), caller, *req.FeeRateBps)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Only the platform owner can change the fee rate",
			})
		case errors.Is(err, ErrInvalidConfig):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_config",
				"message": "feeRateBps must be between 0 and 1000",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to update fee rate",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
