package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/Kaydot97/DecentralizedEscrow/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/next-id", h.NextID)
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/escrows/:id/dispute", h.GetDispute)
	r.GET("/agents/:address/escrows", h.ListEscrows)
}

// RegisterProtectedRoutes sets up protected (auth-required) escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.POST("/escrows/:id/fund", h.FundEscrow)
	r.POST("/escrows/:id/release", h.ReleaseEscrow)
	r.POST("/escrows/:id/dispute", h.DisputeEscrow)
	r.POST("/escrows/:id/resolve", h.ResolveEscrow)
	r.POST("/escrows/:id/cancel", h.CancelEscrow)
}

// escrowID parses the :id route parameter. A non-numeric ID is a malformed
// request, not a missing escrow.
func escrowID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "escrow id must be a non-negative integer",
		})
		return 0, false
	}
	return id, true
}

// respondError maps service errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrEscrowNotFound), errors.Is(err, ErrDisputeNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
		code = "invalid_input"
	case errors.Is(err, ErrTransferFailed):
		status = http.StatusBadGateway
		code = "transfer_failed"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sellerAddr and amount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("seller_addr", req.SellerAddr),
		validation.ValidAddress("seller_addr", req.SellerAddr),
		validation.PositiveAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, validation.MaxDescriptionLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	// The authenticated caller is the buyer.
	buyerAddr := c.GetString("authAgentAddr")

	escrow, err := h.service.Create(c.Request.Context(), buyerAddr, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": escrow})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}

	escrow, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// NextID handles GET /v1/escrows/next-id
func (h *Handler) NextID(c *gin.Context) {
	next, err := h.service.NextID(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"nextId": next})
}

// ListEscrows handles GET /v1/agents/:address/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	address := c.Param("address")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	escrows, err := h.service.ListByAgent(c.Request.Context(), address, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrows": escrows,
		"count":   len(escrows),
	})
}

// FundEscrow handles POST /v1/escrows/:id/fund
func (h *Handler) FundEscrow(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	callerAddr := c.GetString("authAgentAddr") // Set by auth middleware

	escrow, err := h.service.Fund(c.Request.Context(), id, callerAddr)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// ReleaseEscrow handles POST /v1/escrows/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	callerAddr := c.GetString("authAgentAddr")

	escrow, err := h.service.Release(c.Request.Context(), id, callerAddr)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// CancelEscrow handles POST /v1/escrows/:id/cancel
func (h *Handler) CancelEscrow(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	callerAddr := c.GetString("authAgentAddr")

	escrow, err := h.service.Cancel(c.Request.Context(), id, callerAddr)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// DisputeEscrow handles POST /v1/escrows/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	callerAddr := c.GetString("authAgentAddr")

	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	if len(req.Reason) > validation.MaxReasonLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": "reason exceeds maximum length",
		})
		return
	}

	escrow, err := h.service.Dispute(c.Request.Context(), id, callerAddr, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// GetDispute handles GET /v1/escrows/:id/dispute
func (h *Handler) GetDispute(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}

	dispute, err := h.service.GetDispute(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// ResolveEscrow handles POST /v1/escrows/:id/resolve
func (h *Handler) ResolveEscrow(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	callerAddr := c.GetString("authAgentAddr")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "winner is required (buyer or seller)",
		})
		return
	}

	if w := strings.ToLower(req.Winner); w != WinnerBuyer && w != WinnerSeller {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": "winner must be buyer or seller",
		})
		return
	}

	escrow, err := h.service.Resolve(c.Request.Context(), id, callerAddr, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}
