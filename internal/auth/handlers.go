package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/Kaydot97/DecentralizedEscrow/internal/validation"
)

// Handler provides HTTP endpoints for key management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up the public registration route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
}

// RegisterProtectedRoutes sets up key management routes for authenticated
// callers.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/keys", h.CreateKey)
	r.GET("/auth/keys", h.ListKeys)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
}

// RegisterRequest contains the parameters for claiming an address.
type RegisterRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
}

// Register handles POST /v1/auth/register. An address can be claimed once:
// the first caller gets the key, and further keys require that key.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "address is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	addr := validation.SanitizeAddress(req.Address)

	existing, err := h.manager.ListKeys(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to check existing keys",
		})
		return
	}
	for _, k := range existing {
		if !k.Revoked {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_registered",
				"message": "Address already has an active key",
			})
			return
		}
	}

	raw, key, err := h.manager.IssueKey(c.Request.Context(), addr,
		validation.SanitizeString(req.Name, 64), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to issue key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey": raw, // shown once, never again
		"key":    key,
	})
}

// CreateKeyRequest contains the parameters for issuing an additional key.
type CreateKeyRequest struct {
	Name      string `json:"name"`
	ExpiresIn string `json:"expiresIn"` // Duration string, e.g. "720h"
}

// CreateKey handles POST /v1/auth/keys
func (h *Handler) CreateKey(c *gin.Context) {
	callerAddr := CallerAddress(c)

	var req CreateKeyRequest
	_ = c.ShouldBindJSON(&req) // both fields optional

	var ttl time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "expiresIn must be a positive duration like \"720h\"",
			})
			return
		}
		ttl = d
	}

	raw, key, err := h.manager.IssueKey(c.Request.Context(), callerAddr,
		validation.SanitizeString(req.Name, 64), ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to issue key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey": raw,
		"key":    key,
	})
}

// ListKeys handles GET /v1/auth/keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), CallerAddress(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list keys",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /v1/auth/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	keyID := c.Param("keyId")

	err := h.manager.RevokeKey(c.Request.Context(), keyID, CallerAddress(c))
	if err != nil {
		if err == ErrKeyNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Key not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to revoke key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
