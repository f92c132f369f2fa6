package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the gin context key holding the validated *APIKey.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAgentAddr is the gin context key holding the caller's address.
	ContextKeyAgentAddr = "authAgentAddr"
)

// Middleware extracts and validates the API key, if present. It never rejects:
// it only annotates the context so downstream guards can decide.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			if key, err := m.ValidateKey(c.Request.Context(), apiKey); err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAgentAddr, key.AccountAddr)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests that did not present a valid key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer esk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireOwnership requires auth AND that the caller's address matches the
// named URL parameter.
func RequireOwnership(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, exists := c.Get(ContextKeyAPIKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		apiKey, ok := key.(*APIKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Invalid authentication state",
			})
			return
		}

		targetAddr := strings.ToLower(c.Param(paramName))
		if apiKey.AccountAddr != targetAddr {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You do not control this account.",
			})
			return
		}

		c.Next()
	}
}

// RequireAdminSecret guards operational endpoints with a shared secret,
// independent of the account-key scheme. An empty configured secret disables
// the endpoints entirely.
func RequireAdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Endpoint not available",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// CallerAddress returns the authenticated caller's address, or "".
func CallerAddress(c *gin.Context) string {
	addr, exists := c.Get(ContextKeyAgentAddr)
	if !exists {
		return ""
	}
	return addr.(string)
}

// IsAuthenticated reports whether the request presented a valid key.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
