package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/pkg/jwt"
)

// Context keys set by Auth.
const (
	CtxUserID      = "user_id"
	CtxDisplayName = "display_name"
	CtxRole        = "role"
)

// Auth validates the bearer token and puts the caller's identity into the
// Gin context. Identity is issued by the separate auth service; this service
// only verifies.
func Auth(manager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := manager.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxDisplayName, claims.DisplayName)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// UserID pulls the authenticated user id out of the Gin context.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(CtxUserID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok
}

// DisplayName pulls the authenticated display name out of the Gin context.
func DisplayName(c *gin.Context) string {
	val, exists := c.Get(CtxDisplayName)
	if !exists {
		return ""
	}
	name, _ := val.(string)
	return name
}
