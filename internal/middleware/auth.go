package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-relay-server/internal/auth"
	"chat-relay-server/internal/identity"
)

const callerContextKey = "caller"

func CallerFromContext(c *gin.Context) (identity.Identity, bool) {
	value, ok := c.Get(callerContextKey)
	if !ok {
		return identity.Identity{}, false
	}
	caller, ok := value.(identity.Identity)
	return caller, ok && caller.ID > 0
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(callerContextKey, claims.Identity())
		c.Next()
	}
}
