package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/utils"
)

// RevokedTokenKey is the Redis key marking a token as logged out before it expires.
func RevokedTokenKey(token string) string {
	return "RevokedToken:" + token
}

// SessionMiddleware rejects tokens that were revoked in Redis. It runs after AuthMiddleware.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok || token == "" {
			c.Next()
			return
		}
		_, revoked, err := config.GetRedisValue(RevokedTokenKey(token))
		if err != nil {
			config.LogError(config.GetLogger(), "SessionMiddleware", "SessionMiddleware", "redis lookup", nil, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
