package middleware

import (
	"strings"

	"ai-voice-gateway/backend/pkg/errors"
	"ai-voice-gateway/backend/pkg/jwt"
	"ai-voice-gateway/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// JWTAuthMiddleware checks that the request carries a valid bearer token
// and stores the verified identity on the context
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")

		identity, err := jwtService.Verify(token)
		if err != nil {
			log.Warn("Rejected request with invalid token",
				"path", c.Request.URL.Path,
				"error", err.Error(),
			)
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("userId", identity.UserID)
		c.Set("role", string(identity.Role))

		c.Next()
	}
}
