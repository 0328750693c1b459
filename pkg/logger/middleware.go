package logger

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware returns a gin middleware that logs requests using the logger
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		reqLogger := logger
		if requestID := c.GetString("requestID"); requestID != "" {
			reqLogger = reqLogger.WithRequestID(requestID)
		}

		c.Set("logger", reqLogger)

		c.Next()

		// The identity is only on the context after the auth middleware
		// has run, so it joins the completion entry, not the scoped logger.
		if userID := c.GetString("userId"); userID != "" {
			reqLogger = reqLogger.WithUserID(userID)
		}

		latency := time.Since(start)
		reqLogger.LogRequest(
			c.Request.Method,
			path,
			c.ClientIP(),
			c.Request.UserAgent(),
			c.Writer.Status(),
			latency,
			"errors", c.Errors.String(),
		)
	}
}

// FromContext retrieves the logger from the gin context, falling back to the global logger
func FromContext(c *gin.Context) *Logger {
	if l, exists := c.Get("logger"); exists {
		if logger, ok := l.(*Logger); ok {
			return logger
		}
	}
	return GetGlobal()
}
