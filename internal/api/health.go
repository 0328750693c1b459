package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ai-voice-gateway/backend/pkg/health"
)

// HealthController exposes the liveness probe and the component detail
// view backed by pkg/health.
type HealthController struct {
	checker *health.Checker
}

// NewHealthController creates a new health controller.
func NewHealthController(checker *health.Checker) *HealthController {
	return &HealthController{checker: checker}
}

// RegisterRoutes registers the health endpoints.
func (hc *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/health", hc.Health)
	router.GET("/api/health/details", gin.WrapF(hc.checker.HTTPHandler()))
}

// Health answers the load balancer probe. The body is the literal string
// older clients already expect.
func (hc *HealthController) Health(c *gin.Context) {
	c.String(http.StatusOK, "Healthy")
}
