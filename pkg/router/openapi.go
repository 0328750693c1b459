package router

import (
	"os"
	"path/filepath"

	"ai-voice-gateway/backend/pkg/validator"
)

// AddOpenAPIValidation installs schema validation for the REST endpoints
// and serves the schema document itself under /api/docs. Gin only applies
// middleware to routes registered after it, so this must be called before
// SetupRoutes.
func (r *Router) AddOpenAPIValidation(schemaPath string) {
	if _, err := os.Stat(schemaPath); os.IsNotExist(err) {
		r.Logger.Warn("OpenAPI schema file not found, skipping validation", "path", schemaPath)
		return
	}

	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.Error("Failed to initialize OpenAPI validator", "error", err)
		return
	}

	r.Engine.Use(v.Middleware())
	r.Engine.Static("/api/docs", filepath.Dir(schemaPath))
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath)
}
