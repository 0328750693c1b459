package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-voice-gateway/backend/internal/models"
	"ai-voice-gateway/backend/pkg/config"
	"ai-voice-gateway/backend/pkg/di"
	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/router"
	"ai-voice-gateway/backend/shared/observability"
)

func main() {
	// config.Get loads .env through godotenv before reading the environment.
	cfg := config.Get()

	logConfig := logger.DefaultConfig()
	logConfig.Level = logger.Level(cfg.Logging.Level)
	logConfig.JSON = cfg.Logging.Format != "text"

	appLog := logger.New(logConfig)
	logger.SetGlobal(appLog)

	appLog.Info("Starting voice gateway", "version", os.Getenv("APP_VERSION"))

	// Initialize database
	db, err := config.NewDB()
	if err != nil {
		appLog.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Auto-migrate the schema. The composite indexes on sessions and
	// messages are declared on the models themselves.
	if err := db.AutoMigrate(&models.ChatSession{}, &models.Message{}); err != nil {
		appLog.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	// Tracing and metrics
	shutdownTracing, err := observability.SetupTracing("voice-gateway")
	if err != nil {
		appLog.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}
	defer shutdownTracing()

	if _, _, err := observability.SetupPrometheusMetrics(); err != nil {
		appLog.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}

	// Initialize dependency injection container
	diConfig := di.DefaultConfig()
	diConfig.LoggerConfig = logConfig

	container, err := di.New(db, diConfig)
	if err != nil {
		appLog.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	// Start periodic health checks
	container.Health.Start()

	// Initialize and setup router. Validation middleware has to be
	// installed before the routes it guards.
	r := router.New(container)
	r.AddOpenAPIValidation(cfg.OpenAPI.SchemaPath)
	r.SetupRoutes()

	// The timeouts cover the REST surface; gorilla clears the connection
	// deadlines when it hijacks an upgrade, so websockets outlive them.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r.Engine,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Start the server in a goroutine
	go func() {
		appLog.Info("Server starting", "port", cfg.Server.Port, "requireAuth", cfg.Server.RequireAuth)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a signal
	<-quit
	appLog.Info("Shutting down server...")

	// In-flight turns get a grace period to finish their reply pair
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLog.LogError(err, "Server forced to shutdown")
	}

	appLog.Info("Server exited gracefully")
}
