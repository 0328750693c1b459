package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"ai-voice-gateway/backend/internal/api"
	"ai-voice-gateway/backend/internal/ws"
	"ai-voice-gateway/backend/pkg/config"
	"ai-voice-gateway/backend/pkg/di"
	"ai-voice-gateway/backend/pkg/errors"
	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/middleware"
)

// Router is the main router for the application.
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Hub       *ws.Hub
	Config    *config.Config
}

// New creates a new router with the given container.
func New(container *di.Container) *Router {
	// Use the container's logger
	logger.SetGlobal(container.Logger)

	cfg := config.Get()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request id first so every later middleware logs with it.
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	limiterOptions := middleware.DefaultRateLimiterOptions()
	limiterOptions.Limit = rate.Limit(cfg.Security.RateLimit)
	limiterOptions.Burst = cfg.Security.RateLimitBurst
	rateLimiter := middleware.NewRateLimiter(container.Logger, limiterOptions)
	engine.Use(rateLimiter.Middleware())

	// The hub carries the adapter clients shared by every connection.
	hub := ws.NewHub(
		container.TokenVerifier,
		container.SessionStore,
		container.SpeechToText,
		container.TextToSpeech,
		container.QueryResolver,
		ws.Config{
			RequireAuth:      cfg.Server.RequireAuth,
			STTTimeout:       cfg.Timeouts.STT,
			QueryTimeout:     cfg.Timeouts.Query,
			TTSTimeout:       cfg.Timeouts.TTS,
			StoreTimeout:     cfg.Timeouts.Store,
			SendBufferFrames: cfg.WS.SendBufferFrames,
			MaxMessageBytes:  cfg.WS.MaxMessageBytes,
		},
		container.Logger,
	)

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Hub:       hub,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes.
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware(r.Config.Security.AllowedOrigins))

	// WebSocket endpoint at the root path. Some older client builds
	// still dial /ws.
	serveWs := func(c *gin.Context) {
		ws.ServeWs(r.Hub, c.Writer, c.Request)
	}
	r.Engine.GET("/", serveWs)
	r.Engine.GET("/ws", serveWs)

	chatController := api.NewChatController(r.Container.SessionService, r.Logger)
	chatController.RegisterRoutes(r.Engine, r.Container.JWTService)

	healthController := api.NewHealthController(r.Container.Health)
	healthController.RegisterRoutes(r.Engine)

	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Engine.NoRoute(func(c *gin.Context) {
		c.Error(errors.NewNotFoundError("NOT_FOUND", "The requested resource does not exist"))
	})
}

// corsMiddleware allows browser clients on the configured origins to
// reach the HTTP surface and carries the headers WebSocket upgrades need.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "":
			origin = "*"
		case !allowAll && !allowed[origin]:
			// Leave the headers unset; the browser blocks the response.
			c.Next()
			return
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
