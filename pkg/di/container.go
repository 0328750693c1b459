package di

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ai-voice-gateway/backend/ai"
	"ai-voice-gateway/backend/internal/repository"
	"ai-voice-gateway/backend/internal/service"
	"ai-voice-gateway/backend/pkg/cache"
	"ai-voice-gateway/backend/pkg/config"
	"ai-voice-gateway/backend/pkg/health"
	"ai-voice-gateway/backend/pkg/jwt"
	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/resilience"
	"ai-voice-gateway/backend/pkg/secrets"
	sharedredis "ai-voice-gateway/backend/shared/redis"
)

// Container holds all the dependencies for the application.
type Container struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config

	JWTService *jwt.Service

	// Redis is nil when no address is configured; the ownership cache
	// then runs in-process.
	Redis          *sharedredis.RedisClient
	OwnershipCache service.OwnershipCache

	SessionRepository repository.SessionRepository
	SessionService    *service.SessionService

	STTClient      *ai.STTClient
	TTSClient      *ai.TTSClient
	ResolverClient *ai.ResolverClient

	// Adapters in the shape the ws hub consumes.
	TokenVerifier *service.TokenVerifierAdapter
	SessionStore  *service.SessionStoreAdapter
	SpeechToText  *service.STTAdapter
	TextToSpeech  *service.TTSAdapter
	QueryResolver *service.ResolverAdapter

	Health *health.Checker
}

// Config holds the configuration for the container.
type Config struct {
	LoggerConfig logger.Config
	JWTSecret    string
	JWTExpiry    time.Duration
}

// DefaultConfig returns a configuration derived from the environment.
func DefaultConfig() *Config {
	appCfg := config.Get()
	return &Config{
		LoggerConfig: logger.DefaultConfig(),
		JWTSecret:    appCfg.JWT.Secret,
		JWTExpiry:    appCfg.JWT.ExpiryHours,
	}
}

// New creates a new dependency injection container.
func New(db *gorm.DB, cfg *Config) (*Container, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	appCfg := config.Get()

	log := logger.New(cfg.LoggerConfig)

	if err := secrets.Init(log); err != nil {
		// Environment variables still serve every key without it.
		log.Warn("Secret manager unavailable, reading credentials from environment", "error", err)
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTExpiry)

	// Ownership cache: Redis when an address is configured, otherwise the
	// in-process cache. Either way a miss falls through to the store.
	var redisClient *sharedredis.RedisClient
	var ownershipCache service.OwnershipCache
	if appCfg.Redis.Addr != "" {
		redisClient = sharedredis.NewRedisClientWithOptions(appCfg.Redis.Addr, appCfg.Redis.Password, appCfg.Redis.DB)
		ownershipCache = service.NewRedisOwnershipCache(redisClient, appCfg.Cache.TTL, log)
	} else {
		ownershipCache = service.NewMemoryOwnershipCache(cache.NewCache())
	}

	sessionRepo := repository.NewGormSessionRepository(db)
	sessionService := service.NewSessionService(sessionRepo, ownershipCache, log, appCfg.Timeouts.Store)

	speechCfg := ai.SpeechConfig{
		LanguageCode: appCfg.Speech.LanguageCode,
		SampleRateHz: appCfg.Speech.SampleRateHz,
		VoiceName:    appCfg.Speech.VoiceName,
		VoiceGender:  appCfg.Speech.VoiceGender,
		SpeakingRate: appCfg.Speech.SpeakingRate,
	}

	ctx := context.Background()
	sttKey := secrets.GetSecretWithDefault(ctx, "stt-api-key", appCfg.Speech.STTAPIKey)
	ttsKey := secrets.GetSecretWithDefault(ctx, "tts-api-key", appCfg.Speech.TTSAPIKey)
	resolverKey := secrets.GetSecretWithDefault(ctx, "resolver-api-key", appCfg.Resolver.APIKey)

	sttBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("stt"), log)
	ttsBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("tts"), log)
	resolverBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("resolver"), log)

	sttClient := ai.NewSTTClient(appCfg.Speech.STTURL, sttKey, speechCfg, sttBreaker, log)
	ttsClient := ai.NewTTSClient(appCfg.Speech.TTSURL, ttsKey, speechCfg, ttsBreaker, log)
	resolverClient := ai.NewResolverClient(appCfg.Resolver.URL, resolverKey, resolverBreaker, log)

	checker := health.NewChecker(log, time.Minute)
	checker.RegisterDatabaseCheck(func() error { return config.TestConnection(db) })
	if redisClient != nil {
		checker.RegisterRedisCheck(redisClient.Ping)
	}
	// Providers expose GET /health locally and in the simulator; on a
	// failure the check degrades without gating /api/health.
	if appCfg.Speech.STTURL != "" {
		checker.RegisterProviderCheck("stt", appCfg.Speech.STTURL+"/health", nil)
	}
	if appCfg.Speech.TTSURL != "" {
		checker.RegisterProviderCheck("tts", appCfg.Speech.TTSURL+"/health", nil)
	}
	if appCfg.Resolver.URL != "" {
		checker.RegisterProviderCheck("resolver", appCfg.Resolver.URL+"/health", nil)
	}
	checker.RegisterBreakerCheck("stt", func() string { return string(sttBreaker.GetState()) })
	checker.RegisterBreakerCheck("tts", func() string { return string(ttsBreaker.GetState()) })
	checker.RegisterBreakerCheck("resolver", func() string { return string(resolverBreaker.GetState()) })

	return &Container{
		DB:                db,
		Logger:            log,
		Config:            appCfg,
		JWTService:        jwtService,
		Redis:             redisClient,
		OwnershipCache:    ownershipCache,
		SessionRepository: sessionRepo,
		SessionService:    sessionService,
		STTClient:         sttClient,
		TTSClient:         ttsClient,
		ResolverClient:    resolverClient,
		TokenVerifier:     service.NewTokenVerifierAdapter(jwtService),
		SessionStore:      service.NewSessionStoreAdapter(sessionService),
		SpeechToText:      service.NewSTTAdapter(sttClient),
		TextToSpeech:      service.NewTTSAdapter(ttsClient),
		QueryResolver:     service.NewResolverAdapter(resolverClient),
		Health:            checker,
	}, nil
}
