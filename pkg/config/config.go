package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port        string
		Env         string
		Timeout     time.Duration
		RequireAuth bool
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration (optional; the ownership cache falls back to
	// the in-process cache when Addr is empty)
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
	}

	// Speech provider endpoints and options
	Speech struct {
		STTURL       string
		STTAPIKey    string
		TTSURL       string
		TTSAPIKey    string
		LanguageCode string
		SampleRateHz int
		VoiceName    string
		VoiceGender  string
		SpeakingRate float64
	}

	// Query resolver endpoint
	Resolver struct {
		URL    string
		APIKey string
	}

	// Per-phase deadlines for external calls
	Timeouts struct {
		STT   time.Duration
		Query time.Duration
		TTS   time.Duration
		Store time.Duration
	}

	// WebSocket limits
	WS struct {
		SendBufferFrames int
		MaxMessageBytes  int64
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Cache settings for the in-process ownership cache
	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// OpenAPI schema location for request validation
	OpenAPI struct {
		SchemaPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "7000")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.RequireAuth = getEnvString("REQUIRE_AUTH", "") == "true"

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "voice-gateway")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// Redis config
		instance.Redis.Addr = getEnvString("REDIS_URL", "")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)

		// JWT config
		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		// Speech providers
		instance.Speech.STTURL = getEnvString("STT_URL", "http://localhost:5001")
		instance.Speech.STTAPIKey = getEnvString("STT_API_KEY", "")
		instance.Speech.TTSURL = getEnvString("TTS_URL", "http://localhost:5001")
		instance.Speech.TTSAPIKey = getEnvString("TTS_API_KEY", "")
		instance.Speech.LanguageCode = getEnvString("STT_LANGUAGE_CODE", "en-IN")
		instance.Speech.SampleRateHz = getEnvInt("STT_SAMPLE_RATE", 16000)
		instance.Speech.VoiceName = getEnvString("TTS_VOICE_NAME", "")
		instance.Speech.VoiceGender = getEnvString("TTS_VOICE_GENDER", "NEUTRAL")
		instance.Speech.SpeakingRate = getEnvFloat("TTS_SPEAKING_RATE", 0.9)

		// Query resolver
		instance.Resolver.URL = getEnvString("RESOLVER_URL", "http://localhost:5002")
		instance.Resolver.APIKey = getEnvString("RESOLVER_API_KEY", "")

		// Phase deadlines
		instance.Timeouts.STT = getEnvDuration("STT_TIMEOUT", 15*time.Second)
		instance.Timeouts.Query = getEnvDuration("QUERY_TIMEOUT", 20*time.Second)
		instance.Timeouts.TTS = getEnvDuration("TTS_TIMEOUT", 15*time.Second)
		instance.Timeouts.Store = getEnvDuration("STORE_TIMEOUT", 5*time.Second)

		// WebSocket limits
		instance.WS.SendBufferFrames = getEnvInt("SEND_BUFFER_FRAMES", 64)
		instance.WS.MaxMessageBytes = getEnvInt64("WS_MAX_MESSAGE_BYTES", 1<<20) // one utterance WAV

		// Security config
		instance.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Cache settings
		instance.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
		instance.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 10000)
		instance.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

		// OpenAPI schema
		instance.OpenAPI.SchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "api/openapi.yaml")
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
