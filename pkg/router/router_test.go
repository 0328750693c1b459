package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-voice-gateway/backend/ai"
	"ai-voice-gateway/backend/internal/service"
	"ai-voice-gateway/backend/pkg/cache"
	"ai-voice-gateway/backend/pkg/di"
	"ai-voice-gateway/backend/pkg/health"
	"ai-voice-gateway/backend/pkg/jwt"
	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/resilience"
)

// newTestRouter assembles a router over a container with unconfigured
// provider clients. Routes that would touch the store are only exercised
// up to their auth guard here.
func newTestRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.Config{Level: logger.ErrorLevel, JSON: true, Output: io.Discard})
	jwtService := jwt.NewService("test-secret", time.Hour)
	sessions := service.NewSessionService(nil, service.NewMemoryOwnershipCache(cache.NewCache()), log, time.Second)

	breaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(name), log)
	}
	sttClient := ai.NewSTTClient("", "", ai.SpeechConfig{}, breaker("stt"), log)
	ttsClient := ai.NewTTSClient("", "", ai.SpeechConfig{}, breaker("tts"), log)
	resolverClient := ai.NewResolverClient("", "", breaker("resolver"), log)

	container := &di.Container{
		Logger:         log,
		JWTService:     jwtService,
		SessionService: sessions,
		TokenVerifier:  service.NewTokenVerifierAdapter(jwtService),
		SessionStore:   service.NewSessionStoreAdapter(sessions),
		SpeechToText:   service.NewSTTAdapter(sttClient),
		TextToSpeech:   service.NewTTSAdapter(ttsClient),
		QueryResolver:  service.NewResolverAdapter(resolverClient),
		Health:         health.NewChecker(log, time.Minute),
	}

	return New(container)
}

func serve(r *Router, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthEndpointAnswersLiteralBody(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Healthy", w.Body.String())
}

func TestHealthDetailsReportsComponents(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/health/details", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"components"`)
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestPlainGetOnWebSocketPathIsRejected(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	// Without upgrade headers the handshake fails.
	for _, path := range []string{"/", "/ws"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %q", path)
	}
}

func TestCorsPreflightIsAnswered(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/new", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnauthenticatedChatRequestGetsErrorEnvelope(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	w := serve(r, httptest.NewRequest(http.MethodPost, "/api/chat/new", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"AUTH_REQUIRED"`)
}

func TestOpenAPIValidationRejectsSchemaViolations(t *testing.T) {
	r := newTestRouter(t)
	r.AddOpenAPIValidation(filepath.Join("..", "..", "api", "openapi.yaml"))
	r.SetupRoutes()

	// title must be a string; the validator answers before auth runs.
	req := httptest.NewRequest(http.MethodPost, "/api/chat/new", strings.NewReader(`{"title":123}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request")
}

func TestUnknownPathGetsNotFoundEnvelope(t *testing.T) {
	r := newTestRouter(t)
	r.SetupRoutes()

	w := serve(r, httptest.NewRequest(http.MethodGet, "/no/such/path", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"NOT_FOUND"`)
}

func TestOpenAPIValidationIgnoresUnknownPaths(t *testing.T) {
	r := newTestRouter(t)
	r.AddOpenAPIValidation(filepath.Join("..", "..", "api", "openapi.yaml"))
	r.SetupRoutes()

	// Paths outside the schema fall through to normal routing.
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Healthy", w.Body.String())
}
