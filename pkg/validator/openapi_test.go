package validator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
openapi: 3.0.3
info:
  title: Test API
  version: 1.0.0
paths:
  /widgets:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [name]
              properties:
                name:
                  type: string
      responses:
        "201":
          description: Created.
`

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newValidatedEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := NewOpenAPIValidator(writeSchema(t, testSchema))
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(v.Middleware())
	engine.POST("/widgets", func(c *gin.Context) { c.Status(http.StatusCreated) })
	engine.GET("/elsewhere", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func TestNewOpenAPIValidatorMissingFile(t *testing.T) {
	_, err := NewOpenAPIValidator(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewOpenAPIValidatorBrokenSchema(t *testing.T) {
	_, err := NewOpenAPIValidator(writeSchema(t, "openapi: 3.0.3\ninfo: {title: Broken}\n"))
	assert.Error(t, err)
}

func TestMiddlewarePassesConformingRequest(t *testing.T) {
	engine := newValidatedEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/widgets", strings.NewReader(`{"name":"spanner"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestMiddlewareRejectsSchemaViolation(t *testing.T) {
	engine := newValidatedEngine(t)

	// name is required.
	req := httptest.NewRequest(http.MethodPost, "/widgets", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request")
}

func TestMiddlewareIgnoresUndescribedPaths(t *testing.T) {
	engine := newValidatedEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
