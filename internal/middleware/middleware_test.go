package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestLoggingMiddleware_PropagatesIDs(t *testing.T) {
	logger, buf := newTestLogger(t)
	router := gin.New()
	router.Use(LoggingMiddleware(logger))

	var seenRequestID string
	router.GET("/ping", func(c *gin.Context) {
		seenRequestID = logging.GetRequestID(c.Request.Context())
		assert.Equal(t, "corr-1", logging.GetCorrelationID(c.Request.Context()))
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, seenRequestID)
	assert.Equal(t, seenRequestID, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "corr-1", w.Header().Get("X-Correlation-ID"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "HTTP request processed", entry["message"])
	assert.Equal(t, "/ping", entry["http_path"])
	assert.Equal(t, float64(200), entry["http_status"])
}

func TestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	logger, _ := newTestLogger(t)
	router := gin.New()
	router.Use(LoggingMiddleware(logger))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-7", w.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, buf := newTestLogger(t)
	router := gin.New()
	router.Use(LoggingMiddleware(logger), RecoveryMiddleware(logger))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "correlation_id")
	assert.Contains(t, buf.String(), "Request panic recovered")
}

func TestRequestSizeMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeMiddleware(8))
	router.POST("/upload", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware(DefaultCORSConfig([]string{"https://*.example.com"})))
	router.GET("/data", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		origin  string
		pattern string
		want    bool
	}{
		{"https://a.example.com", "https://*.example.com", true},
		{"https://example.com", "https://*.example.com", true},
		{"http://a.example.com", "https://*.example.com", false},
		{"https://a.example.com.evil.test", "https://*.example.com", false},
		{"http://localhost:3000", "http://localhost:3000", true},
		{"anything", "*", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchOrigin(tt.origin, tt.pattern), "%s vs %s", tt.origin, tt.pattern)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeadersMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
