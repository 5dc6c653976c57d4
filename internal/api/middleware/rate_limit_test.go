package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitBypassesHealthAndMetrics(t *testing.T) {
	handler := RateLimit()(okHandler())
	for _, path := range []string{"/healthz/live", "/healthz/ready", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"), path)
	}
}

func TestRateLimitGetTier(t *testing.T) {
	handler := RateLimit()(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strconv.Itoa(rateLimitGetPerMin), rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitDetectionTier(t *testing.T) {
	handler := RateLimit()(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strconv.Itoa(rateLimitDetectPerMin), rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitExhaustionReturns429(t *testing.T) {
	handler := RateLimit()(okHandler())
	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitDetectBurst+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", nil)
		req.RemoteAddr = "192.168.1.3:12345"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimitIPsAreIndependent(t *testing.T) {
	handler := RateLimit()(okHandler())
	for i := 0; i < rateLimitDetectBurst+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", nil)
		req.RemoteAddr = "192.168.1.4:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", nil)
	req.RemoteAddr = "192.168.1.5:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitHonorsForwardedFor(t *testing.T) {
	handler := RateLimit()(okHandler())
	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitDetectBurst+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
}
