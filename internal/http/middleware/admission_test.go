package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
)

func TestAdmissionMiddlewareRejectsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(nil, ratelimit.WithClock(func() time.Time { return now }))

	r := gin.New()
	r.Use(AdmissionMiddleware(limiter, AdmissionOptions{Service: ratelimit.ServicePipelineExecution}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(HeaderAPIKey, "k1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for request %d, got %d", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "10" {
			t.Fatalf("expected minute limit header 10, got %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderAPIKey, "k1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "10" {
		t.Fatalf("expected Retry-After 10, got %q", w.Header().Get("Retry-After"))
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderAPIKey, "k2")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected other key admitted, got %d", w.Code)
	}
}

func TestAdmissionMiddlewareServiceHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(nil, ratelimit.WithClock(func() time.Time { return now }))

	r := gin.New()
	r.Use(AdmissionMiddleware(limiter, AdmissionOptions{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderService, "marketplace_api")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "20" {
		t.Fatalf("expected marketplace minute limit 20, got %q", w.Header().Get("X-RateLimit-Limit"))
	}
}
