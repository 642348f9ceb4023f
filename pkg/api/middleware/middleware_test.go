package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	. "stagerun/pkg/api/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func limiter(t *testing.T, perMinute, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: perMinute,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := limiter(t, 10, 5)
	for i := 0; i < 5; i++ {
		if !rl.Allow("client1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("client1") {
		t.Error("request beyond burst should be blocked")
	}
}

func TestRateLimiter_SeparatesClients(t *testing.T) {
	rl := limiter(t, 60, 1)
	rl.Allow("client1")
	if !rl.Allow("client2") {
		t.Error("different client should have separate quota")
	}
	if rl.Clients() != 2 {
		t.Errorf("Clients() = %d, want 2", rl.Clients())
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := limiter(t, 6000, 1) // 100 per second
	rl.Allow("client1")
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("client1") {
		t.Error("token should have refilled after waiting")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := limiter(t, 60, 1)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiterMiddleware_Returns429(t *testing.T) {
	router := gin.New()
	router.Use(limiter(t, 60, 1).Middleware())
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("first request expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request expected 429, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware(), RequestLogger(zap.NewNop()))
	router.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))
	generated := w.Header().Get("X-Request-ID")
	if generated == "" || w.Body.String() != generated {
		t.Errorf("generated id %q not propagated to handler (%q)", generated, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("caller id not reused, got %q", got)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeadersMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	for k, v := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestTracingMiddleware_NilTracer(t *testing.T) {
	router := gin.New()
	router.Use(TracingMiddleware(nil), MetricsMiddleware())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
