package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLimitedRouter(t *testing.T, cfg RateLimitConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.Use(RateLimitMiddleware(ctx, cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r *gin.Engine, remoteAddr, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_PerClientIP(t *testing.T) {
	r := newLimitedRouter(t, RateLimitConfig{RPS: 0.001, Burst: 2})

	assert.Equal(t, http.StatusNoContent, do(r, "10.0.0.1:1000", "").Code)
	assert.Equal(t, http.StatusNoContent, do(r, "10.0.0.1:1001", "").Code)

	limited := do(r, "10.0.0.1:1002", "")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusNoContent, do(r, "10.0.0.2:1000", "").Code)
}

func TestRateLimitMiddleware_KeyHeader(t *testing.T) {
	r := newLimitedRouter(t, RateLimitConfig{RPS: 0.001, Burst: 1, KeyHeader: "X-User-ID"})

	assert.Equal(t, http.StatusNoContent, do(r, "10.0.0.1:1000", "1").Code)
	assert.Equal(t, http.StatusNoContent, do(r, "10.0.0.1:1000", "2").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "10.0.0.1:1000", "1").Code)
}

func TestLimiterSet_Evict_Idle(t *testing.T) {
	set := &limiterSet{config: RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute}, limiters: make(map[string]*Limiter)}
	start := time.Now()

	set.get("a", start)
	set.get("b", start.Add(50*time.Second))

	set.evict(start.Add(90 * time.Second))
	assert.Equal(t, 1, set.size())

	set.evict(start.Add(200 * time.Second))
	assert.Equal(t, 0, set.size())
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "10", formatRate(10))
	assert.Equal(t, "2.5", formatRate(2.5))
}
