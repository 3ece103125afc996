package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"postbox/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
	// KeyHeader, when set and present on the request, keys the limiter
	// instead of the client IP.
	KeyHeader string
}

type limiterSet struct {
	config   RateLimitConfig
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func (s *limiterSet) get(key string, now time.Time) *Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[key]
	s.mu.RUnlock()

	if !exists {
		s.mu.Lock()
		limiter, exists = s.limiters[key]
		if !exists {
			limiter = &Limiter{limiter: rate.NewLimiter(rate.Limit(s.config.RPS), s.config.Burst)}
			s.limiters[key] = limiter
		}
		s.mu.Unlock()
	}

	limiter.mu.Lock()
	limiter.lastSeen = now
	limiter.mu.Unlock()
	return limiter
}

func (s *limiterSet) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, limiter := range s.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > s.config.MaxAge {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// RateLimitMiddleware limits each caller to config.RPS with config.Burst.
// Idle limiters are evicted until ctx is done.
func RateLimitMiddleware(ctx context.Context, config RateLimitConfig) gin.HandlerFunc {
	set := &limiterSet{config: config, limiters: make(map[string]*Limiter)}

	if config.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(config.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					set.evict(now)
				}
			}
		}()
	}

	return func(c *gin.Context) {
		key := ""
		if config.KeyHeader != "" {
			key = c.GetHeader(config.KeyHeader)
		}
		if key == "" {
			key = c.ClientIP()
		}
		if key == "" {
			key = c.RemoteIP()
		}

		limiter := set.get(key, time.Now())

		c.Header("X-RateLimit-Limit", formatRate(config.RPS))
		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
