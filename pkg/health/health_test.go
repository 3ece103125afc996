package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(name string) Checker {
	return NewCheckerFunc(name, func(context.Context) error { return nil })
}

func failing(name string) Checker {
	return NewCheckerFunc(name, func(context.Context) error { return errors.New("down") })
}

func TestCheckerRegistry_Check_AggregatesStatus(t *testing.T) {
	tests := []struct {
		name     string
		required []Checker
		optional []Checker
		want     Status
	}{
		{"all healthy", []Checker{ok("postgresql"), ok("redis")}, []Checker{ok("mongodb")}, StatusHealthy},
		{"optional failing", []Checker{ok("postgresql")}, []Checker{failing("mongodb")}, StatusDegraded},
		{"required failing", []Checker{failing("postgresql")}, []Checker{failing("mongodb")}, StatusUnhealthy},
		{"no checkers", nil, nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry(time.Second)
			for _, c := range tt.required {
				r.Register(c)
			}
			for _, c := range tt.optional {
				r.RegisterOptional(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.required)+len(tt.optional))
		})
	}
}

func TestCheckerRegistry_Check_BoundsSlowCheckers(t *testing.T) {
	r := NewCheckerRegistry(20 * time.Millisecond)
	r.Register(NewCheckerFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	h := r.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Contains(t, h.Checks["slow"].Message, "deadline exceeded")
}

func TestCheckerRegistry_Handler_StatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tc := range []struct {
		checker  Checker
		optional bool
		code     int
	}{
		{ok("postgresql"), false, http.StatusOK},
		{failing("mongodb"), true, http.StatusOK},
		{failing("postgresql"), false, http.StatusServiceUnavailable},
	} {
		r := NewCheckerRegistry(time.Second)
		if tc.optional {
			r.RegisterOptional(tc.checker)
		} else {
			r.Register(tc.checker)
		}

		router := gin.New()
		router.GET("/health", r.Handler())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, tc.code, w.Code)
		var body Health
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body.Checks, tc.checker.Name())
	}
}

func TestRedisChecker_Check(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	mr.SetError("LOADING")
	assert.Error(t, checker.Check(context.Background()))
}
