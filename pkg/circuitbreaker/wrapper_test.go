package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/internal/config"
)

var errDown = errors.New("redis down")

func newTestWrapper(isSuccessful func(error) bool) *Wrapper {
	return NewWrapper(Config{
		Name:         "test",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Hour,
		FailureRatio: 0.5,
		MinRequests:  2,
		IsSuccessful: isSuccessful,
	})
}

func TestDo_TripsAfterFailures(t *testing.T) {
	w := newTestWrapper(nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := Do(ctx, w, func(context.Context) (string, error) { return "", errDown })
		assert.ErrorIs(t, err, errDown)
	}
	require.True(t, w.IsOpen())

	called := false
	_, err := Do(ctx, w, func(context.Context) (string, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestDo_TypedResult(t *testing.T) {
	w := newTestWrapper(nil)

	got, err := Do(context.Background(), w, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDo_IgnoredErrorsDoNotTrip(t *testing.T) {
	errMiss := errors.New("not found")
	w := newTestWrapper(func(err error) bool { return errors.Is(err, errMiss) })

	for i := 0; i < 5; i++ {
		_, err := Do(context.Background(), w, func(context.Context) (int, error) { return 0, errMiss })
		assert.ErrorIs(t, err, errMiss)
	}
	assert.False(t, w.IsOpen())
}

func TestDo_CancelledContext(t *testing.T) {
	w := newTestWrapper(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, w, func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig_DisabledCallsThrough(t *testing.T) {
	w := FromConfig("off", config.CircuitBreakerConfig{Enabled: false}, nil)
	require.Nil(t, w)

	got, err := Do(context.Background(), w, func(context.Context) (string, error) { return "direct", nil })
	require.NoError(t, err)
	assert.Equal(t, "direct", got)
	assert.Equal(t, "disabled", w.StateName())
	assert.False(t, w.IsOpen())
}

func TestFromConfig_Enabled(t *testing.T) {
	w := FromConfig("on", config.CircuitBreakerConfig{Enabled: true, MinRequests: 1, FailureRatio: 1}, nil)
	require.NotNil(t, w)
	assert.Equal(t, "closed", w.StateName())

	_, _ = Do(context.Background(), w, func(context.Context) (int, error) { return 0, errDown })
	assert.True(t, w.IsOpen())
}
