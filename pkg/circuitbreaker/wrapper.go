package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"postbox/internal/config"
	"postbox/pkg/metrics"
)

// ErrOpen is returned without calling through while the breaker is open
// or the half-open probe budget is exhausted.
var ErrOpen = errors.New("circuit breaker open")

type Config struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
	// IsSuccessful decides whether an error counts against the breaker.
	// Context cancellation never does.
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to gobreaker.State)
}

func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      60 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// FromConfig builds a named breaker from configuration. It returns nil when
// breakers are disabled; Do on a nil Wrapper calls straight through.
func FromConfig(name string, cfg config.CircuitBreakerConfig, isSuccessful func(error) bool) *Wrapper {
	if !cfg.Enabled {
		return nil
	}

	c := DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		c.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		c.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		c.FailureRatio = cfg.FailureRatio
	}
	if cfg.MinRequests > 0 {
		c.MinRequests = cfg.MinRequests
	}
	c.IsSuccessful = isSuccessful

	return NewWrapper(c)
}

type Wrapper struct {
	cb *gobreaker.CircuitBreaker
}

func NewWrapper(cfg Config) *Wrapper {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			if cfg.IsSuccessful != nil {
				return cfg.IsSuccessful(err)
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			setStateMetric(name, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	setStateMetric(cfg.Name, cb.State())

	return &Wrapper{cb: cb}
}

// Do runs fn behind the breaker. Open-state rejections are reported as ErrOpen.
func Do[T any](ctx context.Context, w *Wrapper, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if w == nil {
		return fn(ctx)
	}

	state := w.cb.State().String()
	result, err := w.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	metrics.CircuitBreakerRequests.WithLabelValues(w.cb.Name(), state).Inc()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerFailures.WithLabelValues(w.cb.Name()).Inc()
		return zero, ErrOpen
	}
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(w.cb.Name()).Inc()
		return zero, err
	}

	typed, _ := result.(T)
	return typed, nil
}

// StateName reports the breaker state, or "disabled" for a nil Wrapper.
func (w *Wrapper) StateName() string {
	if w == nil {
		return "disabled"
	}
	return w.cb.State().String()
}

func (w *Wrapper) Name() string {
	return w.cb.Name()
}

func (w *Wrapper) IsOpen() bool {
	return w != nil && w.cb.State() == gobreaker.StateOpen
}

func setStateMetric(name string, state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateHalfOpen:
		stateValue = 1
	case gobreaker.StateOpen:
		stateValue = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue)
}
