package mediator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"postbox/internal/logger"
	pkgerrors "postbox/pkg/errors"
)

type ping struct {
	Command
	Value string
}

func (ping) RequestName() string { return "Ping" }

type lookup struct {
	Query
	ID int
}

func (lookup) RequestName() string { return "Lookup" }

func echoHandler() Handler[ping, string] {
	return HandlerFunc[ping, string](func(_ context.Context, req ping) (string, error) {
		return "pong:" + req.Value, nil
	})
}

func TestMediator_Send_RoutesToHandler(t *testing.T) {
	m := New()
	require.NoError(t, Register(m, echoHandler()))

	got, err := Send[ping, string](context.Background(), m, ping{Value: "a"})
	require.NoError(t, err)
	assert.Equal(t, "pong:a", got)
}

func TestMediator_Register_RejectsDuplicate(t *testing.T) {
	m := New()
	require.NoError(t, Register(m, echoHandler()))

	err := Register(m, echoHandler())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Panics(t, func() { MustRegister(m, echoHandler()) })
}

func TestMediator_Dispatch_UnknownRequest(t *testing.T) {
	m := New()

	_, err := m.Dispatch(context.Background(), lookup{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered for Lookup")
}

func TestMediator_Send_TypeMismatch(t *testing.T) {
	m := New()
	require.NoError(t, Register(m, echoHandler()))

	_, err := Send[ping, int](context.Background(), m, ping{})
	require.Error(t, err)
	assert.Equal(t, "INTERNAL_ERROR", pkgerrors.Code(err))
}

func TestMediator_Dispatch_BehaviorsRunInOrder(t *testing.T) {
	var trace []string
	record := func(name string) Behavior {
		return func(ctx context.Context, req Request, next Next) (any, error) {
			trace = append(trace, name+":before")
			resp, err := next(ctx)
			trace = append(trace, name+":after")
			return resp, err
		}
	}

	m := New(record("outer"), record("inner"))
	require.NoError(t, Register(m, HandlerFunc[ping, string](func(context.Context, ping) (string, error) {
		trace = append(trace, "handler")
		return "", nil
	})))

	_, err := m.Dispatch(context.Background(), ping{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}, trace)
}

func TestMediator_Dispatch_BehaviorShortCircuit(t *testing.T) {
	handled := false
	stop := func(ctx context.Context, req Request, next Next) (any, error) {
		return nil, pkgerrors.Validation([]string{"nope"})
	}

	m := New(stop)
	require.NoError(t, Register(m, HandlerFunc[ping, string](func(context.Context, ping) (string, error) {
		handled = true
		return "", nil
	})))

	_, err := m.Dispatch(context.Background(), ping{})
	assert.True(t, pkgerrors.IsValidation(err))
	assert.False(t, handled)
}

func TestMediator_Dispatch_BehaviorsSeeRequestKind(t *testing.T) {
	var kinds []Kind
	m := New(func(ctx context.Context, req Request, next Next) (any, error) {
		kinds = append(kinds, req.Kind())
		return next(ctx)
	})
	require.NoError(t, Register(m, echoHandler()))
	require.NoError(t, Register(m, HandlerFunc[lookup, int](func(_ context.Context, q lookup) (int, error) {
		return q.ID, nil
	})))

	_, err := m.Dispatch(context.Background(), ping{})
	require.NoError(t, err)
	_, err = m.Dispatch(context.Background(), lookup{ID: 3})
	require.NoError(t, err)

	assert.Equal(t, []Kind{KindCommand, KindQuery}, kinds)
	assert.ElementsMatch(t, []string{"Ping", "Lookup"}, m.Registered())
}

func TestRecovery_Panic(t *testing.T) {
	m := New(Recovery(logger.NopLogger()))
	require.NoError(t, Register(m, HandlerFunc[ping, string](func(context.Context, ping) (string, error) {
		panic("boom")
	})))

	resp, err := m.Dispatch(context.Background(), ping{})
	require.Error(t, err)
	assert.Nil(t, resp)

	var appErr *pkgerrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INTERNAL_ERROR", appErr.Code)
}

func TestLogging_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := New(Logging(logger.NewWithCore(core, "test")))

	require.NoError(t, Register(m, HandlerFunc[ping, string](func(_ context.Context, p ping) (string, error) {
		if p.Value == "missing" {
			return "", pkgerrors.NotFound("User", 1)
		}
		return "", pkgerrors.ErrTransaction.WithCause(errors.New("conn reset"))
	})))

	_, _ = m.Dispatch(context.Background(), ping{Value: "missing"})
	_, _ = m.Dispatch(context.Background(), ping{Value: "x"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "NOT_FOUND", entries[0].ContextMap()["error_code"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "TRANSACTION_ERROR", entries[1].ContextMap()["error_code"])
}
