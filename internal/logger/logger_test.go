package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"postbox/pkg/logging"
)

func TestSugaredLogger_InfowCtx_ContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core, "messaging-service")

	ctx := logging.WithCorrelationID(context.Background(), "c-9")
	log.InfowCtx(ctx, "message staged", "message_id", 3)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "c-9", fields["correlation_id"])
	assert.Equal(t, "messaging-service", fields["service_name"])
	assert.EqualValues(t, 3, fields["message_id"])
}

func TestSugaredLogger_With_KeepsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewWithCore(core, "").With("component", "relay")

	log.Debugw("hidden")
	log.Warnw("lease lost")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "relay", logs.All()[0].ContextMap()["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}
