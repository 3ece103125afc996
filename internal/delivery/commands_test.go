package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/internal/validation"
	pkgerrors "postbox/pkg/errors"
)

func newDeliveryMediator(t *testing.T, f *relayFixture) *mediator.Mediator {
	t.Helper()

	v, err := validation.New(nil)
	require.NoError(t, err)

	h := NewHandlers(f.store, f.events, logger.NopLogger())
	h.now = f.clock.Now

	m := mediator.New(validation.Behavior(v))
	require.NoError(t, Register(m, h))
	return m
}

func ack(m *mediator.Mediator, id, recipient string) (AckResult, error) {
	return mediator.Send[AcknowledgeDelivery, AckResult](context.Background(), m,
		AcknowledgeDelivery{CorrelationID: id, Recipient: recipient})
}

func TestHandlers_Acknowledge_Pushed(t *testing.T) {
	f := newRelayFixture(t, "2")
	m := newDeliveryMediator(t, f)
	f.stage(t, "a", "2")
	_, err := f.relay.Sweep(context.Background())
	require.NoError(t, err)

	result, err := ack(m, "a", "2")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, result.Status)
	assert.False(t, result.Duplicate)
	require.NotNil(t, result.AcknowledgedAt)
	assert.Equal(t, f.clock.Now(), *result.AcknowledgedAt)
	assert.Equal(t, StatusAcknowledged, f.store.status("a"))
	assert.Contains(t, f.events.types(), EventAcknowledged)

	again, err := ack(m, "a", "2")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, StatusAcknowledged, again.Status)
}

func TestHandlers_Acknowledge_AfterRequeue(t *testing.T) {
	f := newRelayFixture(t, "2")
	m := newDeliveryMediator(t, f)
	f.stage(t, "a", "2")
	_, err := f.relay.Sweep(context.Background())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.relay.Maintain(context.Background()))
	require.Equal(t, StatusStaged, f.store.status("a"))

	_, err = ack(m, "a", "2")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, f.store.status("a"))

	pushed, err := f.relay.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pushed)
}

func TestHandlers_Acknowledge_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, f *relayFixture)
		id        string
		recipient string
		check     func(err error) bool
	}{
		{
			name:      "unknown correlation id",
			id:        "missing",
			recipient: "2",
			check:     pkgerrors.IsNotFound,
		},
		{
			name: "someone else's delivery",
			setup: func(t *testing.T, f *relayFixture) {
				f.stage(t, "a", "2")
				_, err := f.relay.Sweep(context.Background())
				require.NoError(t, err)
			},
			id:        "a",
			recipient: "3",
			check:     pkgerrors.IsNotFound,
		},
		{
			name: "never pushed",
			setup: func(t *testing.T, f *relayFixture) {
				f.stage(t, "a", "9")
			},
			id:        "a",
			recipient: "9",
			check:     pkgerrors.IsConflict,
		},
		{
			name: "expired",
			setup: func(t *testing.T, f *relayFixture) {
				f.stage(t, "a", "2")
				f.clock.Advance(2 * time.Hour)
				require.NoError(t, f.relay.Maintain(context.Background()))
			},
			id:        "a",
			recipient: "2",
			check:     pkgerrors.IsConflict,
		},
		{
			name:  "missing fields",
			id:    "",
			check: pkgerrors.IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t, "2")
			m := newDeliveryMediator(t, f)
			if tt.setup != nil {
				tt.setup(t, f)
			}

			_, err := ack(m, tt.id, tt.recipient)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestHandlers_GetDeliveryStatus(t *testing.T) {
	f := newRelayFixture(t)
	m := newDeliveryMediator(t, f)
	f.stage(t, "a", "2")
	_, err := f.relay.Sweep(context.Background())
	require.NoError(t, err)

	status, err := mediator.Send[GetDeliveryStatus, DeliveryStatus](context.Background(), m,
		GetDeliveryStatus{CorrelationID: "a", ViewerID: "1"})
	require.NoError(t, err)
	assert.Equal(t, StatusStaged, status.Status)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, "recipient offline", status.LastError)
	require.NotNil(t, status.NextAttemptAt)

	_, err = mediator.Send[GetDeliveryStatus, DeliveryStatus](context.Background(), m,
		GetDeliveryStatus{CorrelationID: "a", ViewerID: "7"})
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = mediator.Send[GetDeliveryStatus, DeliveryStatus](context.Background(), m,
		GetDeliveryStatus{CorrelationID: "nope"})
	assert.True(t, pkgerrors.IsNotFound(err))
}
