package delivery

import (
	"context"
	"fmt"
	"time"

	"postbox/internal/broker"
	"postbox/internal/logger"
	"postbox/pkg/circuitbreaker"
	"postbox/pkg/logging"
	"postbox/pkg/models"
	"postbox/pkg/tracing"
)

const (
	EventPushed       = "delivery.pushed"
	EventAcknowledged = "delivery.acknowledged"
	EventExpired      = "delivery.expired"
)

// Event announces a ledger transition to other services.
type Event struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId"`
	MessageID     int64     `json:"messageId"`
	Recipient     string    `json:"recipient"`
	Attempts      int       `json:"attempts"`
	At            time.Time `json:"at"`
}

func NewEvent(eventType string, rec Record, at time.Time) Event {
	return Event{
		Type:          eventType,
		CorrelationID: rec.CorrelationID,
		MessageID:     rec.Envelope.MessageID,
		Recipient:     rec.Recipient,
		Attempts:      rec.Attempts,
		At:            at,
	}
}

// EventPublisher is best effort: a failed publish never changes the ledger.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, Event) error { return nil }

// KafkaEventPublisher writes events keyed by recipient behind a breaker so
// an unreachable broker does not slow the relay down.
type KafkaEventPublisher struct {
	producer    broker.Producer
	topic       string
	serviceName string
	cb          *circuitbreaker.Wrapper
	log         logger.Logger
}

func NewKafkaEventPublisher(producer broker.Producer, topic, serviceName string, cb *circuitbreaker.Wrapper, log logger.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		cb:          cb,
		log:         log,
	}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := models.NewBrokerMessage(ev.Type).
		WithSource(p.serviceName).
		WithTimestamp(ev.At).
		WithPayload(ev).
		WithTraceID(tracing.TraceID(ctx)).
		WithCorrelationID(ev.CorrelationID).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", ev.Type, err)
	}

	_, err = circuitbreaker.Do(ctx, p.cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.producer.Publish(ctx, p.topic, ev.Recipient, msg)
	})
	if err != nil {
		return err
	}

	p.log.DebugwCtx(logging.WithCorrelationID(ctx, ev.CorrelationID), "Delivery event published",
		"event", ev.Type, "topic", p.topic)
	return nil
}
