package broker

import (
	"context"

	"postbox/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, msg models.BrokerMessage) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

// HandlerFunc processes one record. Errors that report IsFatal skip the
// remaining retries and go straight to the dead-letter topic.
type HandlerFunc func(ctx context.Context, msg models.BrokerMessage) error
