package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"postbox/internal/broker"
	"postbox/internal/config"
	"postbox/internal/logger"
)

// Base owns the broker clients shared by the ingest consumer and the
// delivery event publisher.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer *broker.KafkaProducer
	Consumer *broker.KafkaConsumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker is a no-op while the broker is disabled.
func (b *Base) InitBroker(serviceName string) {
	if !b.Config.Broker.Enabled {
		b.Logger.Infow("Broker disabled; Kafka ingest and delivery events are off")
		return
	}

	b.Producer = broker.NewKafkaProducer(b.Config.Broker.Kafka, serviceName, b.Logger)
	b.Consumer = broker.NewKafkaConsumer(b.Config.Broker.Kafka, serviceName, b.Logger)
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Infow("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Infow("Application exited successfully")
	return nil
}
