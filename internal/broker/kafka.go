package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"postbox/internal/config"
	"postbox/internal/constants"
	"postbox/internal/logger"
	pkgerrors "postbox/pkg/errors"
	"postbox/pkg/logging"
	"postbox/pkg/metrics"
	"postbox/pkg/models"
	"postbox/pkg/retry"
	"postbox/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, serviceName string, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: serviceName}
}

// Publish writes msg keyed by key, so records for one key stay ordered.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, msg models.BrokerMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, []kafka.Header{{Key: "type", Value: []byte(msg.Type)}}),
		Time:    msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	mu          sync.Mutex
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, serviceName string, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: serviceName,
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, serviceName, log)
	}

	return consumer
}

// Consume blocks until ctx is done. Each record is committed only after it
// was handled or parked on the dead-letter topic.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.wg.Add(1)
	defer c.wg.Done()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message", "error", err, "topic", topic)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		metrics.IncKafkaMessagesRead(c.serviceName, topic)
		c.handleMessage(consumeCtx, m, handler, topic)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message", "error", err, "topic", topic)
		}
	}
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc, topic string) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume "+topic, m.Headers)
	defer span.End()

	var msg models.BrokerMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal message", "error", err, "topic", topic)
		c.deadLetter(msgCtx, models.BrokerMessage{Payload: m.Value, Type: "unparseable"}, err, topic)
		return
	}

	if msg.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, msg.Metadata.TraceID)
	} else if traceID := tracing.TraceID(msgCtx); traceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, traceID)
	}
	if msg.Metadata.CorrelationID != "" {
		msgCtx = logging.WithCorrelationID(msgCtx, msg.Metadata.CorrelationID)
	}

	if err := c.processWithRetry(msgCtx, msg, handler, topic); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process message", "error", err, "topic", topic, "type", msg.Type)
		c.deadLetter(msgCtx, msg, err, topic)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	c.mu.Lock()
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.mu.Unlock()
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, msg models.BrokerMessage, handler HandlerFunc, topic string) error {
	policy := c.retryPolicy()

	return retry.Do(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = pkgerrors.RecoverPanic(r)
			}
		}()
		return handler(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, msg models.BrokerMessage, cause error, sourceTopic string) {
	if c.dlqProducer == nil {
		c.logger.WarnwCtx(ctx, "No DLQ configured, dropping message", "topic", sourceTopic, "id", msg.ID)
		return
	}

	msg.Metadata.DeadLetter = &models.DLQInfo{
		Reason:      cause.Error(),
		ErrorCode:   pkgerrors.Code(cause),
		SourceTopic: sourceTopic,
		FailedAt:    time.Now().UTC(),
	}

	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, msg.ID, msg); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ", "error", err, "topic", sourceTopic)
		return
	}

	reason := "max_retries_exceeded"
	if retry.IsFatal(cause) {
		reason = "fatal"
	}
	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", cause.Error(),
	)
}
