// Package ingest accepts commands from the Kafka command topic and
// dispatches them through the same mediator pipeline as the HTTP API.
package ingest

import (
	"context"
	"fmt"
	"time"

	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/internal/messaging"
	pkgerrors "postbox/pkg/errors"
	"postbox/pkg/logging"
	"postbox/pkg/models"
)

const CommandCreateMessage = "create_message"

type Handler struct {
	mediator *mediator.Mediator
	log      logger.Logger
}

func NewHandler(m *mediator.Mediator, log logger.Logger) *Handler {
	return &Handler{mediator: m, log: log.With("component", "ingest")}
}

// Handle is a broker.HandlerFunc. Client faults come back fatal so the
// consumer parks the record on the dead-letter topic without retrying.
func (h *Handler) Handle(ctx context.Context, msg models.BrokerMessage) error {
	switch msg.Type {
	case CommandCreateMessage:
		return h.createMessage(ctx, msg)
	default:
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unsupported command type %q", msg.Type))
	}
}

func (h *Handler) createMessage(ctx context.Context, msg models.BrokerMessage) error {
	var cmd messaging.CreateMessage
	if err := msg.Decode(&cmd); err != nil {
		return pkgerrors.ErrValidation.WithCause(err).WithDetail("message", "malformed create_message payload")
	}

	// A record redelivered by Kafka must map to the same message.
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = msg.Metadata.CorrelationID
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = msg.ID
	}
	ctx = logging.WithCorrelationID(ctx, cmd.CorrelationID)

	resp, err := mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](ctx, h.mediator, cmd)
	if err != nil {
		if pkgerrors.IsConflict(err) {
			h.log.InfowCtx(ctx, "Command already applied", "message_id", msg.ID)
			return nil
		}
		return err
	}

	h.log.InfowCtx(ctx, "Command applied",
		"message_id", resp.ID,
		"source", msg.Source,
	)
	return nil
}

// NewCreateMessage builds the record a producer publishes to the command
// topic.
func NewCreateMessage(cmd messaging.CreateMessage, source string) (models.BrokerMessage, error) {
	return models.NewBrokerMessage(CommandCreateMessage).
		WithSource(source).
		WithTimestamp(time.Now().UTC()).
		WithCorrelationID(cmd.CorrelationID).
		WithPayload(cmd).
		Build()
}
