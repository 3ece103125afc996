package delivery

import (
	"context"
	"time"

	"postbox/internal/logger"
	"postbox/internal/mediator"
	pkgerrors "postbox/pkg/errors"
	"postbox/pkg/logging"
	"postbox/pkg/metrics"
)

// AcknowledgeDelivery confirms that Recipient received the envelope.
type AcknowledgeDelivery struct {
	mediator.Command
	CorrelationID string `json:"correlationId" validate:"required,max=128"`
	Recipient     string `json:"recipient" validate:"required"`
}

func (AcknowledgeDelivery) RequestName() string { return "AcknowledgeDelivery" }

type AckResult struct {
	CorrelationID string `json:"correlationId"`
	Status        Status `json:"status"`
	// Duplicate is true when the record had already been acknowledged.
	Duplicate      bool       `json:"duplicate"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

type GetDeliveryStatus struct {
	mediator.Query
	CorrelationID string `json:"correlationId" validate:"required,max=128"`
	// ViewerID, when set, must be the sender or the recipient.
	ViewerID string `json:"viewerId,omitempty"`
}

func (GetDeliveryStatus) RequestName() string { return "GetDeliveryStatus" }

type DeliveryStatus struct {
	CorrelationID  string     `json:"correlationId"`
	MessageID      int64      `json:"messageId"`
	Recipient      string     `json:"recipient"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	PushedAt       *time.Time `json:"pushedAt,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	LastError      string     `json:"lastError,omitempty"`
}

func statusOf(rec *Record) DeliveryStatus {
	ds := DeliveryStatus{
		CorrelationID:  rec.CorrelationID,
		MessageID:      rec.Envelope.MessageID,
		Recipient:      rec.Recipient,
		Status:         rec.Status,
		Attempts:       rec.Attempts,
		PushedAt:       rec.PushedAt,
		AcknowledgedAt: rec.AcknowledgedAt,
		ExpiresAt:      rec.ExpiresAt,
		LastError:      rec.LastError,
	}
	if rec.Status == StatusStaged {
		next := rec.NextAttemptAt
		ds.NextAttemptAt = &next
	}
	return ds
}

type Handlers struct {
	store  Store
	events EventPublisher
	now    func() time.Time
	log    logger.Logger
}

func NewHandlers(store Store, events EventPublisher, log logger.Logger) *Handlers {
	if events == nil {
		events = nopEvents{}
	}
	return &Handlers{store: store, events: events, now: time.Now, log: log}
}

func (h *Handlers) Acknowledge(ctx context.Context, cmd AcknowledgeDelivery) (AckResult, error) {
	ctx = logging.WithCorrelationID(ctx, cmd.CorrelationID)
	now := h.now().UTC()

	changed, err := h.store.Acknowledge(ctx, cmd.CorrelationID, cmd.Recipient, now)
	if err != nil {
		return AckResult{}, err
	}

	if !changed {
		rec, err := h.store.Get(ctx, cmd.CorrelationID)
		if err != nil {
			return AckResult{}, err
		}
		return AckResult{
			CorrelationID:  cmd.CorrelationID,
			Status:         rec.Status,
			Duplicate:      true,
			AcknowledgedAt: rec.AcknowledgedAt,
		}, nil
	}

	metrics.IncDeliveryTransition(string(StatusAcknowledged))
	h.log.InfowCtx(ctx, "Delivery acknowledged", "recipient", cmd.Recipient)

	if rec, err := h.store.Get(ctx, cmd.CorrelationID); err == nil {
		if pubErr := h.events.Publish(ctx, NewEvent(EventAcknowledged, *rec, now)); pubErr != nil {
			h.log.WarnwCtx(ctx, "Failed to publish delivery event", "event", EventAcknowledged, "error", pubErr)
		}
	}

	return AckResult{
		CorrelationID:  cmd.CorrelationID,
		Status:         StatusAcknowledged,
		AcknowledgedAt: &now,
	}, nil
}

func (h *Handlers) Status(ctx context.Context, q GetDeliveryStatus) (DeliveryStatus, error) {
	rec, err := h.store.Get(ctx, q.CorrelationID)
	if err != nil {
		return DeliveryStatus{}, err
	}
	if q.ViewerID != "" && q.ViewerID != rec.Recipient && q.ViewerID != rec.Envelope.From {
		return DeliveryStatus{}, pkgerrors.NotFound("Delivery", q.CorrelationID)
	}
	return statusOf(rec), nil
}

// Register binds the delivery command and query to m.
func Register(m *mediator.Mediator, h *Handlers) error {
	if err := mediator.Register[AcknowledgeDelivery, AckResult](m, mediator.HandlerFunc[AcknowledgeDelivery, AckResult](h.Acknowledge)); err != nil {
		return err
	}
	return mediator.Register[GetDeliveryStatus, DeliveryStatus](m, mediator.HandlerFunc[GetDeliveryStatus, DeliveryStatus](h.Status))
}
