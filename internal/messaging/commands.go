package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"postbox/internal/delivery"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/internal/transaction"
	"postbox/internal/validation"
	pkgerrors "postbox/pkg/errors"
	"postbox/pkg/logging"
)

type CreateMessage struct {
	mediator.Command
	SenderID      int64  `json:"senderId" validate:"gt=0"`
	RecipientID   int64  `json:"recipientId" validate:"gt=0"`
	Content       string `json:"content" validate:"required,max=4000"`
	CorrelationID string `json:"correlationId,omitempty" validate:"omitempty,max=128"`
	IsPrivate     *bool  `json:"isPrivate,omitempty"`
}

func (CreateMessage) RequestName() string { return "CreateMessage" }

func (c CreateMessage) Rules() []validation.Rule {
	return []validation.Rule{
		{Message: "content must not be blank", Valid: c.Content == "" || strings.TrimSpace(c.Content) != ""},
	}
}

type CreateMessageResponse struct {
	ID            int64     `json:"id"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

// Notifier is told after commit that new envelopes are visible.
type Notifier interface {
	Notify()
}

type CreateMessageHandler struct {
	users    UserDirectory
	messages MessageRepository
	uow      transaction.UnitOfWork
	stager   delivery.Stager
	notifier Notifier
	now      func() time.Time
	newID    func() string
	log      logger.Logger
}

type HandlerOption func(*CreateMessageHandler)

func WithNotifier(n Notifier) HandlerOption {
	return func(h *CreateMessageHandler) {
		h.notifier = n
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *CreateMessageHandler) {
		h.now = now
	}
}

func WithCorrelationIDGenerator(newID func() string) HandlerOption {
	return func(h *CreateMessageHandler) {
		h.newID = newID
	}
}

func NewCreateMessageHandler(
	users UserDirectory,
	messages MessageRepository,
	uow transaction.UnitOfWork,
	stager delivery.Stager,
	log logger.Logger,
	opts ...HandlerOption,
) *CreateMessageHandler {
	h := &CreateMessageHandler{
		users:    users,
		messages: messages,
		uow:      uow,
		stager:   stager,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle persists the message and stages its envelope in one transaction.
// Users are resolved before the transaction opens; the handler never retries.
func (h *CreateMessageHandler) Handle(ctx context.Context, cmd CreateMessage) (CreateMessageResponse, error) {
	if err := h.resolve(ctx, cmd.SenderID); err != nil {
		return CreateMessageResponse{}, err
	}
	if err := h.resolve(ctx, cmd.RecipientID); err != nil {
		return CreateMessageResponse{}, err
	}

	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = h.newID()
	}
	ctx = logging.WithCorrelationID(ctx, correlationID)

	msg := NewMessage(cmd.SenderID, cmd.RecipientID, cmd.Content, correlationID, cmd.IsPrivate, h.now())

	committedAt, err := transaction.Within(ctx, h.uow, func(ctx context.Context) error {
		if err := h.messages.Create(ctx, msg); err != nil {
			if pkgerrors.IsConflict(err) {
				return err
			}
			return pkgerrors.Wrap(err, pkgerrors.ErrTransaction)
		}

		staged, err := h.stager.Stage(ctx, msg.Envelope())
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.ErrDeliveryStaging).WithDetail("correlation_id", correlationID)
		}
		if !staged {
			h.log.WarnwCtx(ctx, "envelope already staged", "message_id", msg.ID)
		}
		return nil
	})
	if err != nil {
		if !pkgerrors.IsConflict(err) {
			h.log.ErrorwCtx(ctx, "failed to create message",
				"sender_id", cmd.SenderID,
				"recipient_id", cmd.RecipientID,
				"error_code", pkgerrors.Code(err),
				"error", err,
			)
		}
		return CreateMessageResponse{}, err
	}

	if h.notifier != nil {
		h.notifier.Notify()
	}

	h.log.InfowCtx(ctx, "message created", "message_id", msg.ID, "recipient_id", msg.RecipientID)

	return CreateMessageResponse{
		ID:            msg.ID,
		Status:        StatusSent,
		Timestamp:     committedAt,
		CorrelationID: correlationID,
	}, nil
}

func (h *CreateMessageHandler) resolve(ctx context.Context, id int64) error {
	user, err := h.users.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return pkgerrors.NotFound("User", id)
	}
	return nil
}
