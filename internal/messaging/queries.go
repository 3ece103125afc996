package messaging

import (
	"context"

	"postbox/internal/constants"
	"postbox/internal/mediator"
	pkgerrors "postbox/pkg/errors"
)

type GetMessage struct {
	mediator.Query
	ID int64 `json:"id" validate:"gt=0"`
	// ViewerID, when set, restricts private messages to their participants.
	ViewerID int64 `json:"viewerId,omitempty" validate:"gte=0"`
}

func (GetMessage) RequestName() string { return "GetMessage" }

type ListConversation struct {
	mediator.Query
	UserID   int64 `json:"userId" validate:"gt=0"`
	PeerID   int64 `json:"peerId" validate:"gt=0,nefield=UserID"`
	BeforeID int64 `json:"beforeId,omitempty" validate:"gte=0"`
	Limit    int   `json:"limit,omitempty" validate:"gte=0"`
	// ViewerID, when set and not a participant, hides private messages.
	ViewerID int64 `json:"viewerId,omitempty" validate:"gte=0"`
}

func (ListConversation) RequestName() string { return "ListConversation" }

type Conversation struct {
	Messages []Message `json:"messages"`
	// NextBeforeID pages further back; zero when there is nothing older.
	NextBeforeID int64 `json:"nextBeforeId,omitempty"`
}

type QueryHandler struct {
	messages MessageRepository
}

func NewQueryHandler(messages MessageRepository) *QueryHandler {
	return &QueryHandler{messages: messages}
}

func (h *QueryHandler) GetMessage(ctx context.Context, q GetMessage) (Message, error) {
	msg, err := h.messages.Get(ctx, q.ID)
	if err != nil {
		return Message{}, err
	}

	if q.ViewerID > 0 && msg.IsPrivate && msg.SenderID != q.ViewerID && msg.RecipientID != q.ViewerID {
		return Message{}, pkgerrors.NotFound("Message", q.ID)
	}

	return *msg, nil
}

func (h *QueryHandler) ListConversation(ctx context.Context, q ListConversation) (Conversation, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = constants.DefaultConversationLimit
	}
	if limit > constants.MaxConversationLimit {
		limit = constants.MaxConversationLimit
	}

	messages, err := h.messages.ListConversation(ctx, q.UserID, q.PeerID, q.BeforeID, limit)
	if err != nil {
		return Conversation{}, err
	}

	var conv Conversation
	// The cursor follows the unfiltered page so hidden rows are skipped, not lost.
	if len(messages) == limit {
		conv.NextBeforeID = messages[len(messages)-1].ID
	}
	conv.Messages = visibleTo(messages, q.ViewerID)
	return conv, nil
}

func visibleTo(messages []Message, viewerID int64) []Message {
	if viewerID == 0 {
		return messages
	}
	visible := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.IsPrivate && msg.SenderID != viewerID && msg.RecipientID != viewerID {
			continue
		}
		visible = append(visible, msg)
	}
	return visible
}

// Register binds the message commands and queries to m.
func Register(m *mediator.Mediator, create *CreateMessageHandler, queries *QueryHandler) error {
	if err := mediator.Register[CreateMessage, CreateMessageResponse](m, create); err != nil {
		return err
	}
	if err := mediator.Register[GetMessage, Message](m, mediator.HandlerFunc[GetMessage, Message](queries.GetMessage)); err != nil {
		return err
	}
	return mediator.Register[ListConversation, Conversation](m, mediator.HandlerFunc[ListConversation, Conversation](queries.ListConversation))
}
