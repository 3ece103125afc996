package messaging

import (
	"strconv"
	"time"

	"postbox/internal/delivery"
)

const StatusSent = "sent"

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Message struct {
	ID            int64     `json:"id"`
	SenderID      int64     `json:"senderId"`
	RecipientID   int64     `json:"recipientId"`
	Content       string    `json:"content"`
	IsPrivate     bool      `json:"isPrivate"`
	CorrelationID string    `json:"correlationId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewMessage fixes the creation instant and privacy default when the entity
// is constructed. isPrivate nil means private.
func NewMessage(senderID, recipientID int64, content, correlationID string, isPrivate *bool, now time.Time) *Message {
	private := true
	if isPrivate != nil {
		private = *isPrivate
	}
	return &Message{
		SenderID:      senderID,
		RecipientID:   recipientID,
		Content:       content,
		IsPrivate:     private,
		CorrelationID: correlationID,
		CreatedAt:     now.UTC(),
	}
}

// Envelope projects a persisted message for the live transport.
func (m *Message) Envelope() delivery.Envelope {
	return delivery.Envelope{
		Type:          delivery.EnvelopeNewMessage,
		MessageID:     m.ID,
		From:          strconv.FormatInt(m.SenderID, 10),
		To:            strconv.FormatInt(m.RecipientID, 10),
		Content:       m.Content,
		IsPrivate:     m.IsPrivate,
		CorrelationID: m.CorrelationID,
		Timestamp:     m.CreatedAt,
	}
}
