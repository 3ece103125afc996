// Package delivery is the guaranteed-delivery message store: a durable
// ledger of transport envelopes and the relay that drives each one to the
// live transport until it is acknowledged or expires.
package delivery

import (
	"encoding/json"
	"time"
)

const EnvelopeNewMessage = "new_message"

// Envelope is the transport projection of a persisted message. Its
// correlation id matches the originating request end to end.
type Envelope struct {
	Type          string    `json:"type"`
	MessageID     int64     `json:"messageId"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Content       string    `json:"content"`
	IsPrivate     bool      `json:"isPrivate"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

type Status string

const (
	StatusStaged       Status = "staged"
	StatusPushed       Status = "pushed"
	StatusAcknowledged Status = "acknowledged"
	StatusExpired      Status = "expired"
)

func (s Status) Terminal() bool {
	return s == StatusAcknowledged || s == StatusExpired
}

// Record is the ledger entry for one envelope, keyed by correlation id.
type Record struct {
	CorrelationID  string     `json:"correlationId"`
	Recipient      string     `json:"recipient"`
	Envelope       Envelope   `json:"envelope"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	PushedAt       *time.Time `json:"pushedAt,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
