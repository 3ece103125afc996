package models

import (
	"encoding/json"
	"time"
)

// BrokerMessage is the JSON body of every record this service reads from
// or writes to Kafka.
type BrokerMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID       string   `json:"trace_id,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	DeadLetter    *DLQInfo `json:"dead_letter,omitempty"`
}

type DLQInfo struct {
	Reason      string    `json:"reason"`
	ErrorCode   string    `json:"error_code"`
	SourceTopic string    `json:"source_topic"`
	FailedAt    time.Time `json:"failed_at"`
}

// Decode unmarshals the payload into v.
func (m BrokerMessage) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
