package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BrokerMessageBuilder struct {
	msg BrokerMessage
	err error
}

func NewBrokerMessage(msgType string) *BrokerMessageBuilder {
	return &BrokerMessageBuilder{msg: BrokerMessage{Type: msgType}}
}

func (b *BrokerMessageBuilder) WithID(id string) *BrokerMessageBuilder {
	b.msg.ID = id
	return b
}

func (b *BrokerMessageBuilder) WithSource(source string) *BrokerMessageBuilder {
	b.msg.Source = source
	return b
}

func (b *BrokerMessageBuilder) WithTimestamp(ts time.Time) *BrokerMessageBuilder {
	b.msg.Timestamp = ts
	return b
}

func (b *BrokerMessageBuilder) WithPayload(payload interface{}) *BrokerMessageBuilder {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.err = fmt.Errorf("failed to encode %s payload: %w", b.msg.Type, err)
		return b
	}
	b.msg.Payload = raw
	return b
}

func (b *BrokerMessageBuilder) WithTraceID(traceID string) *BrokerMessageBuilder {
	b.msg.Metadata.TraceID = traceID
	return b
}

func (b *BrokerMessageBuilder) WithCorrelationID(correlationID string) *BrokerMessageBuilder {
	b.msg.Metadata.CorrelationID = correlationID
	return b
}

// Build fills a random id and the current time when unset.
func (b *BrokerMessageBuilder) Build() (BrokerMessage, error) {
	if b.err != nil {
		return BrokerMessage{}, b.err
	}
	if b.msg.ID == "" {
		b.msg.ID = uuid.NewString()
	}
	if b.msg.Timestamp.IsZero() {
		b.msg.Timestamp = time.Now().UTC()
	}
	if b.msg.Payload == nil {
		b.msg.Payload = json.RawMessage("{}")
	}
	return b.msg, nil
}
