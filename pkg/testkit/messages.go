package testkit

import (
	"strings"
	"testing"
	"time"

	"storepilot/pkg/proto"
)

// MessageBuilder creates synthetic messages for tests.
type MessageBuilder struct {
	msg *proto.Message
}

// NewRequest starts a request message.
func NewRequest(from, to, content string) *MessageBuilder {
	return &MessageBuilder{msg: proto.NewMessage(proto.MsgTypeRequest, from, to, content)}
}

// NewInfo starts an info message.
func NewInfo(from, to, content string) *MessageBuilder {
	return &MessageBuilder{msg: proto.NewMessage(proto.MsgTypeInfo, from, to, content)}
}

// NewAlert starts an alert message.
func NewAlert(from, to, content string) *MessageBuilder {
	return &MessageBuilder{msg: proto.NewMessage(proto.MsgTypeAlert, from, to, content)}
}

// WithData sets one data key.
func (mb *MessageBuilder) WithData(key string, value any) *MessageBuilder {
	if mb.msg.Data == nil {
		mb.msg.Data = make(map[string]any)
	}
	mb.msg.Data[key] = value
	return mb
}

// WithTimestamp overrides the timestamp.
func (mb *MessageBuilder) WithTimestamp(ts time.Time) *MessageBuilder {
	mb.msg.Timestamp = ts
	return mb
}

// Build returns the message.
func (mb *MessageBuilder) Build() *proto.Message {
	return mb.msg
}

// AssertMessageType verifies the message type.
func AssertMessageType(t *testing.T, msg *proto.Message, expected proto.MsgType) {
	t.Helper()
	if msg.Type != expected {
		t.Errorf("Expected message type %s, got %s", expected, msg.Type)
	}
}

// AssertMessageRoute verifies sender and target.
func AssertMessageRoute(t *testing.T, msg *proto.Message, from, to string) {
	t.Helper()
	if msg.From != from {
		t.Errorf("Expected message from %s, got %s", from, msg.From)
	}
	if msg.To != to {
		t.Errorf("Expected message to %s, got %s", to, msg.To)
	}
}

// AssertDataValue verifies a data key has the expected value.
func AssertDataValue(t *testing.T, msg *proto.Message, key string, expected any) {
	t.Helper()
	value, exists := msg.Data[key]
	if !exists {
		t.Errorf("Expected data key '%s' to exist", key)
		return
	}
	if value != expected {
		t.Errorf("Expected data '%s' to be %v, got %v", key, expected, value)
	}
}

// AssertContentContains verifies the message content contains text.
func AssertContentContains(t *testing.T, msg *proto.Message, text string) {
	t.Helper()
	if !strings.Contains(msg.Content, text) {
		t.Errorf("Expected content to contain '%s', got '%s'", text, msg.Content)
	}
}
