// Package proto defines the messages exchanged between agents and the status
// vocabulary shared by every storepilot component.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MsgType classifies a message.
type MsgType string

const (
	MsgTypeInfo     MsgType = "info"
	MsgTypeRequest  MsgType = "request"
	MsgTypeResponse MsgType = "response"
	MsgTypeError    MsgType = "error"
	MsgTypeProgress MsgType = "progress"
	MsgTypeAlert    MsgType = "alert"
)

// Reserved endpoints. Any other value of From/To names an agent.
const (
	// TargetAll broadcasts to every registered agent except the sender.
	TargetAll = "all"
	// TargetUser is never delivered; the message only surfaces as an event.
	TargetUser = "user"
	// SenderOrchestrator marks messages built by the orchestrator itself.
	SenderOrchestrator = "orchestrator"
)

// Message is a directed or broadcast note between agents.
type Message struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MsgType        `json:"type"`
	Content   string         `json:"content"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(msgType MsgType, from, to, content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.New().String(),
		Timestamp: time.Now().UTC(),
		From:      from,
		To:        to,
		Type:      msgType,
		Content:   content,
	}
}

// WithData attaches a payload and returns the message for chaining.
func (m *Message) WithData(data map[string]any) *Message {
	m.Data = data
	return m
}

// IsBroadcast reports whether the message targets every agent.
func (m *Message) IsBroadcast() bool {
	return m.To == TargetAll
}

// IsForUser reports whether the message is only meant for observers.
func (m *Message) IsForUser() bool {
	return m.To == TargetUser
}

// Clone returns a copy with its own top-level data map.
func (m *Message) Clone() *Message {
	c := *m
	if m.Data != nil {
		c.Data = make(map[string]any, len(m.Data))
		for k, v := range m.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Validate checks the fields every routed message needs.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.From == "" {
		return fmt.Errorf("message sender is required")
	}
	if m.To == "" {
		return fmt.Errorf("message target is required")
	}
	if _, err := ParseMsgType(string(m.Type)); err != nil {
		return err
	}
	return nil
}

// ToJSON encodes the message.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON decodes a message.
func FromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &m, nil
}

// ParseMsgType parses a case-insensitive message type.
func ParseMsgType(s string) (MsgType, error) {
	t := MsgType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case MsgTypeInfo, MsgTypeRequest, MsgTypeResponse, MsgTypeError, MsgTypeProgress, MsgTypeAlert:
		return t, nil
	default:
		return "", fmt.Errorf("unknown message type: %q", s)
	}
}
