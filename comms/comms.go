// Package comms provides the inter-agent communication bus.
package comms

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of inter-agent message.
type MessageType string

const (
	TypeDirect       MessageType = "direct"       // point-to-point message
	TypeBroadcast    MessageType = "broadcast"    // sent to every subscriber
	TypeTaskUpdate   MessageType = "task_update"  // task status change notification
	TypeRequest      MessageType = "request"      // request requiring a response
	TypeResponse     MessageType = "response"     // response to a request
	TypeNotification MessageType = "notification" // progress or completion notice
)

// Wildcard subscribes a handler to every message published on a bus.
const Wildcard = "*"

// Message is a communication unit between agents.
type Message struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	From      string            `json:"from"` // sender agent ID
	To        string            `json:"to"`   // recipient agent ID (empty for broadcast)
	TeamID    string            `json:"team_id,omitempty"`
	Subject   string            `json:"subject"`
	Content   string            `json:"content"`
	ReplyTo   string            `json:"reply_to,omitempty"` // ID of message being replied to
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewMessage builds a message with a fresh ID and the current time.
func NewMessage(typ MessageType, from, to, subject, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      typ,
		From:      from,
		To:        to,
		Subject:   subject,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Reply builds a response to msg, addressed back to its sender.
func Reply(msg *Message, from, content string) *Message {
	r := NewMessage(TypeResponse, from, msg.From, msg.Subject, content)
	r.ReplyTo = msg.ID
	r.TeamID = msg.TeamID
	return r
}

// Clone returns a copy of m that shares no mutable state with it.
func (m *Message) Clone() *Message {
	c := *m
	c.Metadata = maps.Clone(m.Metadata)
	return &c
}

// Handler processes incoming messages for an agent.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the inter-agent communication backbone. Agents subscribe to
// receive messages and publish messages to other agents or teams.
type Bus interface {
	// Publish sends a message. For direct messages, the To field routes
	// to a specific agent. Broadcasts reach every subscriber.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for messages addressed to the given agent ID,
	// or for all messages when agentID is Wildcard.
	// Returns an unsubscribe function.
	Subscribe(agentID string, handler Handler) (unsubscribe func())

	// History returns recent messages for the given agent, or all recent
	// messages when agentID is empty or Wildcard.
	History(agentID string, limit int) ([]*Message, error)
}
