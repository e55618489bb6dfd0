// ABOUTME: Message structure, type enum, and priority ranking for the bus.
// ABOUTME: Messages are immutable once published; only the ack bit changes.

package bus

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of inter-agent message.
type Type string

const (
	TypeTaskAssignment Type = "task_assignment"
	TypeStatusUpdate   Type = "status_update"
	TypeTaskComplete   Type = "task_complete"
	TypeTaskFailed     Type = "task_failed"
	TypeRequest        Type = "request"
	TypeResponse       Type = "response"
	TypeBroadcast      Type = "broadcast"
	TypeEscalation     Type = "escalation"
)

// Priority orders queued messages for a recipient.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// rank maps a priority to its sort position; unknown values sort as normal.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// BroadcastTarget is the recipient marker for broadcast messages.
const BroadcastTarget = "broadcast"

// Message is one unit of communication between agents. Once published it is
// immutable; acknowledgment state lives in the bus, not on the message.
type Message struct {
	ID               string         `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	From             string         `json:"from_agent"`
	To               string         `json:"to_agent"`
	Type             Type           `json:"message_type"`
	Payload          map[string]any `json:"payload"`
	Priority         Priority       `json:"priority"`
	RequiresResponse bool           `json:"requires_response"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
}

// Status reports delivery state for a published message.
type Status struct {
	MessageID    string    `json:"message_id"`
	Acknowledged bool      `json:"acknowledged"`
	From         string    `json:"from_agent"`
	To           string    `json:"to_agent"`
	Timestamp    time.Time `json:"timestamp"`
	Type         Type      `json:"message_type"`
}

// Handler processes one message delivered to a subscribed agent.
type Handler func(msg *Message)

// newMessageID produces a short unique id like "msg_3f2a9c1d0b4e8f67".
func newMessageID() string {
	u := uuid.New()
	return "msg_" + hex.EncodeToString(u[:8])
}

// newMessage assembles a Message with a fresh id and timestamp, defaulting
// an empty priority to normal.
func newMessage(from, to string, typ Type, payload map[string]any, priority Priority, requiresResponse bool) *Message {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Message{
		ID:               newMessageID(),
		Timestamp:        time.Now().UTC(),
		From:             from,
		To:               to,
		Type:             typ,
		Payload:          payload,
		Priority:         priority,
		RequiresResponse: requiresResponse,
	}
}
