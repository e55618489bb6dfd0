// ABOUTME: Bus interface shared by the in-memory and durable implementations.
// ABOUTME: Expected delivery outcomes are booleans, never errors.

package bus

// Bus is the contract every message bus implementation meets. Publishing to
// a recipient nobody has subscribed to is not an error: the recipient's
// queue is created and the message waits there.
type Bus interface {
	// Publish sends one message and returns its id. The in-memory
	// implementation invokes every subscriber handler for the recipient
	// before returning.
	Publish(from, to string, typ Type, payload map[string]any, priority Priority, requiresResponse bool) (string, error)

	// Broadcast fans out to every other known agent, excluding the sender,
	// via one Publish per recipient. Returns the ids in recipient order.
	Broadcast(from string, typ Type, payload map[string]any, priority Priority) ([]string, error)

	// Subscribe registers a handler for messages addressed to agentID,
	// including any already queued and unacknowledged before subscribing.
	Subscribe(agentID string, handler Handler)

	// PendingMessages returns up to limit unacknowledged messages for the
	// agent, ordered by priority rank with arrival order breaking ties.
	PendingMessages(agentID string, limit int) []*Message

	// Acknowledge marks a message processed. Unknown ids return false;
	// acknowledging twice is safe and reports true both times.
	Acknowledge(messageID string) bool

	// MessageStatus reports delivery state, or false for an unknown id.
	MessageStatus(messageID string) (*Status, bool)

	// Close releases resources and stops any consumer loops.
	Close() error
}
