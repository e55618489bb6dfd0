// ABOUTME: In-process message bus with synchronous delivery inside Publish.
// ABOUTME: Per-recipient queues re-sorted by priority on every publish.

package bus

import (
	"log/slog"
	"sort"
	"sync"
)

// MemoryBus delivers messages synchronously: Publish invokes every
// registered subscriber handler for the recipient, in registration order,
// before returning. A handler panic is caught and logged; it neither aborts
// delivery to later subscribers nor rolls back the publish. State is lost
// when the process exits.
type MemoryBus struct {
	mu          sync.Mutex
	queues      map[string][]*Message
	store       map[string]*Message
	acked       map[string]bool
	subscribers map[string][]Handler
	logger      *slog.Logger
}

// NewMemoryBus creates an empty in-process bus. Pass nil for the default
// logger.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		queues:      make(map[string][]*Message),
		store:       make(map[string]*Message),
		acked:       make(map[string]bool),
		subscribers: make(map[string][]Handler),
		logger:      logger.With("component", "bus"),
	}
}

func (b *MemoryBus) Publish(from, to string, typ Type, payload map[string]any, priority Priority, requiresResponse bool) (string, error) {
	msg := newMessage(from, to, typ, payload, priority, requiresResponse)

	b.mu.Lock()
	b.store[msg.ID] = msg
	b.queues[to] = append(b.queues[to], msg)
	sortQueue(b.queues[to])
	handlers := make([]Handler, len(b.subscribers[to]))
	copy(handlers, b.subscribers[to])
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(h, msg)
	}
	return msg.ID, nil
}

func (b *MemoryBus) Broadcast(from string, typ Type, payload map[string]any, priority Priority) ([]string, error) {
	b.mu.Lock()
	known := make(map[string]bool)
	for id := range b.queues {
		known[id] = true
	}
	for id := range b.subscribers {
		known[id] = true
	}
	delete(known, from)

	recipients := make([]string, 0, len(known))
	for id := range known {
		recipients = append(recipients, id)
	}
	b.mu.Unlock()

	sort.Strings(recipients)

	ids := make([]string, 0, len(recipients))
	for _, to := range recipients {
		id, err := b.Publish(from, to, typ, payload, priority, false)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *MemoryBus) Subscribe(agentID string, handler Handler) {
	b.mu.Lock()
	b.subscribers[agentID] = append(b.subscribers[agentID], handler)
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = []*Message{}
	}
	// Backlog queued before this subscriber arrived is replayed to it.
	backlog := b.pendingLocked(agentID, 0)
	b.mu.Unlock()

	for _, msg := range backlog {
		b.deliver(handler, msg)
	}
}

// deliver runs one handler, containing panics so a broken subscriber never
// takes down the publisher.
func (b *MemoryBus) deliver(h Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber handler panicked",
				"message_id", msg.ID,
				"to_agent", msg.To,
				"panic", r)
		}
	}()
	h(msg)
}

func (b *MemoryBus) PendingMessages(agentID string, limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingLocked(agentID, limit)
}

// pendingLocked returns unacknowledged messages in queue order. limit <= 0
// means no limit. Caller holds b.mu.
func (b *MemoryBus) pendingLocked(agentID string, limit int) []*Message {
	var pending []*Message
	for _, msg := range b.queues[agentID] {
		if b.acked[msg.ID] {
			continue
		}
		pending = append(pending, msg)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending
}

func (b *MemoryBus) Acknowledge(messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, known := b.store[messageID]; !known {
		return false
	}
	b.acked[messageID] = true
	return true
}

func (b *MemoryBus) MessageStatus(messageID string) (*Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.store[messageID]
	if !ok {
		return nil, false
	}
	return &Status{
		MessageID:    msg.ID,
		Acknowledged: b.acked[msg.ID],
		From:         msg.From,
		To:           msg.To,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
	}, true
}

func (b *MemoryBus) Close() error {
	return nil
}

// sortQueue orders a queue by priority rank. The sort is stable, so equal
// priorities keep their arrival order.
func sortQueue(queue []*Message) {
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority.rank() < queue[j].Priority.rank()
	})
}
