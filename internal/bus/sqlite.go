// ABOUTME: Durable message bus appending to a per-recipient SQLite log.
// ABOUTME: Subscribers consume via background poll loops from their own cursors.

package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// defaultPollInterval is how long an idle consumer loop waits before
// checking the log again.
const defaultPollInterval = 100 * time.Millisecond

// SQLiteBus appends every message to an ordered log and delivers to each
// subscriber from a background consumer goroutine, so Publish never blocks
// on handler execution. Delivery is at-least-once per recipient group:
// acknowledging a message advances the durable read cursor, and messages
// delivered but never acknowledged are seen again after a restart.
type SQLiteBus struct {
	db           *sql.DB
	logger       *slog.Logger
	pollInterval time.Duration

	mu          sync.Mutex
	subscribers map[string]bool // recipients with at least one consumer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSQLiteBus opens (or creates) the durable bus at path.
func NewSQLiteBus(path string, logger *slog.Logger) (*SQLiteBus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS bus_messages (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			recipient     TEXT NOT NULL,
			priority_rank INTEGER NOT NULL,
			acknowledged  INTEGER NOT NULL DEFAULT 0,
			data          TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bus_messages_recipient
			ON bus_messages(recipient, seq);

		CREATE TABLE IF NOT EXISTS bus_cursors (
			recipient      TEXT PRIMARY KEY,
			last_acked_seq INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &SQLiteBus{
		db:           db,
		logger:       logger.With("component", "bus"),
		pollInterval: defaultPollInterval,
		subscribers:  make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
	b.logger.Info("sqlite message bus initialized", "path", path)
	return b, nil
}

func (b *SQLiteBus) Publish(from, to string, typ Type, payload map[string]any, priority Priority, requiresResponse bool) (string, error) {
	msg := newMessage(from, to, typ, payload, priority, requiresResponse)

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	_, err = b.db.Exec(`
		INSERT INTO bus_messages (id, recipient, priority_rank, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, to, msg.Priority.rank(), string(data),
		msg.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("appending to message log: %w", err)
	}
	return msg.ID, nil
}

func (b *SQLiteBus) Broadcast(from string, typ Type, payload map[string]any, priority Priority) ([]string, error) {
	known := make(map[string]bool)

	rows, err := b.db.Query("SELECT DISTINCT recipient FROM bus_messages")
	if err != nil {
		return nil, fmt.Errorf("listing recipients: %w", err)
	}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err == nil {
			known[r] = true
		}
	}
	rows.Close()

	b.mu.Lock()
	for r := range b.subscribers {
		known[r] = true
	}
	b.mu.Unlock()

	delete(known, from)

	recipients := make([]string, 0, len(known))
	for r := range known {
		recipients = append(recipients, r)
	}
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

// Subscribe starts a consumer goroutine for agentID. The consumer begins at
// the recipient group's durable cursor, so messages queued before the
// subscription (and anything delivered but never acknowledged before a
// restart) are replayed.
func (b *SQLiteBus) Subscribe(agentID string, handler Handler) {
	b.mu.Lock()
	b.subscribers[agentID] = true
	b.mu.Unlock()

	start := b.ackedCursor(agentID)

	b.wg.Add(1)
	go b.consume(agentID, handler, start)
}

// ackedCursor reads the durable cursor for a recipient group; 0 when none.
func (b *SQLiteBus) ackedCursor(recipient string) int64 {
	var seq int64
	err := b.db.QueryRow(
		"SELECT last_acked_seq FROM bus_cursors WHERE recipient = ?", recipient,
	).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		b.logger.Error("reading cursor", "recipient", recipient, "error", err)
	}
	return seq
}

// consume polls the log for messages past the consumer's position and
// delivers them in sequence order. The in-memory position stops the loop
// from redelivering within one process lifetime; only Acknowledge moves the
// durable cursor.
func (b *SQLiteBus) consume(recipient string, handler Handler, pos int64) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		delivered := b.drainFrom(recipient, handler, &pos)
		if delivered {
			continue
		}
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainFrom delivers every message past *pos, advancing it. Returns true if
// anything was delivered.
func (b *SQLiteBus) drainFrom(recipient string, handler Handler, pos *int64) bool {
	rows, err := b.db.Query(`
		SELECT seq, data FROM bus_messages
		WHERE recipient = ? AND seq > ?
		ORDER BY seq LIMIT 32`, recipient, *pos)
	if err != nil {
		b.logger.Error("polling message log", "recipient", recipient, "error", err)
		return false
	}

	type entry struct {
		seq  int64
		data string
	}
	var batch []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.seq, &e.data); err == nil {
			batch = append(batch, e)
		}
	}
	rows.Close()

	for _, e := range batch {
		var msg Message
		if err := json.Unmarshal([]byte(e.data), &msg); err != nil {
			b.logger.Error("decoding logged message", "seq", e.seq, "error", err)
			*pos = e.seq
			continue
		}
		b.deliver(handler, &msg)
		*pos = e.seq
	}
	return len(batch) > 0
}

func (b *SQLiteBus) deliver(h Handler, msg *Message) {
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

func (b *SQLiteBus) PendingMessages(agentID string, limit int) []*Message {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited
	}
	rows, err := b.db.Query(`
		SELECT data FROM bus_messages
		WHERE recipient = ? AND acknowledged = 0
		ORDER BY priority_rank, seq LIMIT ?`, agentID, limit)
	if err != nil {
		b.logger.Error("listing pending messages", "recipient", agentID, "error", err)
		return nil
	}
	defer rows.Close()

	var pending []*Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		pending = append(pending, &msg)
	}
	return pending
}

func (b *SQLiteBus) Acknowledge(messageID string) bool {
	var seq int64
	var recipient string
	err := b.db.QueryRow(
		"SELECT seq, recipient FROM bus_messages WHERE id = ?", messageID,
	).Scan(&seq, &recipient)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		b.logger.Error("looking up message", "message_id", messageID, "error", err)
		return false
	}

	if _, err := b.db.Exec(
		"UPDATE bus_messages SET acknowledged = 1 WHERE id = ?", messageID,
	); err != nil {
		b.logger.Error("acknowledging message", "message_id", messageID, "error", err)
		return false
	}

	_, err = b.db.Exec(`
		INSERT INTO bus_cursors (recipient, last_acked_seq) VALUES (?, ?)
		ON CONFLICT(recipient) DO UPDATE SET
			last_acked_seq = MAX(last_acked_seq, excluded.last_acked_seq)`,
		recipient, seq,
	)
	if err != nil {
		b.logger.Error("advancing cursor", "recipient", recipient, "error", err)
	}
	return true
}

func (b *SQLiteBus) MessageStatus(messageID string) (*Status, bool) {
	var data string
	var acked int
	err := b.db.QueryRow(
		"SELECT data, acknowledged FROM bus_messages WHERE id = ?", messageID,
	).Scan(&data, &acked)
	if err != nil {
		return nil, false
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, false
	}
	return &Status{
		MessageID:    msg.ID,
		Acknowledged: acked != 0,
		From:         msg.From,
		To:           msg.To,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
	}, true
}

// Close stops every consumer loop and closes the database.
func (b *SQLiteBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.db.Close()
}
