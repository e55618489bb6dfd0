// ABOUTME: SQLite implementation of the context store using modernc.org/sqlite.
// ABOUTME: One row per path with publish-on-write notifications for watchers.

package contextstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per dot-path. Each operation is a single
// key read/write; Set publishes the new value to in-process watchers.
// There is no transactional guarantee across multiple paths.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex // serializes read-modify-write ops (Update, list/number helpers)
	watchMu  sync.RWMutex
	watchers map[string][]WatchFunc
}

// NewSQLiteStore opens (or creates) the store at path. The schema is
// created automatically and WAL mode is enabled for concurrent readers.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
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
		CREATE TABLE IF NOT EXISTS context_entries (
			path       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		logger:   logger.With("component", "contextstore"),
		watchers: make(map[string][]WatchFunc),
	}
	s.logger.Info("sqlite context store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) Get(path string, def any) any {
	var raw string
	err := s.db.QueryRow(
		"SELECT value FROM context_entries WHERE path = ?", path,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		// The path may name an interior node: reassemble from child rows.
		if sub, ok := s.subtree(path); ok {
			return sub
		}
		return def
	}
	if err != nil {
		s.logger.Error("reading context", "path", path, "error", err)
		return def
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.logger.Error("decoding context value", "path", path, "error", err)
		return def
	}
	return v
}

// subtree reconstructs a nested mapping from all rows under prefix.
func (s *SQLiteStore) subtree(prefix string) (map[string]any, bool) {
	rows, err := s.db.Query(
		"SELECT path, value FROM context_entries WHERE path LIKE ?", prefix+".%",
	)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	tree := make(map[string]any)
	found := false
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		setPath(tree, path[len(prefix)+1:], v)
		found = true
	}
	return tree, found
}

func (s *SQLiteStore) Set(path string, value any) bool {
	if !s.write(path, value) {
		return false
	}
	s.notify(path, value)
	return true
}

// write upserts a single row without notifying watchers.
func (s *SQLiteStore) write(path string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("encoding context value", "path", path, "error", err)
		return false
	}
	_, err = s.db.Exec(`
		INSERT INTO context_entries (path, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		path, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("writing context", "path", path, "error", err)
		return false
	}
	return true
}

func (s *SQLiteStore) Update(path string, partial map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.Get(path, map[string]any{})
	m, ok := existing.(map[string]any)
	if !ok {
		return false
	}
	merged := make(map[string]any, len(m)+len(partial))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return s.Set(path, merged)
}

func (s *SQLiteStore) Delete(path string) bool {
	res, err := s.db.Exec("DELETE FROM context_entries WHERE path = ?", path)
	if err != nil {
		s.logger.Error("deleting context", "path", path, "error", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *SQLiteStore) Snapshot() map[string]any {
	rows, err := s.db.Query("SELECT path, value FROM context_entries")
	if err != nil {
		s.logger.Error("snapshotting context", "error", err)
		return map[string]any{}
	}
	defer rows.Close()

	tree := make(map[string]any)
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		setPath(tree, path, v)
	}
	return tree
}

func (s *SQLiteStore) Watch(path string, callback WatchFunc) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchers[path] = append(s.watchers[path], callback)
}

func (s *SQLiteStore) notify(path string, value any) {
	s.watchMu.RLock()
	callbacks := make([]WatchFunc, len(s.watchers[path]))
	copy(callbacks, s.watchers[path])
	s.watchMu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("watcher panicked", "path", path, "panic", r)
				}
			}()
			cb(value)
		}()
	}
}

func (s *SQLiteStore) AppendToList(path string, item any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.Get(path, []any{})
	list, ok := existing.([]any)
	if !ok {
		return false
	}
	return s.Set(path, append(list, item))
}

func (s *SQLiteStore) RemoveFromList(path string, item any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.Get(path, nil)
	list, ok := existing.([]any)
	if !ok {
		return false
	}
	for i, v := range list {
		if jsonEqual(v, item) {
			return s.Set(path, append(list[:i], list[i+1:]...))
		}
	}
	return false
}

func (s *SQLiteStore) Increment(path string, amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.Get(path, 0.0)
	n, ok := asNumber(existing)
	if !ok {
		return false
	}
	return s.Set(path, n+amount)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
