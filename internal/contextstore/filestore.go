// ABOUTME: JSON-file implementation of the context store with atomic replace.
// ABOUTME: One coarse lock guards the tree; every mutation persists via temp+rename.

package contextstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrStoreClosed is returned by Close when the store was already closed.
var ErrStoreClosed = errors.New("context store closed")

// FileStore keeps the whole context tree in memory and mirrors it to a
// single JSON document on disk. A single mutex serializes every
// read-modify-write across the whole tree, so individual operations are
// atomic but no transaction spans multiple calls.
type FileStore struct {
	mu       sync.Mutex
	path     string
	tree     map[string]any
	watchers map[string][]WatchFunc
	logger   *slog.Logger
	closed   bool
}

// NewFileStore opens (or creates) the store backed by the JSON document at
// path. A missing file is seeded with the default system schema; a corrupt
// file is discarded and re-seeded rather than failing startup.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		path:     path,
		watchers: make(map[string][]WatchFunc),
		logger:   logger.With("component", "contextstore"),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.logger.Info("file context store initialized", "path", path)
	return s, nil
}

// load reads the JSON document, seeding defaults when the file is missing
// or unreadable as JSON.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading context file: %w", err)
		}
		s.tree = defaultTree()
		return s.save()
	}

	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		s.logger.Warn("context file corrupt, starting fresh", "path", s.path, "error", err)
		s.tree = defaultTree()
		return s.save()
	}
	s.tree = tree
	return nil
}

// defaultTree is the initial schema seeded into an empty store.
func defaultTree() map[string]any {
	return map[string]any{
		"system": map[string]any{
			"active_agents":     []any{},
			"current_tasks":     []any{},
			"last_health_check": nil,
			"uptime_start":      time.Now().UTC().Format(time.RFC3339),
		},
		"projects": map[string]any{
			"watch-app": map[string]any{
				"branch":        "main",
				"last_build":    nil,
				"test_coverage": 0.0,
			},
			"dashboard": map[string]any{
				"branch":            "main",
				"deployment_status": "unknown",
				"active_connectors": []any{},
			},
		},
		"workflows": map[string]any{
			"in_progress": []any{},
			"completed":   []any{},
			"failed":      []any{},
		},
		"metrics": map[string]any{
			"total_tasks_completed": 0.0,
			"total_failures":        0.0,
			"average_task_duration": 0.0,
		},
	}
}

// save writes the tree to a temp file and renames it over the target, so a
// crash mid-write never leaves a partial document. Caller holds s.mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.tree, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context tree: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing context temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing context file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(path string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := getPath(s.tree, path)
	if !ok {
		return def
	}
	// Containers are copied out; callers never hold a reference into the
	// live tree.
	switch v.(type) {
	case map[string]any, []any:
		return deepCopy(v)
	}
	return v
}

func (s *FileStore) Set(path string, value any) bool {
	s.mu.Lock()
	setPath(s.tree, path, value)
	if err := s.save(); err != nil {
		s.logger.Error("persisting context", "path", path, "error", err)
	}
	s.mu.Unlock()

	s.notify(path, value)
	return true
}

func (s *FileStore) Update(path string, partial map[string]any) bool {
	s.mu.Lock()
	existing, ok := getPath(s.tree, path)
	if ok {
		if _, isMap := existing.(map[string]any); !isMap {
			s.mu.Unlock()
			return false
		}
	}
	merged := make(map[string]any)
	if m, _ := existing.(map[string]any); m != nil {
		for k, v := range m {
			merged[k] = v
		}
	}
	for k, v := range partial {
		merged[k] = v
	}
	setPath(s.tree, path, merged)
	if err := s.save(); err != nil {
		s.logger.Error("persisting context", "path", path, "error", err)
	}
	s.mu.Unlock()

	s.notify(path, merged)
	return true
}

func (s *FileStore) Delete(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !deletePath(s.tree, path) {
		return false
	}
	if err := s.save(); err != nil {
		s.logger.Error("persisting context", "path", path, "error", err)
	}
	return true
}

func (s *FileStore) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied, _ := deepCopy(s.tree).(map[string]any)
	if copied == nil {
		copied = make(map[string]any)
	}
	return copied
}

func (s *FileStore) Watch(path string, callback WatchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[path] = append(s.watchers[path], callback)
}

// notify fires watchers for exactly path. Runs outside the tree lock so a
// watcher may call back into the store; a panicking watcher is contained.
func (s *FileStore) notify(path string, value any) {
	s.mu.Lock()
	callbacks := make([]WatchFunc, len(s.watchers[path]))
	copy(callbacks, s.watchers[path])
	s.mu.Unlock()

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

func (s *FileStore) AppendToList(path string, item any) bool {
	s.mu.Lock()
	existing, ok := getPath(s.tree, path)
	if !ok {
		existing = []any{}
	}
	list, isList := existing.([]any)
	if !isList {
		s.mu.Unlock()
		return false
	}
	list = append(list, item)
	setPath(s.tree, path, list)
	if err := s.save(); err != nil {
		s.logger.Error("persisting context", "path", path, "error", err)
	}
	s.mu.Unlock()

	s.notify(path, list)
	return true
}

func (s *FileStore) RemoveFromList(path string, item any) bool {
	s.mu.Lock()
	existing, ok := getPath(s.tree, path)
	if !ok {
		s.mu.Unlock()
		return false
	}
	list, isList := existing.([]any)
	if !isList {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i, v := range list {
		if jsonEqual(v, item) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	// Removal builds a fresh slice; the old backing array is never shifted
	// in place.
	kept := make([]any, 0, len(list)-1)
	kept = append(kept, list[:idx]...)
	kept = append(kept, list[idx+1:]...)
	list = kept
	setPath(s.tree, path, list)
	if err := s.save(); err != nil {
		s.logger.Error("persisting context", "path", path, "error", err)
	}
	s.mu.Unlock()

	s.notify(path, list)
	return true
}

func (s *FileStore) Increment(path string, amount float64) bool {
	s.mu.Lock()
	existing, ok := getPath(s.tree, path)
	if !ok {
		existing = 0.0
	}
	n, isNum := asNumber(existing)
	if !isNum {
		s.mu.Unlock()
		return false
	}
	updated := n + amount
	setPath(s.tree, path, updated)
	if err := s.save(); err != nil {
		s.logger.Error("persisting context", "path", path, "error", err)
	}
	s.mu.Unlock()

	s.notify(path, updated)
	return true
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.closed = true
	return nil
}

// jsonEqual compares two JSON-shaped values by canonical encoding, so a
// stored float64(1) matches a caller's int(1).
func jsonEqual(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}
