// ABOUTME: Tests for the JSON-file context store implementation.
// ABOUTME: Covers path resolution, merge, watch, convenience ops, and reload.

package contextstore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "context.json")
	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileStore_SetGet(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.Set("projects.dashboard.branch", "feature/dark-mode"))
	assert.Equal(t, "feature/dark-mode", s.Get("projects.dashboard.branch", nil))

	// Missing paths return the default.
	assert.Equal(t, "fallback", s.Get("no.such.path", "fallback"))
	assert.Nil(t, s.Get("no.such.path", nil))
}

func TestFileStore_UpdateMergesIntoMapping(t *testing.T) {
	s := newTestFileStore(t)

	// Scenario: set a leaf under a.b, then merge a sibling into a.b.
	require.True(t, s.Set("a.b.c", 1))
	require.True(t, s.Update("a.b", map[string]any{"d": 2}))

	got, ok := s.Get("a.b", nil).(map[string]any)
	require.True(t, ok)
	assert.True(t, jsonEqual(got["c"], 1))
	assert.True(t, jsonEqual(got["d"], 2))
}

func TestFileStore_UpdateRejectsNonMapping(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.Set("metrics.count", 5))
	assert.False(t, s.Update("metrics.count", map[string]any{"x": 1}))
}

func TestFileStore_UpdateCreatesMissingPath(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.Update("brand.new", map[string]any{"k": "v"}))
	got, ok := s.Get("brand.new", nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v", got["k"])
}

func TestFileStore_Delete(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.Set("agents.dev-1", map[string]any{"role": "developer_agent"}))
	assert.True(t, s.Delete("agents.dev-1"))
	assert.Nil(t, s.Get("agents.dev-1", nil))

	// Deleting twice reports absence.
	assert.False(t, s.Delete("agents.dev-1"))
}

func TestFileStore_SnapshotIsIsolated(t *testing.T) {
	s := newTestFileStore(t)

	s.Set("system.mode", "test")
	snap := s.Snapshot()

	// Mutating the snapshot must not leak back into the store.
	sys := snap["system"].(map[string]any)
	sys["mode"] = "mutated"
	assert.Equal(t, "test", s.Get("system.mode", nil))
}

func TestFileStore_WatchFiresForExactPathOnly(t *testing.T) {
	s := newTestFileStore(t)

	var got []any
	s.Watch("projects.dashboard.branch", func(v any) {
		got = append(got, v)
	})

	s.Set("projects.dashboard.branch", "b1")
	s.Set("projects.dashboard", map[string]any{"branch": "b2"}) // parent write
	s.Set("projects.dashboard.branch.sub", "x")                 // child write

	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0])
}

func TestFileStore_WatcherPanicIsContained(t *testing.T) {
	s := newTestFileStore(t)

	s.Watch("k", func(v any) { panic("boom") })

	var fired bool
	s.Watch("k", func(v any) { fired = true })

	assert.True(t, s.Set("k", 1))
	assert.True(t, fired, "second watcher still fires after first panics")
}

func TestFileStore_ListHelpers(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.AppendToList("workflows.completed", "task_1"))
	require.True(t, s.AppendToList("workflows.completed", "task_2"))

	list, ok := s.Get("workflows.completed", nil).([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"task_1", "task_2"}, list)

	assert.True(t, s.RemoveFromList("workflows.completed", "task_1"))
	assert.False(t, s.RemoveFromList("workflows.completed", "task_1"))

	// Type mismatch fails gracefully, not fatally.
	s.Set("scalar", 42)
	assert.False(t, s.AppendToList("scalar", "x"))
	assert.False(t, s.RemoveFromList("scalar", "x"))
}

func TestFileStore_GetReturnsIsolatedContainers(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.AppendToList("system.active_agents", "dev-1"))
	require.True(t, s.AppendToList("system.active_agents", "dev-2"))
	require.True(t, s.AppendToList("system.active_agents", "dev-3"))

	held, ok := s.Get("system.active_agents", nil).([]any)
	require.True(t, ok)

	// A removal after the read must not shift the held slice's contents.
	require.True(t, s.RemoveFromList("system.active_agents", "dev-1"))
	assert.Equal(t, []any{"dev-1", "dev-2", "dev-3"}, held)

	// Maps are isolated the same way.
	s.Set("projects.dashboard.branch", "main")
	m, ok := s.Get("projects.dashboard", nil).(map[string]any)
	require.True(t, ok)
	m["branch"] = "mutated"
	assert.Equal(t, "main", s.Get("projects.dashboard.branch", nil))
}

func TestFileStore_ConcurrentReadersAndListMutation(t *testing.T) {
	s := newTestFileStore(t)
	for i := 0; i < 8; i++ {
		require.True(t, s.AppendToList("system.active_agents", fmt.Sprintf("agent-%d", i)))
	}

	// One side iterates values handed out by Get while the other churns the
	// same list. Run under -race this catches any aliasing into the tree.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.RemoveFromList("system.active_agents", "agent-0")
			s.AppendToList("system.active_agents", "agent-0")
		}
	}()

	for i := 0; i < 200; i++ {
		list, _ := s.Get("system.active_agents", nil).([]any)
		for _, v := range list {
			_, _ = v.(string)
		}
	}
	<-done
}

func TestFileStore_Increment(t *testing.T) {
	s := newTestFileStore(t)

	require.True(t, s.Increment("metrics.total_tasks_completed", 1))
	require.True(t, s.Increment("metrics.total_tasks_completed", 2))
	n, ok := asNumber(s.Get("metrics.total_tasks_completed", nil))
	require.True(t, ok)
	assert.Equal(t, 3.0, n)

	// Starts from zero at a fresh path.
	require.True(t, s.Increment("metrics.new_counter", 5))
	n, _ = asNumber(s.Get("metrics.new_counter", nil))
	assert.Equal(t, 5.0, n)

	s.Set("metrics.label", "not a number")
	assert.False(t, s.Increment("metrics.label", 1))
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")

	s1, err := NewFileStore(path, nil)
	require.NoError(t, err)
	s1.Set("system.reopened", "yes")
	require.NoError(t, s1.Close())

	s2, err := NewFileStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, "yes", s2.Get("system.reopened", nil))
}

func TestFileStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	defer s.Close()

	// Seeded with the default schema.
	_, ok := s.Get("workflows.in_progress", nil).([]any)
	assert.True(t, ok)
}

func TestFileStore_SeedsDefaultSchema(t *testing.T) {
	s := newTestFileStore(t)

	for _, path := range []string{
		"system.active_agents",
		"workflows.in_progress",
		"workflows.completed",
		"workflows.failed",
	} {
		_, ok := s.Get(path, nil).([]any)
		assert.True(t, ok, "expected seeded list at %s", path)
	}
	_, ok := s.Get("metrics", nil).(map[string]any)
	assert.True(t, ok)
}
