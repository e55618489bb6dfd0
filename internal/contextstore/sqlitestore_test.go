// ABOUTME: Tests for the SQLite-backed context store implementation.
// ABOUTME: Verifies per-path rows, subtree reads, watch publish, and snapshot.

package contextstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "context.db")
	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SetGet(t *testing.T) {
	s := newTestSQLiteStore(t)

	require.True(t, s.Set("projects.dashboard.branch", "main"))
	assert.Equal(t, "main", s.Get("projects.dashboard.branch", nil))
	assert.Equal(t, "dflt", s.Get("missing.path", "dflt"))
}

func TestSQLiteStore_UpdateMerge(t *testing.T) {
	s := newTestSQLiteStore(t)

	require.True(t, s.Set("a.b", map[string]any{"c": 1}))
	require.True(t, s.Update("a.b", map[string]any{"d": 2}))

	got, ok := s.Get("a.b", nil).(map[string]any)
	require.True(t, ok)
	assert.True(t, jsonEqual(got["c"], 1))
	assert.True(t, jsonEqual(got["d"], 2))

	s.Set("a.scalar", 7)
	assert.False(t, s.Update("a.scalar", map[string]any{"x": 1}))
}

func TestSQLiteStore_SubtreeRead(t *testing.T) {
	s := newTestSQLiteStore(t)

	s.Set("agents.dev-1.role", "developer_agent")
	s.Set("agents.dev-1.status", "idle")

	got, ok := s.Get("agents.dev-1", nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "developer_agent", got["role"])
	assert.Equal(t, "idle", got["status"])
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestSQLiteStore(t)

	s.Set("k", "v")
	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"))
	assert.Nil(t, s.Get("k", nil))
}

func TestSQLiteStore_WatchPublishOnWrite(t *testing.T) {
	s := newTestSQLiteStore(t)

	var got []any
	s.Watch("system.mode", func(v any) { got = append(got, v) })

	s.Set("system.mode", "a")
	s.Set("system.other", "ignored")

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0])
}

func TestSQLiteStore_SnapshotRebuildsTree(t *testing.T) {
	s := newTestSQLiteStore(t)

	s.Set("system.active_agents", []any{"dev-1"})
	s.Set("metrics.total_failures", 0)

	snap := s.Snapshot()
	system, ok := snap["system"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"dev-1"}, system["active_agents"])
	metrics, ok := snap["metrics"].(map[string]any)
	require.True(t, ok)
	assert.True(t, jsonEqual(metrics["total_failures"], 0))
}

func TestSQLiteStore_ListAndIncrementHelpers(t *testing.T) {
	s := newTestSQLiteStore(t)

	require.True(t, s.AppendToList("workflows.failed", map[string]any{"task_id": "t1", "error": "boom"}))
	list, ok := s.Get("workflows.failed", nil).([]any)
	require.True(t, ok)
	require.Len(t, list, 1)

	assert.True(t, s.RemoveFromList("workflows.failed", map[string]any{"task_id": "t1", "error": "boom"}))
	assert.False(t, s.RemoveFromList("workflows.failed", "absent"))

	require.True(t, s.Increment("metrics.count", 2))
	require.True(t, s.Increment("metrics.count", 3))
	n, ok := asNumber(s.Get("metrics.count", nil))
	require.True(t, ok)
	assert.Equal(t, 5.0, n)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.db")

	s1, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	s1.Set("system.reopened", true)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, true, s2.Get("system.reopened", nil))
}
