// ABOUTME: Tests for the agent registry over an in-memory file store.
// ABOUTME: Covers capacity enforcement, status lifecycle, ledgers, round-trips.

package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinworks/swarm/internal/contextstore"
)

func newTestRegistry(t *testing.T) (*Registry, contextstore.Store) {
	t.Helper()
	store, err := contextstore.NewFileStore(filepath.Join(t.TempDir(), "context.json"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, nil, nil), store
}

func TestRegistry_RegisterAppliesRoleDefaults(t *testing.T) {
	r, store := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))

	agent := r.Agent("dev-1")
	require.NotNil(t, agent)
	assert.Equal(t, RoleDeveloper, agent.Role)
	assert.Equal(t, StatusStarting, agent.Status)
	assert.Contains(t, agent.Capabilities, "code_generation")
	assert.Contains(t, agent.Workflows, "fix_bug")
	assert.Equal(t, defaultMaxConcurrentTasks, agent.MaxConcurrentTasks)
	assert.Empty(t, agent.CurrentTasks)

	ids, _ := store.Get("system.active_agents", nil).([]any)
	assert.Contains(t, ids, "dev-1")
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	assert.False(t, r.Register("dev-1", RoleTester), "id is taken")

	// The original record survives the rejected attempt.
	assert.Equal(t, RoleDeveloper, r.Agent("dev-1").Role)
}

func TestRegistry_CapacityLifecycle(t *testing.T) {
	// Register dev-1 with a limit of one; assign t1 (BUSY), reject t2
	// (capacity), complete t1 (IDLE), then t2 succeeds.
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper, WithMaxConcurrentTasks(1)))
	require.True(t, r.UpdateStatus("dev-1", StatusIdle))

	t1 := &Task{ID: "task_1", Workflow: "fix_bug", Description: "fix crash", Priority: "high"}
	require.True(t, r.AssignTask("dev-1", t1))
	assert.Equal(t, StatusBusy, r.Agent("dev-1").Status)

	t2 := &Task{ID: "task_2", Workflow: "fix_bug", Description: "fix typo", Priority: "low"}
	assert.False(t, r.AssignTask("dev-1", t2), "agent at capacity")

	require.True(t, r.CompleteTask("dev-1", "task_1"))
	assert.Equal(t, StatusIdle, r.Agent("dev-1").Status)
	assert.Equal(t, 1, r.Agent("dev-1").CompletedTasks)

	assert.True(t, r.AssignTask("dev-1", t2))
	assert.Equal(t, StatusBusy, r.Agent("dev-1").Status)
}

func TestRegistry_BusyExactlyWhenHoldingTasks(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.UpdateStatus("dev-1", StatusIdle))

	require.True(t, r.AssignTask("dev-1", &Task{ID: "a", Workflow: "fix_bug"}))
	require.True(t, r.AssignTask("dev-1", &Task{ID: "b", Workflow: "fix_bug"}))
	assert.Equal(t, StatusBusy, r.Agent("dev-1").Status)

	require.True(t, r.CompleteTask("dev-1", "a"))
	assert.Equal(t, StatusBusy, r.Agent("dev-1").Status, "still holds one task")

	require.True(t, r.FailTask("dev-1", "b", "boom"))
	assert.Equal(t, StatusIdle, r.Agent("dev-1").Status)
}

func TestRegistry_StartTask(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.AssignTask("dev-1", &Task{ID: "a", Workflow: "fix_bug"}))

	assert.Equal(t, TaskPending, r.Agent("dev-1").CurrentTasks[0].Status)
	require.True(t, r.StartTask("dev-1", "a"))

	task := r.Agent("dev-1").CurrentTasks[0]
	assert.Equal(t, TaskInProgress, task.Status)
	require.NotNil(t, task.StartedAt)

	assert.False(t, r.StartTask("dev-1", "a"), "already started")
	assert.False(t, r.StartTask("dev-1", "missing"))
}

func TestRegistry_CompletionAndFailureLedgers(t *testing.T) {
	r, store := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.AssignTask("dev-1", &Task{ID: "ok", Workflow: "fix_bug"}))
	require.True(t, r.AssignTask("dev-1", &Task{ID: "bad", Workflow: "fix_bug"}))

	require.True(t, r.CompleteTask("dev-1", "ok"))
	require.True(t, r.FailTask("dev-1", "bad", "compile error"))

	completed, _ := store.Get("workflows.completed", nil).([]any)
	assert.Contains(t, completed, "ok")

	failed, _ := store.Get("workflows.failed", nil).([]any)
	require.Len(t, failed, 1)
	record, _ := failed[0].(map[string]any)
	assert.Equal(t, "bad", record["task_id"])
	assert.Equal(t, "compile error", record["error"])
	assert.NotEmpty(t, record["timestamp"])

	assert.InDelta(t, 1, store.Get("metrics.total_tasks_completed", 0), 0.001)
	assert.InDelta(t, 1, store.Get("metrics.total_failures", 0), 0.001)
}

func TestRegistry_CompleteUnknownTask(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	assert.False(t, r.CompleteTask("dev-1", "never-assigned"))
	assert.False(t, r.CompleteTask("ghost", "task"))
	assert.Equal(t, 0, r.Agent("dev-1").CompletedTasks)
}

func TestRegistry_Deregister(t *testing.T) {
	r, store := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.Deregister("dev-1"))

	assert.Nil(t, r.Agent("dev-1"))
	ids, _ := store.Get("system.active_agents", nil).([]any)
	assert.NotContains(t, ids, "dev-1")

	assert.False(t, r.Deregister("dev-1"), "already gone")
}

func TestRegistry_Heartbeat(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	before := r.Agent("dev-1").LastHeartbeat

	time.Sleep(5 * time.Millisecond)
	require.True(t, r.Heartbeat("dev-1"))
	assert.True(t, r.Agent("dev-1").LastHeartbeat.After(before))

	assert.False(t, r.Heartbeat("ghost"))
}

func TestRegistry_AvailableAgentsFiltering(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper, WithMaxConcurrentTasks(1)))
	require.True(t, r.Register("dev-2", RoleDeveloper))
	require.True(t, r.Register("test-1", RoleTester))
	require.True(t, r.Register("down-1", RoleDeployer))

	r.UpdateStatus("dev-1", StatusIdle)
	r.UpdateStatus("dev-2", StatusIdle)
	r.UpdateStatus("test-1", StatusIdle)
	r.UpdateStatus("down-1", StatusOffline)

	// dev-1 fills up and drops out of the available set.
	require.True(t, r.AssignTask("dev-1", &Task{ID: "a", Workflow: "fix_bug"}))

	var ids []string
	for _, a := range r.AvailableAgents("") {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"dev-2", "test-1"}, ids, "ordered by id, offline and full agents excluded")

	ids = nil
	for _, a := range r.AvailableAgents("testing") {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"test-1"}, ids)
}

func TestRegistry_AgentsByRoleAndCapability(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.Register("dev-2", RoleDeveloper))
	require.True(t, r.Register("test-1", RoleTester))

	assert.Len(t, r.AgentsByRole(RoleDeveloper), 2)
	assert.Len(t, r.AgentsByRole(RoleTester), 1)
	assert.Empty(t, r.AgentsByRole(RoleDeployer))

	byCap := r.AgentsByCapability("debugging")
	require.Len(t, byCap, 2)
	assert.Equal(t, "dev-1", byCap[0].ID)
}

func TestRegistry_AgentStatus(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper, WithMaxConcurrentTasks(2)))
	r.UpdateStatus("dev-1", StatusIdle)
	require.True(t, r.AssignTask("dev-1", &Task{ID: "task_1", Workflow: "fix_bug"}))

	detail := r.AgentStatus("dev-1")
	require.NotNil(t, detail)
	assert.Equal(t, "dev-1", detail["agent_id"])
	assert.Equal(t, "busy", detail["status"])
	assert.Equal(t, "1/2", detail["load"])
	assert.Equal(t, []string{"task_1"}, detail["current_tasks"])

	assert.Nil(t, r.AgentStatus("ghost"))
}

func TestRegistry_Stats(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.Register("test-1", RoleTester))
	r.UpdateStatus("dev-1", StatusIdle)
	r.UpdateStatus("test-1", StatusIdle)

	require.True(t, r.AssignTask("dev-1", &Task{ID: "a", Workflow: "fix_bug"}))
	require.True(t, r.AssignTask("dev-1", &Task{ID: "b", Workflow: "fix_bug"}))
	require.True(t, r.CompleteTask("dev-1", "a"))

	stats := r.Stats()
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 1, stats.ActiveTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 0, stats.FailedTasks)
	assert.Equal(t, 1, stats.ByStatus[StatusBusy])
	assert.Equal(t, 1, stats.ByStatus[StatusIdle])
}

func TestAgent_MapRoundTrip(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	agent := &Agent{
		ID:           "dev-1",
		Role:         RoleDeveloper,
		Capabilities: []string{"code_generation", "debugging"},
		Workflows:    []string{"fix_bug"},
		Status:       StatusBusy,
		CurrentTasks: []*Task{{
			ID:          "task_1",
			Workflow:    "fix_bug",
			Description: "fix crash on launch",
			Priority:    "urgent",
			Status:      TaskInProgress,
			AssignedAt:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			StartedAt:   &started,
		}},
		CompletedTasks:     7,
		FailedTasks:        1,
		RegisteredAt:       time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
		LastHeartbeat:      time.Date(2026, 8, 1, 10, 29, 0, 0, time.UTC),
		MaxConcurrentTasks: 2,
		Metadata:           map[string]any{"host": "build-3"},
	}

	m, err := agent.ToMap()
	require.NoError(t, err)
	restored, err := AgentFromMap(m)
	require.NoError(t, err)

	assert.Equal(t, agent, restored)
}

func TestRegistry_RecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.json")

	store, err := contextstore.NewFileStore(path, nil)
	require.NoError(t, err)
	r := New(store, nil, nil)
	require.True(t, r.Register("dev-1", RoleDeveloper))
	require.True(t, r.AssignTask("dev-1", &Task{ID: "a", Workflow: "fix_bug"}))
	require.NoError(t, store.Close())

	store2, err := contextstore.NewFileStore(path, nil)
	require.NoError(t, err)
	defer store2.Close()

	r2 := New(store2, nil, nil)
	agent := r2.Agent("dev-1")
	require.NotNil(t, agent)
	assert.Equal(t, StatusBusy, agent.Status)
	require.Len(t, agent.CurrentTasks, 1)
	assert.Equal(t, "a", agent.CurrentTasks[0].ID)
}
