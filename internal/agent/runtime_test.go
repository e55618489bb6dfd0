// ABOUTME: Tests for the base agent runtime lifecycle and dispatch path.
// ABOUTME: Uses a mock executor and the in-memory bus for synchronous flow.

package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
)

// mockExecutor records executed tasks and fails on demand.
type mockExecutor struct {
	executed []*registry.Task
	err      error
}

func (m *mockExecutor) ExecuteTask(ctx context.Context, task *registry.Task) error {
	m.executed = append(m.executed, task)
	return m.err
}

type world struct {
	store contextstore.Store
	bus   *bus.MemoryBus
	reg   *registry.Registry
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store, err := contextstore.NewFileStore(filepath.Join(t.TempDir(), "context.json"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &world{
		store: store,
		bus:   bus.NewMemoryBus(nil),
		reg:   registry.New(store, nil, nil),
	}
}

func (w *world) assign(t *testing.T, agentID, taskID, workflow, description string) {
	t.Helper()
	_, err := w.bus.Publish("coordinator", agentID, bus.TypeTaskAssignment, map[string]any{
		"task_id":     taskID,
		"workflow":    workflow,
		"description": description,
		"priority":    "normal",
	}, bus.PriorityNormal, false)
	require.NoError(t, err)
}

func TestRuntime_StartRegistersAndGoesIdle(t *testing.T) {
	w := newWorld(t)
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, &mockExecutor{}, nil)

	require.NoError(t, r.Start())
	defer r.Shutdown()

	agent := w.reg.Agent("dev-1")
	require.NotNil(t, agent)
	assert.Equal(t, registry.StatusIdle, agent.Status)
	assert.Equal(t, registry.RoleDeveloper, agent.Role)
}

func TestRuntime_StartRejectsDuplicateID(t *testing.T) {
	w := newWorld(t)

	first := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, &mockExecutor{}, nil)
	require.NoError(t, first.Start())
	defer first.Shutdown()

	second := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, &mockExecutor{}, nil)
	err := second.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRuntime_StartRequiresCollaborators(t *testing.T) {
	w := newWorld(t)

	r := NewRuntime("dev-1", registry.RoleDeveloper, nil, w.bus, w.reg, &mockExecutor{}, nil)
	assert.Error(t, r.Start())

	r = NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, nil, nil)
	assert.Error(t, r.Start())
}

func TestRuntime_AssignmentExecutesAndCompletes(t *testing.T) {
	w := newWorld(t)
	exec := &mockExecutor{}
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, exec, nil)
	require.NoError(t, r.Start())
	defer r.Shutdown()

	var reports []*bus.Message
	w.bus.Subscribe("coordinator", func(msg *bus.Message) { reports = append(reports, msg) })

	w.assign(t, "dev-1", "task_1", "fix_bug", "fix the crash")

	require.Len(t, exec.executed, 1)
	assert.Equal(t, "task_1", exec.executed[0].ID)
	assert.Equal(t, "fix_bug", exec.executed[0].Workflow)

	// The agent is idle again and the coordinator heard about it.
	assert.Equal(t, registry.StatusIdle, w.reg.Agent("dev-1").Status)
	assert.Equal(t, 1, w.reg.Agent("dev-1").CompletedTasks)
	require.Len(t, reports, 1)
	assert.Equal(t, bus.TypeTaskComplete, reports[0].Type)
	assert.Equal(t, "task_1", reports[0].Payload["task_id"])
}

func TestRuntime_ExecutorErrorFailsTask(t *testing.T) {
	w := newWorld(t)
	exec := &mockExecutor{err: errors.New("build exploded")}
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, exec, nil)
	require.NoError(t, r.Start())
	defer r.Shutdown()

	var reports []*bus.Message
	w.bus.Subscribe("coordinator", func(msg *bus.Message) { reports = append(reports, msg) })

	w.assign(t, "dev-1", "task_1", "fix_bug", "fix the crash")

	assert.Equal(t, 1, w.reg.Agent("dev-1").FailedTasks)
	assert.Equal(t, registry.StatusIdle, w.reg.Agent("dev-1").Status)
	require.Len(t, reports, 1)
	assert.Equal(t, bus.TypeTaskFailed, reports[0].Type)
	assert.Equal(t, "build exploded", reports[0].Payload["error"])

	failed, _ := w.store.Get("workflows.failed", nil).([]any)
	require.Len(t, failed, 1)
}

func TestRuntime_RejectedAssignmentReportsFailure(t *testing.T) {
	w := newWorld(t)
	exec := &mockExecutor{}
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, exec, nil)
	require.NoError(t, r.Start())
	defer r.Shutdown()

	// Fill the agent to capacity behind the runtime's back.
	for i := 0; i < 3; i++ {
		require.True(t, w.reg.AssignTask("dev-1", &registry.Task{ID: string(rune('a' + i))}))
	}

	var reports []*bus.Message
	w.bus.Subscribe("coordinator", func(msg *bus.Message) { reports = append(reports, msg) })

	w.assign(t, "dev-1", "task_overflow", "fix_bug", "one too many")

	assert.Empty(t, exec.executed, "rejected task never executes")
	require.Len(t, reports, 1)
	assert.Equal(t, bus.TypeTaskFailed, reports[0].Type)
	assert.Equal(t, "task_overflow", reports[0].Payload["task_id"])
}

func TestRuntime_RequestAndBroadcastHooks(t *testing.T) {
	w := newWorld(t)

	var requests, broadcasts int
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, &mockExecutor{}, nil,
		WithRequestHook(func(*bus.Message) { requests++ }),
		WithBroadcastHook(func(*bus.Message) { broadcasts++ }),
	)
	require.NoError(t, r.Start())
	defer r.Shutdown()

	w.bus.Publish("tester-1", "dev-1", bus.TypeRequest, nil, bus.PriorityNormal, false)
	w.bus.Broadcast("coordinator", bus.TypeBroadcast, nil, bus.PriorityNormal)

	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, broadcasts)
}

func TestRuntime_HeartbeatAdvances(t *testing.T) {
	w := newWorld(t)
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, &mockExecutor{}, nil,
		WithHeartbeatInterval(10*time.Millisecond))
	require.NoError(t, r.Start())
	defer r.Shutdown()

	before := w.reg.Agent("dev-1").LastHeartbeat
	require.Eventually(t, func() bool {
		return w.reg.Agent("dev-1").LastHeartbeat.After(before)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRuntime_ShutdownDeregisters(t *testing.T) {
	w := newWorld(t)
	r := NewRuntime("dev-1", registry.RoleDeveloper, w.store, w.bus, w.reg, &mockExecutor{}, nil)
	require.NoError(t, r.Start())

	r.Shutdown()
	assert.Nil(t, w.reg.Agent("dev-1"))

	// A second shutdown is a no-op.
	r.Shutdown()
}
