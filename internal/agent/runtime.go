// ABOUTME: Base agent runtime: registration, dispatch, heartbeats, shutdown.
// ABOUTME: Role behavior plugs in through the Executor interface.

// Package agent hosts the shared runtime every worker agent is built on and
// the specialized executors for each role. The runtime owns the bus
// subscription and the registry bookkeeping; executors only do the work.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
)

// ErrAlreadyRegistered is returned by Start when the agent id is taken.
var ErrAlreadyRegistered = errors.New("agent id already registered")

// defaultHeartbeatInterval applies when the runtime is built without one.
const defaultHeartbeatInterval = 30 * time.Second

// Executor is the role-specific behavior a runtime drives. ExecuteTask runs
// synchronously inside the dispatch handler; a returned error fails the
// task.
type Executor interface {
	ExecuteTask(ctx context.Context, task *registry.Task) error
}

// Hook is an overridable reaction to a non-assignment message.
type Hook func(msg *bus.Message)

// Runtime composes the shared collaborators with one Executor. It has no
// behavior of its own beyond the agent lifecycle.
type Runtime struct {
	id       string
	role     string
	store    contextstore.Store
	bus      bus.Bus
	registry *registry.Registry
	executor Executor
	logger   *slog.Logger

	heartbeatInterval time.Duration
	onRequest         Hook
	onBroadcast       Hook

	mu      sync.Mutex
	running bool
	tasks   []*registry.Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RuntimeOption customizes a runtime at construction.
type RuntimeOption func(*Runtime)

// WithHeartbeatInterval overrides the heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) RuntimeOption {
	return func(r *Runtime) { r.heartbeatInterval = d }
}

// WithRequestHook replaces the no-op REQUEST reaction.
func WithRequestHook(h Hook) RuntimeOption {
	return func(r *Runtime) { r.onRequest = h }
}

// WithBroadcastHook replaces the no-op BROADCAST reaction.
func WithBroadcastHook(h Hook) RuntimeOption {
	return func(r *Runtime) { r.onBroadcast = h }
}

// NewRuntime assembles an agent runtime. Pass nil for the default logger.
func NewRuntime(id, role string, store contextstore.Store, b bus.Bus, reg *registry.Registry, executor Executor, logger *slog.Logger, opts ...RuntimeOption) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		id:                id,
		role:              role,
		store:             store,
		bus:               b,
		registry:          reg,
		executor:          executor,
		logger:            logger.With("component", "agent", "agent_id", id),
		heartbeatInterval: defaultHeartbeatInterval,
		onRequest:         func(*bus.Message) {},
		onBroadcast:       func(*bus.Message) {},
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the agent's bus address.
func (r *Runtime) ID() string { return r.id }

// Start walks the agent through its startup sequence: validate
// collaborators, register, warm from the context snapshot, subscribe, start
// the heartbeat, go IDLE. Any failure aborts the startup.
func (r *Runtime) Start() error {
	if r.store == nil || r.bus == nil || r.registry == nil {
		return fmt.Errorf("agent %s: missing collaborators", r.id)
	}
	if r.executor == nil {
		return fmt.Errorf("agent %s: no executor", r.id)
	}

	if !r.registry.Register(r.id, r.role) {
		return fmt.Errorf("agent %s: %w", r.id, ErrAlreadyRegistered)
	}

	// Informational warm-up: how busy is the system we are joining and what
	// this role is expected to handle.
	snapshot := r.store.Snapshot()
	if system, ok := snapshot["system"].(map[string]any); ok {
		if active, ok := system["active_agents"].([]any); ok {
			r.logger.Info("joining swarm", "role", r.role, "active_agents", len(active))
		}
	}
	if self := r.registry.Agent(r.id); self != nil {
		r.logger.Info("role workflows", "role", r.role, "workflows", self.Workflows)
	}

	r.bus.Subscribe(r.id, r.dispatch)

	r.wg.Add(1)
	go r.heartbeatLoop()

	r.registry.UpdateStatus(r.id, registry.StatusIdle)
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	r.logger.Info("agent started", "role", r.role)
	return nil
}

// Shutdown stops the heartbeat and removes the agent from the registry.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.registry.Deregister(r.id)
	r.logger.Info("agent stopped")
}

func (r *Runtime) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.registry.Heartbeat(r.id)
		}
	}
}

// dispatch reacts to one delivered message. Task execution is synchronous
// inside the handler: with the in-memory bus the publisher waits for it,
// with the durable bus the consumer goroutine does.
func (r *Runtime) dispatch(msg *bus.Message) {
	switch msg.Type {
	case bus.TypeTaskAssignment:
		r.handleAssignment(msg)
	case bus.TypeRequest:
		r.onRequest(msg)
	case bus.TypeBroadcast:
		r.onBroadcast(msg)
	default:
		r.logger.Debug("ignoring message", "message_type", msg.Type, "from_agent", msg.From)
	}
	r.bus.Acknowledge(msg.ID)
}

func (r *Runtime) handleAssignment(msg *bus.Message) {
	task := taskFromPayload(msg.Payload)
	if task.ID == "" {
		r.logger.Error("assignment without task_id", "from_agent", msg.From)
		return
	}

	if !r.registry.AssignTask(r.id, task) {
		// Raced past the coordinator's capacity view; hand it back.
		r.publishFailure(task.ID, "assignment rejected: agent at capacity")
		return
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()

	r.registry.StartTask(r.id, task.ID)
	r.logger.Info("executing task", "task_id", task.ID, "workflow", task.Workflow)

	if err := r.executor.ExecuteTask(r.ctx, task); err != nil {
		r.FailTask(task.ID, err.Error())
		return
	}
	r.CompleteTask(task.ID)
}

// CompleteTask finalizes a task in the registry, drops the local mirror, and
// reports completion to the coordinator.
func (r *Runtime) CompleteTask(taskID string) {
	if !r.registry.CompleteTask(r.id, taskID) {
		r.logger.Warn("completing unknown task", "task_id", taskID)
		return
	}
	r.dropLocal(taskID)
	r.publish(bus.TypeTaskComplete, map[string]any{"task_id": taskID})
	r.logger.Info("task complete", "task_id", taskID)
}

// FailTask finalizes a failed task and reports it to the coordinator.
func (r *Runtime) FailTask(taskID, reason string) {
	if !r.registry.FailTask(r.id, taskID, reason) {
		r.logger.Warn("failing unknown task", "task_id", taskID)
		return
	}
	r.dropLocal(taskID)
	r.publish(bus.TypeTaskFailed, map[string]any{"task_id": taskID, "error": reason})
	r.logger.Warn("task failed", "task_id", taskID, "error", reason)
}

func (r *Runtime) dropLocal(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tasks[:0]
	for _, t := range r.tasks {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	r.tasks = kept
}

func (r *Runtime) publish(typ bus.Type, payload map[string]any) {
	if _, err := r.bus.Publish(r.id, "coordinator", typ, payload, bus.PriorityNormal, false); err != nil {
		r.logger.Error("publishing report", "message_type", typ, "error", err)
	}
}

func (r *Runtime) publishFailure(taskID, reason string) {
	r.publish(bus.TypeTaskFailed, map[string]any{"task_id": taskID, "error": reason})
}

// taskFromPayload builds a Task from a TASK_ASSIGNMENT payload.
func taskFromPayload(payload map[string]any) *registry.Task {
	task := &registry.Task{}
	if v, ok := payload["task_id"].(string); ok {
		task.ID = v
	}
	if v, ok := payload["workflow"].(string); ok {
		task.Workflow = v
	}
	if v, ok := payload["description"].(string); ok {
		task.Description = v
	}
	if v, ok := payload["priority"].(string); ok {
		task.Priority = v
	}
	return task
}
