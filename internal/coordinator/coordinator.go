// ABOUTME: Coordinator routes incoming tasks to agents over the message bus.
// ABOUTME: Holds the in-memory pending queue for tasks no agent can take.

package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
)

// DefaultID is the coordinator's well-known agent id on the bus.
const DefaultID = "coordinator"

// staleHeartbeat is how long an agent may go without a heartbeat before the
// monitor marks it offline.
const staleHeartbeat = 90 * time.Second

// pendingTask is a routed-but-unassignable task waiting in the coordinator's
// queue. The queue is in-memory only and has no expiry; restart drops it.
type pendingTask struct {
	Description string
	Priority    bus.Priority
	Workflow    string
	Info        workflowInfo
	EnqueuedAt  time.Time
}

// Coordinator classifies free-text requests into workflows and hands them to
// the least-loaded capable agent. It registers itself in the registry like
// any other agent, so it shows up in system stats and receives escalations.
type Coordinator struct {
	id       string
	store    contextstore.Store
	bus      bus.Bus
	registry *registry.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	pending []pendingTask
}

// New wires a coordinator over the shared collaborators. Pass nil for the
// default logger.
func New(store contextstore.Store, b bus.Bus, reg *registry.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		id:       DefaultID,
		store:    store,
		bus:      b,
		registry: reg,
		logger:   logger.With("component", "coordinator"),
	}
}

// ID returns the coordinator's bus address.
func (c *Coordinator) ID() string { return c.id }

// Start registers the coordinator and subscribes it to its own bus queue so
// completion reports and escalations reach it.
func (c *Coordinator) Start() error {
	if !c.registry.Register(c.id, registry.RoleCoordinator) {
		return fmt.Errorf("coordinator id %q already registered", c.id)
	}
	c.registry.UpdateStatus(c.id, registry.StatusIdle)
	c.bus.Subscribe(c.id, c.handleMessage)
	c.logger.Info("coordinator started", "agent_id", c.id)
	return nil
}

// Shutdown deregisters the coordinator. Queued tasks are dropped.
func (c *Coordinator) Shutdown() {
	c.registry.Deregister(c.id)
	c.logger.Info("coordinator stopped", "agent_id", c.id)
}

// newTaskID produces a short unique id like "task_3f2a9c1d0b4e8f67".
func newTaskID() string {
	u := uuid.New()
	return "task_" + hex.EncodeToString(u[:8])
}

// RouteIncomingTask classifies the description, picks the least-loaded agent
// for the resulting workflow's role, and publishes a TASK_ASSIGNMENT to it.
// Returns the task id and true on assignment; when no agent can take the
// task it is queued and ("", false) is returned.
func (c *Coordinator) RouteIncomingTask(description string, priority bus.Priority) (string, bool) {
	workflow := Classify(description)
	info, ok := workflowCatalog[workflow]
	if !ok {
		c.logger.Error("classified workflow missing from catalog", "workflow", workflow)
		return "", false
	}

	target := c.pickAgent(info.Role)
	if target == "" {
		c.enqueue(pendingTask{
			Description: description,
			Priority:    priority,
			Workflow:    workflow,
			Info:        info,
			EnqueuedAt:  time.Now().UTC(),
		})
		c.logger.Info("no agent available, task queued",
			"workflow", workflow, "role", info.Role)
		return "", false
	}

	taskID := newTaskID()
	_, err := c.bus.Publish(c.id, target, bus.TypeTaskAssignment, map[string]any{
		"task_id":        taskID,
		"workflow":       workflow,
		"description":    description,
		"priority":       string(priority),
		"required_tools": info.Tools,
	}, priority, false)
	if err != nil {
		c.logger.Error("publishing task assignment", "task_id", taskID, "error", err)
		return "", false
	}

	c.store.AppendToList("workflows.in_progress", taskID)
	c.store.AppendToList("system.current_tasks", taskID)
	c.logger.Info("task routed",
		"task_id", taskID,
		"workflow", workflow,
		"agent_id", target,
		"priority", priority)
	return taskID, true
}

// pickAgent returns the least-loaded available agent for the role, or "".
// AvailableAgents is id-ordered, so ties resolve to the lowest id and the
// choice is deterministic.
func (c *Coordinator) pickAgent(role string) string {
	var best *registry.Agent
	for _, agent := range c.registry.AvailableAgents("") {
		if agent.Role != role {
			continue
		}
		if best == nil || len(agent.CurrentTasks) < len(best.CurrentTasks) {
			best = agent
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func (c *Coordinator) enqueue(p pendingTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, p)
}

// QueueDepth reports how many tasks are waiting for an agent.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ProcessQueuedTasks retries each queued task once, keeping the ones that
// still cannot be placed. There is no backoff or expiry; callers drive this
// on their own cadence.
func (c *Coordinator) ProcessQueuedTasks() int {
	c.mu.Lock()
	waiting := c.pending
	c.pending = nil
	c.mu.Unlock()

	routed := 0
	for _, p := range waiting {
		if _, ok := c.RouteIncomingTask(p.Description, p.Priority); ok {
			routed++
		}
	}
	if routed > 0 {
		c.logger.Info("queued tasks re-routed", "routed", routed, "remaining", c.QueueDepth())
	}
	return routed
}

// MonitorAgents marks agents with stale heartbeats offline and returns a
// per-agent status report.
func (c *Coordinator) MonitorAgents() map[string]registry.Status {
	report := make(map[string]registry.Status)
	cutoff := time.Now().UTC().Add(-staleHeartbeat)

	for _, agent := range c.registry.Agents() {
		if agent.ID == c.id {
			continue
		}
		if agent.Status != registry.StatusOffline && agent.LastHeartbeat.Before(cutoff) {
			c.registry.UpdateStatus(agent.ID, registry.StatusOffline)
			c.logger.Warn("agent heartbeat stale, marked offline",
				"agent_id", agent.ID,
				"last_heartbeat", agent.LastHeartbeat)
			report[agent.ID] = registry.StatusOffline
			continue
		}
		report[agent.ID] = agent.Status
	}
	return report
}

// HealthCheck records a health-check timestamp in the context tree and
// returns the live system stats.
func (c *Coordinator) HealthCheck() registry.SystemStats {
	stats := c.registry.Stats()
	c.store.Set("system.last_health_check", time.Now().UTC().Format(time.RFC3339))
	c.logger.Info("health check",
		"total_agents", stats.TotalAgents,
		"active_tasks", stats.ActiveTasks,
		"completed_tasks", stats.CompletedTasks,
		"failed_tasks", stats.FailedTasks)
	return stats
}

// handleMessage reacts to reports and escalations addressed to the
// coordinator. Task completion trims the shared in-progress ledgers.
func (c *Coordinator) handleMessage(msg *bus.Message) {
	switch msg.Type {
	case bus.TypeTaskComplete:
		if taskID, ok := msg.Payload["task_id"].(string); ok {
			c.finishTask(taskID)
			c.logger.Info("task completion reported", "task_id", taskID, "agent_id", msg.From)
		}
	case bus.TypeTaskFailed:
		if taskID, ok := msg.Payload["task_id"].(string); ok {
			c.finishTask(taskID)
			c.logger.Warn("task failure reported",
				"task_id", taskID,
				"agent_id", msg.From,
				"error", msg.Payload["error"])
		}
	case bus.TypeEscalation:
		c.logger.Warn("escalation received",
			"agent_id", msg.From,
			"payload", msg.Payload)
	case bus.TypeStatusUpdate:
		c.logger.Debug("status update", "agent_id", msg.From, "payload", msg.Payload)
	}
	c.bus.Acknowledge(msg.ID)

	// A finished task may have freed capacity for something queued.
	if msg.Type == bus.TypeTaskComplete || msg.Type == bus.TypeTaskFailed {
		c.ProcessQueuedTasks()
	}
}

// finishTask removes the task id from the shared in-flight ledgers.
func (c *Coordinator) finishTask(taskID string) {
	c.store.RemoveFromList("workflows.in_progress", taskID)
	c.store.RemoveFromList("system.current_tasks", taskID)
}

// Directive workflows the coordinator executes itself when driven as an
// agent rather than through Run.
const (
	DirectiveMonitorAgents = "monitor_agents"
	DirectiveHealthCheck   = "health_check"
)

// ExecuteTask lets the coordinator be driven like any other agent executor.
// Monitor and health directives run the corresponding duty; anything else is
// treated as a routing request for the task's description.
func (c *Coordinator) ExecuteTask(ctx context.Context, task *registry.Task) error {
	switch task.Workflow {
	case DirectiveMonitorAgents:
		c.MonitorAgents()
		return nil
	case DirectiveHealthCheck:
		c.HealthCheck()
		return nil
	default:
		if task.Description == "" {
			return fmt.Errorf("unknown coordinator directive %q", task.Workflow)
		}
		// Queued-not-assigned is a normal outcome, not a failure.
		c.RouteIncomingTask(task.Description, bus.Priority(task.Priority))
		return nil
	}
}

// Run drives the periodic duties (queue retries, liveness monitoring, health
// checks) until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ProcessQueuedTasks()
			c.MonitorAgents()
			c.HealthCheck()
			c.registry.Heartbeat(c.id)
		}
	}
}
