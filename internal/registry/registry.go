// ABOUTME: Store-backed agent registry: registration, liveness, task ownership.
// ABOUTME: Single enforcement point for the per-agent concurrent task limit.

package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kinworks/swarm/internal/contextstore"
)

// defaultMaxConcurrentTasks applies when neither the role configuration nor a
// registration option sets a limit.
const defaultMaxConcurrentTasks = 3

// RoleConfig holds the defaults applied to agents registering under a role.
type RoleConfig struct {
	Capabilities       []string
	Workflows          []string
	MaxConcurrentTasks int
}

// DefaultRoles returns the built-in role catalog.
func DefaultRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		RoleCoordinator: {
			Capabilities:       []string{"task_routing", "health_monitoring", "escalation"},
			MaxConcurrentTasks: 10,
		},
		RoleDeveloper: {
			Capabilities: []string{"code_generation", "debugging", "feature_development"},
			Workflows:    []string{"add_watch_feature", "add_dashboard_feature", "fix_bug"},
		},
		RoleTester: {
			Capabilities: []string{"testing", "validation", "quality_assurance"},
			Workflows:    []string{"run_tests"},
		},
		RoleDeployer: {
			Capabilities: []string{"deployment", "release_management", "monitoring"},
			Workflows:    []string{"deploy_dashboard", "build_watch_app"},
		},
		RoleDataProcessor: {
			Capabilities: []string{"scraping", "data_transformation", "reporting"},
			Workflows:    []string{"scrape_website", "send_slack_message"},
		},
	}
}

// SystemStats is a point-in-time summary computed from live agent records.
type SystemStats struct {
	TotalAgents    int            `json:"total_agents"`
	ActiveTasks    int            `json:"active_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	FailedTasks    int            `json:"failed_tasks"`
	ByStatus       map[Status]int `json:"agents_by_status"`
}

// Registry tracks every agent in the swarm through the shared context tree,
// under "agents.<id>" plus the "system.active_agents" index. Agent IDs must
// not contain dots; a dot would split the context path.
//
// Boolean returns report expected admission outcomes (duplicate id, capacity
// exhausted, unknown agent), not faults.
type Registry struct {
	store  contextstore.Store
	roles  map[string]RoleConfig
	logger *slog.Logger

	// mu serializes read-modify-write cycles on agent records so two
	// concurrent assignments cannot both pass the capacity check.
	mu sync.Mutex
}

// New creates a registry over the given store. Pass nil roles for
// DefaultRoles, nil logger for the default logger.
func New(store contextstore.Store, roles map[string]RoleConfig, logger *slog.Logger) *Registry {
	if roles == nil {
		roles = DefaultRoles()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		roles:  roles,
		logger: logger.With("component", "registry"),
	}
}

func agentKey(id string) string {
	return "agents." + id
}

// RegisterOption overrides the role defaults for one registration.
type RegisterOption func(*Agent)

// WithMaxConcurrentTasks overrides the agent's concurrent task limit.
func WithMaxConcurrentTasks(n int) RegisterOption {
	return func(a *Agent) { a.MaxConcurrentTasks = n }
}

// WithCapabilities replaces the role's default capability list.
func WithCapabilities(caps ...string) RegisterOption {
	return func(a *Agent) { a.Capabilities = caps }
}

// WithWorkflows replaces the role's default workflow list.
func WithWorkflows(workflows ...string) RegisterOption {
	return func(a *Agent) { a.Workflows = workflows }
}

// WithMetadata attaches arbitrary JSON-shaped metadata to the agent record.
func WithMetadata(m map[string]any) RegisterOption {
	return func(a *Agent) { a.Metadata = m }
}

// Register creates an agent record in STARTING state and adds it to the
// active index. Returns false when the id is already registered.
func (r *Registry) Register(id, role string, opts ...RegisterOption) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store.Get(agentKey(id), nil) != nil {
		r.logger.Warn("duplicate agent registration rejected", "agent_id", id)
		return false
	}

	cfg := r.roles[role]
	now := time.Now().UTC()
	agent := &Agent{
		ID:                 id,
		Role:               role,
		Capabilities:       append([]string{}, cfg.Capabilities...),
		Workflows:          append([]string{}, cfg.Workflows...),
		Status:             StatusStarting,
		CurrentTasks:       []*Task{},
		RegisteredAt:       now,
		LastHeartbeat:      now,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		Metadata:           map[string]any{},
	}
	for _, opt := range opts {
		opt(agent)
	}
	if agent.MaxConcurrentTasks <= 0 {
		agent.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}

	if !r.saveAgent(agent) {
		return false
	}
	r.store.AppendToList("system.active_agents", id)
	r.logger.Info("agent registered", "agent_id", id, "role", role,
		"max_concurrent_tasks", agent.MaxConcurrentTasks)
	return true
}

// Deregister removes the agent record and its index entry. Tasks still held
// by the agent are dropped with it. Returns false when the id is unknown.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.store.Delete(agentKey(id)) {
		return false
	}
	r.store.RemoveFromList("system.active_agents", id)
	r.logger.Info("agent deregistered", "agent_id", id)
	return true
}

// UpdateStatus sets the agent's lifecycle status. Returns false when the id
// is unknown.
func (r *Registry) UpdateStatus(id string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.loadAgent(id)
	if !ok {
		return false
	}
	agent.Status = status
	return r.saveAgent(agent)
}

// Heartbeat refreshes the agent's liveness timestamp.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.loadAgent(id)
	if !ok {
		return false
	}
	agent.LastHeartbeat = time.Now().UTC()
	return r.saveAgent(agent)
}

// AssignTask hands ownership of the task to the agent. This is the only
// place the concurrent task limit is enforced: a full agent rejects the
// assignment and the caller re-routes or queues. Assignment flips the agent
// to BUSY.
func (r *Registry) AssignTask(id string, task *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.loadAgent(id)
	if !ok {
		r.logger.Warn("task assignment to unknown agent", "agent_id", id, "task_id", task.ID)
		return false
	}
	if !agent.HasCapacity() {
		r.logger.Warn("task assignment rejected, agent at capacity",
			"agent_id", id,
			"task_id", task.ID,
			"current_tasks", len(agent.CurrentTasks),
			"max_concurrent_tasks", agent.MaxConcurrentTasks)
		return false
	}

	if task.Status == "" {
		task.Status = TaskPending
	}
	if task.AssignedAt.IsZero() {
		task.AssignedAt = time.Now().UTC()
	}
	agent.CurrentTasks = append(agent.CurrentTasks, task)
	agent.Status = StatusBusy
	if !r.saveAgent(agent) {
		return false
	}
	r.logger.Info("task assigned", "agent_id", id, "task_id", task.ID, "workflow", task.Workflow)
	return true
}

// StartTask moves a pending task to in_progress and stamps its start time.
func (r *Registry) StartTask(id, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.loadAgent(id)
	if !ok {
		return false
	}
	task := agent.taskByID(taskID)
	if task == nil || task.Status != TaskPending {
		return false
	}
	now := time.Now().UTC()
	task.Status = TaskInProgress
	task.StartedAt = &now
	return r.saveAgent(agent)
}

// CompleteTask removes the task from the agent, bumps the completion
// counter, appends the task id to the completed ledger, and returns the
// agent to IDLE when it holds no more tasks.
func (r *Registry) CompleteTask(id, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.loadAgent(id)
	if !ok {
		return false
	}
	if !removeTask(agent, taskID) {
		return false
	}
	agent.CompletedTasks++
	if len(agent.CurrentTasks) == 0 && agent.Status == StatusBusy {
		agent.Status = StatusIdle
	}
	if !r.saveAgent(agent) {
		return false
	}

	r.store.AppendToList("workflows.completed", taskID)
	r.store.Increment("metrics.total_tasks_completed", 1)
	r.logger.Info("task completed", "agent_id", id, "task_id", taskID)
	return true
}

// FailTask removes the task from the agent, bumps the failure counter, and
// appends a failure record to the failed ledger.
func (r *Registry) FailTask(id, taskID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.loadAgent(id)
	if !ok {
		return false
	}
	if !removeTask(agent, taskID) {
		return false
	}
	agent.FailedTasks++
	if len(agent.CurrentTasks) == 0 && agent.Status == StatusBusy {
		agent.Status = StatusIdle
	}
	if !r.saveAgent(agent) {
		return false
	}

	r.store.AppendToList("workflows.failed", map[string]any{
		"task_id":   taskID,
		"error":     reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	r.store.Increment("metrics.total_failures", 1)
	r.logger.Warn("task failed", "agent_id", id, "task_id", taskID, "error", reason)
	return true
}

// Agent returns a copy of the agent record, or nil when unknown.
func (r *Registry) Agent(id string) *Agent {
	agent, ok := r.loadAgent(id)
	if !ok {
		return nil
	}
	return agent
}

// AgentStatus returns a status detail map for the agent: current load,
// lifetime counters, and heartbeat freshness. Returns nil when unknown.
func (r *Registry) AgentStatus(id string) map[string]any {
	agent, ok := r.loadAgent(id)
	if !ok {
		return nil
	}
	taskIDs := make([]string, 0, len(agent.CurrentTasks))
	for _, t := range agent.CurrentTasks {
		taskIDs = append(taskIDs, t.ID)
	}
	return map[string]any{
		"agent_id":        agent.ID,
		"role":            agent.Role,
		"status":          string(agent.Status),
		"current_tasks":   taskIDs,
		"load":            fmt.Sprintf("%d/%d", len(agent.CurrentTasks), agent.MaxConcurrentTasks),
		"completed_tasks": agent.CompletedTasks,
		"failed_tasks":    agent.FailedTasks,
		"last_heartbeat":  agent.LastHeartbeat.Format(time.RFC3339),
	}
}

// Agents returns every registered agent, ordered by id.
func (r *Registry) Agents() []*Agent {
	ids := r.agentIDs()
	agents := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		if agent, ok := r.loadAgent(id); ok {
			agents = append(agents, agent)
		}
	}
	return agents
}

// AvailableAgents returns agents with spare capacity that are IDLE or BUSY,
// optionally filtered by capability. Results are ordered by id so routing
// decisions are deterministic.
func (r *Registry) AvailableAgents(capability string) []*Agent {
	var available []*Agent
	for _, agent := range r.Agents() {
		if agent.Status != StatusIdle && agent.Status != StatusBusy {
			continue
		}
		if !agent.HasCapacity() {
			continue
		}
		if capability != "" && !agent.HasCapability(capability) {
			continue
		}
		available = append(available, agent)
	}
	return available
}

// AgentsByRole returns all agents registered under role, ordered by id.
func (r *Registry) AgentsByRole(role string) []*Agent {
	var out []*Agent
	for _, agent := range r.Agents() {
		if agent.Role == role {
			out = append(out, agent)
		}
	}
	return out
}

// AgentsByCapability returns all agents advertising the capability, ordered
// by id.
func (r *Registry) AgentsByCapability(capability string) []*Agent {
	var out []*Agent
	for _, agent := range r.Agents() {
		if agent.HasCapability(capability) {
			out = append(out, agent)
		}
	}
	return out
}

// Stats summarizes the live agent population.
func (r *Registry) Stats() SystemStats {
	stats := SystemStats{ByStatus: make(map[Status]int)}
	for _, agent := range r.Agents() {
		stats.TotalAgents++
		stats.ActiveTasks += len(agent.CurrentTasks)
		stats.CompletedTasks += agent.CompletedTasks
		stats.FailedTasks += agent.FailedTasks
		stats.ByStatus[agent.Status]++
	}
	return stats
}

// agentIDs reads the active index, dropping entries that are not strings.
func (r *Registry) agentIDs() []string {
	raw, _ := r.store.Get("system.active_agents", []any{}).([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// loadAgent reads and decodes the agent record at "agents.<id>".
func (r *Registry) loadAgent(id string) (*Agent, bool) {
	raw, ok := r.store.Get(agentKey(id), nil).(map[string]any)
	if !ok {
		return nil, false
	}
	agent, err := AgentFromMap(raw)
	if err != nil {
		r.logger.Error("corrupt agent record", "agent_id", id, "error", err)
		return nil, false
	}
	return agent, true
}

// saveAgent encodes and writes the agent record back to the store.
func (r *Registry) saveAgent(agent *Agent) bool {
	m, err := agent.ToMap()
	if err != nil {
		r.logger.Error("encoding agent record",
			"agent_id", agent.ID,
			"error", fmt.Errorf("saving agent: %w", err))
		return false
	}
	return r.store.Set(agentKey(agent.ID), m)
}

// removeTask drops the task with taskID from the agent's current list.
// Returns false when the agent does not hold that task.
func removeTask(agent *Agent, taskID string) bool {
	for i, t := range agent.CurrentTasks {
		if t.ID == taskID {
			agent.CurrentTasks = append(agent.CurrentTasks[:i], agent.CurrentTasks[i+1:]...)
			return true
		}
	}
	return false
}
