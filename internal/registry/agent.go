// ABOUTME: Agent and Task data model with status enums and map round-trips.
// ABOUTME: Agents serialize into the context tree as plain JSON-shaped maps.

package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the agent lifecycle state. Valid transitions: STARTING -> IDLE,
// IDLE <-> BUSY, any -> ERROR, any -> OFFLINE. Deregistration deletes the
// record instead of transitioning.
type Status string

const (
	StatusStarting Status = "starting"
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusOffline  Status = "offline"
)

// Agent roles recognized by the default configuration.
const (
	RoleCoordinator   = "coordinator"
	RoleDeveloper     = "developer_agent"
	RoleTester        = "tester_agent"
	RoleDeployer      = "deployer_agent"
	RoleDataProcessor = "data_processor"
)

// Task status values. The lifecycle is one-way:
// pending -> in_progress -> completed | failed.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task is one unit of routed work, owned exclusively by the agent it is
// assigned to. Ownership moves only through the registry's assign, complete
// and fail operations.
type Task struct {
	ID          string     `json:"task_id"`
	Workflow    string     `json:"workflow"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	AssignedAt  time.Time  `json:"assigned_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Agent is one worker unit in the swarm.
type Agent struct {
	ID                 string         `json:"agent_id"`
	Role               string         `json:"role"`
	Capabilities       []string       `json:"capabilities"`
	Workflows          []string       `json:"workflows"`
	Status             Status         `json:"status"`
	CurrentTasks       []*Task        `json:"current_tasks"`
	CompletedTasks     int            `json:"completed_tasks"`
	FailedTasks        int            `json:"failed_tasks"`
	RegisteredAt       time.Time      `json:"registered_at"`
	LastHeartbeat      time.Time      `json:"last_heartbeat"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks"`
	Metadata           map[string]any `json:"metadata"`
}

// HasCapacity reports whether the agent can accept another task.
func (a *Agent) HasCapacity() bool {
	return len(a.CurrentTasks) < a.MaxConcurrentTasks
}

// HasCapability reports whether the agent advertises the capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// taskByID returns the current task with the given id, or nil.
func (a *Agent) taskByID(taskID string) *Task {
	for _, t := range a.CurrentTasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// ToMap converts the agent to a JSON-shaped map for the context tree.
func (a *Agent) ToMap() (map[string]any, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding agent %s: %w", a.ID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding agent %s: %w", a.ID, err)
	}
	return m, nil
}

// AgentFromMap reconstructs an agent from its map form, reproducing every
// field including the status enum and nested task list.
func AgentFromMap(m map[string]any) (*Agent, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding agent map: %w", err)
	}
	var a Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding agent map: %w", err)
	}
	return &a, nil
}
