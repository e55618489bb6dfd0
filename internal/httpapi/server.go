// ABOUTME: Thin JSON HTTP facade over the coordinator, registry, and store.
// ABOUTME: Endpoints map one-to-one onto core calls; no auth by design.

// Package httpapi exposes the swarm over HTTP for the admin CLI and the
// dashboard. Handlers translate JSON in and out and add nothing else.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/coordinator"
	"github.com/kinworks/swarm/internal/registry"
)

// API serves the swarm's HTTP endpoints.
type API struct {
	store       contextstore.Store
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	logger      *slog.Logger
	started     time.Time
}

// New builds the API over the shared collaborators. Pass nil for the
// default logger.
func New(store contextstore.Store, reg *registry.Registry, coord *coordinator.Coordinator, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:       store,
		registry:    reg,
		coordinator: coord,
		logger:      logger.With("component", "httpapi"),
		started:     time.Now().UTC(),
	}
}

// Handler returns the route table as an http.Handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", a.handleSubmitTask)
	mux.HandleFunc("GET /agents", a.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", a.handleGetAgent)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /context/{path...}", a.handleContext)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	return mux
}

type submitTaskRequest struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type submitTaskResponse struct {
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status"`
}

func (a *API) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if a.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	taskID, assigned := a.coordinator.RouteIncomingTask(req.Description, bus.Priority(req.Priority))
	if !assigned {
		writeJSON(w, http.StatusAccepted, submitTaskResponse{Status: "queued"})
		return
	}
	writeJSON(w, http.StatusOK, submitTaskResponse{TaskID: taskID, Status: "assigned"})
}

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := a.registry.Agents()
	out := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agentSummary(agent))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent := a.registry.Agent(r.PathValue("id"))
	if agent == nil {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	m, err := agent.ToMap()
	if err != nil {
		a.logger.Error("encoding agent", "agent_id", agent.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "encoding agent")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_agents":     stats.TotalAgents,
		"active_tasks":     stats.ActiveTasks,
		"completed_tasks":  stats.CompletedTasks,
		"failed_tasks":     stats.FailedTasks,
		"agents_by_status": stats.ByStatus,
		"queued_tasks":     a.queueDepth(),
	})
}

func (a *API) queueDepth() int {
	if a.coordinator == nil {
		return 0
	}
	return a.coordinator.QueueDepth()
}

// handleContext reads a value by path. Slashes in the URL map to dots in
// the store path, so /context/system/active_agents reads
// "system.active_agents".
func (a *API) handleContext(w http.ResponseWriter, r *http.Request) {
	path := strings.ReplaceAll(strings.Trim(r.PathValue("path"), "/"), "/", ".")
	if path == "" {
		writeJSON(w, http.StatusOK, a.store.Snapshot())
		return
	}

	value := a.store.Get(path, nil)
	if value == nil {
		writeError(w, http.StatusNotFound, "path not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "value": value})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(a.started).Round(time.Second).String(),
	})
}

func agentSummary(agent *registry.Agent) map[string]any {
	return map[string]any{
		"agent_id":       agent.ID,
		"role":           agent.Role,
		"status":         agent.Status,
		"current_tasks":  len(agent.CurrentTasks),
		"max_concurrent": agent.MaxConcurrentTasks,
		"completed":      agent.CompletedTasks,
		"failed":         agent.FailedTasks,
		"last_heartbeat": agent.LastHeartbeat,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
