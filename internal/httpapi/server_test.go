// ABOUTME: Tests for the HTTP facade using httptest against live components.
// ABOUTME: Covers task submission, agent reads, stats, and context paths.

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/coordinator"
	"github.com/kinworks/swarm/internal/registry"
)

type fixture struct {
	api   *API
	store contextstore.Store
	reg   *registry.Registry
	bus   *bus.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := contextstore.NewFileStore(filepath.Join(t.TempDir(), "context.json"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := bus.NewMemoryBus(nil)
	reg := registry.New(store, nil, nil)
	coord := coordinator.New(store, b, reg, nil)
	require.NoError(t, coord.Start())

	return &fixture{api: New(store, reg, coord, nil), store: store, reg: reg, bus: b}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSubmitTask_AssignedWhenAgentAvailable(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.reg.Register("dev-1", registry.RoleDeveloper))
	require.True(t, f.reg.UpdateStatus("dev-1", registry.StatusIdle))

	rec := f.do(t, http.MethodPost, "/tasks", `{"description":"fix the crash","priority":"high"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "assigned", body["status"])
	assert.NotEmpty(t, body["task_id"])
}

func TestSubmitTask_QueuedWhenNoAgent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/tasks", `{"description":"fix the crash"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decode[map[string]any](t, rec)["status"])
}

func TestSubmitTask_BadRequests(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/tasks", "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/tasks", `{"description":"  "}`).Code)
}

func TestSubmitTask_UninitializedCoordinator(t *testing.T) {
	f := newFixture(t)
	api := New(f.store, f.reg, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"description":"x"}`))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAndGetAgents(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.reg.Register("dev-1", registry.RoleDeveloper))

	rec := f.do(t, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decode[[]map[string]any](t, rec)
	require.Len(t, agents, 2, "coordinator plus dev-1")

	rec = f.do(t, http.MethodGet, "/agents/dev-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	agent := decode[map[string]any](t, rec)
	assert.Equal(t, "dev-1", agent["agent_id"])
	assert.Equal(t, string(registry.RoleDeveloper), agent["role"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/agents/ghost", "").Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.reg.Register("dev-1", registry.RoleDeveloper))

	rec := f.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, stats["total_agents"])
	assert.EqualValues(t, 0, stats["queued_tasks"])
}

func TestContextPaths(t *testing.T) {
	f := newFixture(t)
	f.store.Set("projects.dashboard.deployment_status", "deployed")

	rec := f.do(t, http.MethodGet, "/context/projects/dashboard/deployment_status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "projects.dashboard.deployment_status", body["path"])
	assert.Equal(t, "deployed", body["value"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/context/no/such/path", "").Code)

	// Bare /context returns the whole snapshot.
	rec = f.do(t, http.MethodGet, "/context/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[map[string]any](t, rec)
	assert.Contains(t, snapshot, "system")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}
