// ABOUTME: Tester executor: unit, integration, and build verification runs.
// ABOUTME: Escalates failures to the coordinator instead of hiding them.

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
	"github.com/kinworks/swarm/internal/tools"
)

// Tester implements the run_tests workflow with the builder connector.
type Tester struct {
	agentID string
	store   contextstore.Store
	bus     bus.Bus
	kit     *tools.Kit
	logger  *slog.Logger
}

// NewTester builds the tester executor for the given agent id.
func NewTester(agentID string, store contextstore.Store, b bus.Bus, kit *tools.Kit, logger *slog.Logger) *Tester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tester{
		agentID: agentID,
		store:   store,
		bus:     b,
		kit:     kit,
		logger:  logger.With("component", "tester", "agent_id", agentID),
	}
}

// ExecuteTask runs the unit and integration suites and a build verify. The
// first failing stage escalates to the coordinator and fails the task; the
// remaining stages are skipped.
func (t *Tester) ExecuteTask(ctx context.Context, task *registry.Task) error {
	stages := []struct {
		name string
		run  func() tools.Result
	}{
		{"unit", func() tools.Result { return t.kit.Builder.RunTests(ctx, "unit") }},
		{"integration", func() tools.Result { return t.kit.Builder.RunTests(ctx, "integration") }},
		{"build_verify", func() tools.Result { return t.kit.Builder.Build(ctx, "dashboard") }},
	}

	for _, stage := range stages {
		res := stage.run()
		t.reportStage(task.ID, stage.name, res)
		if !res.Success {
			t.escalate(task.ID, stage.name, res.Detail)
			return fmt.Errorf("%s stage failed: %s", stage.name, res.Detail)
		}
	}

	t.store.Set("projects.dashboard.test_status", "passing")
	return nil
}

// HandleVerifyRequest is the REQUEST hook reaction: a developer asking for a
// branch check gets an immediate unit run and a status update back.
func (t *Tester) HandleVerifyRequest(msg *bus.Message) {
	if action, _ := msg.Payload["action"].(string); action != "verify_branch" {
		return
	}
	branch, _ := msg.Payload["branch"].(string)

	res := t.kit.Builder.RunTests(context.Background(), "unit")
	_, err := t.bus.Publish(t.agentID, msg.From, bus.TypeResponse, map[string]any{
		"branch":  branch,
		"passed":  res.Success,
		"detail":  res.Detail,
		"task_id": msg.Payload["task_id"],
	}, bus.PriorityNormal, false)
	if err != nil {
		t.logger.Error("replying to verify request", "branch", branch, "error", err)
	}
}

func (t *Tester) reportStage(taskID, stage string, res tools.Result) {
	_, err := t.bus.Publish(t.agentID, "coordinator", bus.TypeStatusUpdate, map[string]any{
		"task_id": taskID,
		"stage":   stage,
		"passed":  res.Success,
		"detail":  res.Detail,
	}, bus.PriorityLow, false)
	if err != nil {
		t.logger.Error("reporting stage", "stage", stage, "error", err)
	}
}

func (t *Tester) escalate(taskID, stage, detail string) {
	t.store.Set("projects.dashboard.test_status", "failing")
	_, err := t.bus.Publish(t.agentID, "coordinator", bus.TypeEscalation, map[string]any{
		"task_id": taskID,
		"stage":   stage,
		"detail":  detail,
	}, bus.PriorityUrgent, false)
	if err != nil {
		t.logger.Error("escalating failure", "stage", stage, "error", err)
	}
}
