// ABOUTME: Developer executor: branch, implement, build, commit, push.
// ABOUTME: Hands finished feature work to a tester over the bus.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
	"github.com/kinworks/swarm/internal/tools"
)

// Developer implements feature and bug-fix workflows with the git and
// builder connectors.
type Developer struct {
	agentID string
	store   contextstore.Store
	bus     bus.Bus
	reg     *registry.Registry
	kit     *tools.Kit
	logger  *slog.Logger
}

// NewDeveloper builds the developer executor for the given agent id.
func NewDeveloper(agentID string, store contextstore.Store, b bus.Bus, reg *registry.Registry, kit *tools.Kit, logger *slog.Logger) *Developer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Developer{
		agentID: agentID,
		store:   store,
		bus:     b,
		reg:     reg,
		kit:     kit,
		logger:  logger.With("component", "developer", "agent_id", agentID),
	}
}

// ExecuteTask runs the development pipeline: branch, implement, build,
// commit, push, then notify a tester. Every step must succeed.
func (d *Developer) ExecuteTask(ctx context.Context, task *registry.Task) error {
	branch := branchName(task)

	if res := d.kit.Git.CreateBranch(ctx, branch); !res.Success {
		return fmt.Errorf("creating branch %s: %s", branch, res.Detail)
	}

	// "Implementation" is recorded against the owning project so the
	// dashboard can show what changed.
	d.store.AppendToList(projectKey(task)+".pending_features", map[string]any{
		"task_id":     task.ID,
		"description": task.Description,
		"branch":      branch,
	})

	if res := d.kit.Builder.Build(ctx, buildTarget(task)); !res.Success {
		return fmt.Errorf("build failed: %s", res.Detail)
	}
	if res := d.kit.Git.Commit(ctx, task.Description); !res.Success {
		return fmt.Errorf("commit failed: %s", res.Detail)
	}
	if res := d.kit.Git.Push(ctx, branch); !res.Success {
		return fmt.Errorf("push failed: %s", res.Detail)
	}

	d.notifyTester(task, branch)
	return nil
}

// notifyTester asks the first registered tester to verify the branch. No
// tester around is fine; verification happens whenever one joins and the
// coordinator routes a test task.
func (d *Developer) notifyTester(task *registry.Task, branch string) {
	testers := d.reg.AgentsByRole(registry.RoleTester)
	if len(testers) == 0 {
		d.logger.Info("no tester registered, skipping handoff", "task_id", task.ID)
		return
	}
	_, err := d.bus.Publish(d.agentID, testers[0].ID, bus.TypeRequest, map[string]any{
		"action":      "verify_branch",
		"branch":      branch,
		"task_id":     task.ID,
		"description": task.Description,
	}, bus.PriorityNormal, false)
	if err != nil {
		d.logger.Error("notifying tester", "task_id", task.ID, "error", err)
	}
}

// branchName derives a git branch from the task.
func branchName(task *registry.Task) string {
	kind := "feature"
	if task.Workflow == "fix_bug" {
		kind = "fix"
	}
	return kind + "/" + task.ID
}

// projectKey maps a workflow to the context subtree of the project it
// touches.
func projectKey(task *registry.Task) string {
	if strings.Contains(task.Workflow, "watch") {
		return "projects.watch-app"
	}
	return "projects.dashboard"
}

// buildTarget maps a workflow to the artifact the builder produces.
func buildTarget(task *registry.Task) string {
	if strings.Contains(task.Workflow, "watch") {
		return "watch-app"
	}
	return "dashboard"
}
