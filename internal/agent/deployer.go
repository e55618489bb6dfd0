// ABOUTME: Deployer executor: pre-check, build, deploy, verify, smoke test.
// ABOUTME: A failed verification rolls the deployment back before failing.

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
	"github.com/kinworks/swarm/internal/tools"
)

// Deployer implements the deploy and build workflows as a sequential
// pipeline over the builder and deployer connectors.
type Deployer struct {
	store  contextstore.Store
	kit    *tools.Kit
	logger *slog.Logger
}

// NewDeployer builds the deployer executor.
func NewDeployer(store contextstore.Store, kit *tools.Kit, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		store:  store,
		kit:    kit,
		logger: logger.With("component", "deployer"),
	}
}

// ExecuteTask runs the deployment pipeline. build_watch_app stops after the
// build (watch builds are distributed, not deployed); deploy workflows go
// through deploy, health check, and smoke test, rolling back if either
// verification fails.
func (d *Deployer) ExecuteTask(ctx context.Context, task *registry.Task) error {
	target := buildTarget(task)

	if res := d.kit.Builder.RunTests(ctx, "smoke"); !res.Success {
		return fmt.Errorf("pre-deploy check failed: %s", res.Detail)
	}
	if res := d.kit.Builder.Build(ctx, target); !res.Success {
		return fmt.Errorf("build failed: %s", res.Detail)
	}

	if task.Workflow == "build_watch_app" {
		d.store.Set("projects.watch-app.last_build", task.ID)
		return nil
	}

	if res := d.kit.Deployer.Deploy(ctx, target); !res.Success {
		return fmt.Errorf("deploy failed: %s", res.Detail)
	}

	if res := d.kit.Deployer.HealthCheck(ctx, target); !res.Success {
		d.rollback(ctx, target, task.ID)
		return fmt.Errorf("health check failed, rolled back: %s", res.Detail)
	}
	if res := d.kit.Builder.RunTests(ctx, "post-deploy-smoke"); !res.Success {
		d.rollback(ctx, target, task.ID)
		return fmt.Errorf("smoke test failed, rolled back: %s", res.Detail)
	}

	d.store.Set("projects.dashboard.deployment_status", "deployed")
	d.store.Set("projects.dashboard.last_deploy", task.ID)
	return nil
}

func (d *Deployer) rollback(ctx context.Context, target, taskID string) {
	d.logger.Warn("rolling back deployment", "target", target, "task_id", taskID)
	if res := d.kit.Deployer.Rollback(ctx, target); !res.Success {
		d.logger.Error("rollback failed", "target", target, "detail", res.Detail)
	}
	d.store.Set("projects.dashboard.deployment_status", "rolled_back")
}
