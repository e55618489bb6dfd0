// ABOUTME: Keyword classification of natural-language task descriptions.
// ABOUTME: First matching rule wins; rule order is load-bearing.

package coordinator

import (
	"strings"

	"github.com/kinworks/swarm/internal/registry"
)

// Workflow names the classifier can produce.
const (
	WorkflowAddWatchFeature     = "add_watch_feature"
	WorkflowAddDashboardFeature = "add_dashboard_feature"
	WorkflowFixBug              = "fix_bug"
	WorkflowRunTests            = "run_tests"
	WorkflowDeployDashboard     = "deploy_dashboard"
	WorkflowBuildWatchApp       = "build_watch_app"
	WorkflowScrapeWebsite       = "scrape_website"
	WorkflowSendSlackMessage    = "send_slack_message"
)

// workflowInfo describes how a classified workflow gets routed.
type workflowInfo struct {
	Role  string
	Tools []string
}

// workflowCatalog maps each workflow to the role that handles it and the
// tools the assignment message lists.
var workflowCatalog = map[string]workflowInfo{
	WorkflowAddWatchFeature:     {Role: registry.RoleDeveloper, Tools: []string{"git", "builder"}},
	WorkflowAddDashboardFeature: {Role: registry.RoleDeveloper, Tools: []string{"git"}},
	WorkflowFixBug:              {Role: registry.RoleDeveloper, Tools: []string{"git"}},
	WorkflowRunTests:            {Role: registry.RoleTester, Tools: []string{"builder"}},
	WorkflowDeployDashboard:     {Role: registry.RoleDeployer, Tools: []string{"deployer"}},
	WorkflowBuildWatchApp:       {Role: registry.RoleDeployer, Tools: []string{"builder"}},
	WorkflowScrapeWebsite:       {Role: registry.RoleDataProcessor, Tools: []string{"scraper"}},
	WorkflowSendSlackMessage:    {Role: registry.RoleDataProcessor, Tools: []string{"messenger"}},
}

// rule pairs trigger keywords with a resolver; the resolver may look at the
// full description to pick between platform variants.
type rule struct {
	keywords []string
	resolve  func(lower string) string
}

// classifyRules is evaluated in order, first match wins. Feature-creation
// keywords come first, so "implement a fix for the crash" reads as feature
// work, matching how requests were historically phrased.
var classifyRules = []rule{
	{
		keywords: []string{"create", "add", "implement", "new feature"},
		resolve: func(lower string) string {
			if mentionsWatch(lower) {
				return WorkflowAddWatchFeature
			}
			return WorkflowAddDashboardFeature
		},
	},
	{
		keywords: []string{"fix", "bug", "error", "issue", "crash", "broken"},
		resolve:  func(string) string { return WorkflowFixBug },
	},
	{
		keywords: []string{"test", "verify", "validate"},
		resolve:  func(string) string { return WorkflowRunTests },
	},
	{
		keywords: []string{"deploy", "release", "publish", "ship"},
		resolve: func(lower string) string {
			if mentionsWatch(lower) {
				return WorkflowBuildWatchApp
			}
			return WorkflowDeployDashboard
		},
	},
	{
		keywords: []string{"scrape", "fetch", "download", "crawl"},
		resolve:  func(string) string { return WorkflowScrapeWebsite },
	},
	{
		keywords: []string{"post", "tweet", "announce", "social", "slack"},
		resolve:  func(string) string { return WorkflowSendSlackMessage },
	},
}

func mentionsWatch(lower string) bool {
	return strings.Contains(lower, "watch") ||
		strings.Contains(lower, "android") ||
		strings.Contains(lower, "wear")
}

// Classify maps a free-text task description to a workflow name. Unmatched
// descriptions fall through to dashboard feature work, the most common kind
// of request.
func Classify(description string) string {
	lower := strings.ToLower(description)
	for _, r := range classifyRules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.resolve(lower)
			}
		}
	}
	return WorkflowAddDashboardFeature
}
