// ABOUTME: Connector tool interfaces the specialized agents invoke by name.
// ABOUTME: Every operation returns a Result; failures are data, not errors.

// Package tools defines the external connectors agents use to act on the
// world (version control, builds, deploys, scraping, messaging) and ships
// simulated implementations with no real side effects.
package tools

import (
	"context"
	"time"
)

// Result is the uniform outcome of a connector operation. Success=false is
// an expected domain outcome (a failing build, an unreachable site), not a
// transport fault.
type Result struct {
	Success bool           `json:"success"`
	Detail  string         `json:"detail"`
	Data    map[string]any `json:"data,omitempty"`
}

// Git manages source branches and commits.
type Git interface {
	CreateBranch(ctx context.Context, name string) Result
	Commit(ctx context.Context, message string) Result
	Push(ctx context.Context, branch string) Result
}

// Builder compiles targets and runs test suites.
type Builder interface {
	Build(ctx context.Context, target string) Result
	RunTests(ctx context.Context, suite string) Result
}

// Deployer ships builds and checks on them afterwards.
type Deployer interface {
	Deploy(ctx context.Context, target string) Result
	HealthCheck(ctx context.Context, target string) Result
	Rollback(ctx context.Context, target string) Result
}

// Scraper fetches structured data from external sites.
type Scraper interface {
	Scrape(ctx context.Context, url string) Result
}

// Messenger posts notifications to external channels.
type Messenger interface {
	Send(ctx context.Context, channel, text string) Result
}

// Calendar books follow-up events.
type Calendar interface {
	Schedule(ctx context.Context, title string, at time.Time) Result
}

// Kit bundles one connector of each kind for injection into agents.
type Kit struct {
	Git       Git
	Builder   Builder
	Deployer  Deployer
	Scraper   Scraper
	Messenger Messenger
	Calendar  Calendar
}
