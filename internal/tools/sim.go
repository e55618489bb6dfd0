// ABOUTME: Simulated connector implementations with no real side effects.
// ABOUTME: Failure toggles let tests exercise the agents' error paths.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SimGit records branches and commits in memory.
type SimGit struct {
	Remote string
	logger *slog.Logger

	mu       sync.Mutex
	branches []string
	commits  []string
}

func NewSimGit(remote string, logger *slog.Logger) *SimGit {
	return &SimGit{Remote: remote, logger: toolLogger(logger, "git")}
}

func (g *SimGit) CreateBranch(ctx context.Context, name string) Result {
	g.mu.Lock()
	g.branches = append(g.branches, name)
	g.mu.Unlock()
	g.logger.Info("branch created", "branch", name)
	return Result{Success: true, Detail: "created branch " + name,
		Data: map[string]any{"branch": name}}
}

func (g *SimGit) Commit(ctx context.Context, message string) Result {
	g.mu.Lock()
	g.commits = append(g.commits, message)
	n := len(g.commits)
	g.mu.Unlock()
	return Result{Success: true, Detail: "committed: " + message,
		Data: map[string]any{"commit_count": n}}
}

func (g *SimGit) Push(ctx context.Context, branch string) Result {
	return Result{Success: true,
		Detail: fmt.Sprintf("pushed %s to %s", branch, g.Remote)}
}

// Branches returns the branches created so far.
func (g *SimGit) Branches() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.branches...)
}

// SimBuilder reports builds and test runs as successful unless a failure
// toggle is set.
type SimBuilder struct {
	FailBuild bool
	FailTests bool
	logger    *slog.Logger
}

func NewSimBuilder(logger *slog.Logger) *SimBuilder {
	return &SimBuilder{logger: toolLogger(logger, "builder")}
}

func (b *SimBuilder) Build(ctx context.Context, target string) Result {
	if b.FailBuild {
		return Result{Detail: "build failed for " + target,
			Data: map[string]any{"target": target}}
	}
	b.logger.Info("build succeeded", "target", target)
	return Result{Success: true, Detail: "built " + target,
		Data: map[string]any{"target": target}}
}

func (b *SimBuilder) RunTests(ctx context.Context, suite string) Result {
	if b.FailTests {
		return Result{Detail: "test failures in " + suite,
			Data: map[string]any{"suite": suite, "failed": 3}}
	}
	return Result{Success: true, Detail: "all tests passed in " + suite,
		Data: map[string]any{"suite": suite, "failed": 0}}
}

// SimDeployer walks the deploy lifecycle in memory.
type SimDeployer struct {
	TargetURL       string
	FailDeploy      bool
	FailHealthCheck bool
	logger          *slog.Logger

	mu       sync.Mutex
	deployed map[string]bool
}

func NewSimDeployer(targetURL string, logger *slog.Logger) *SimDeployer {
	return &SimDeployer{
		TargetURL: targetURL,
		logger:    toolLogger(logger, "deployer"),
		deployed:  make(map[string]bool),
	}
}

func (d *SimDeployer) Deploy(ctx context.Context, target string) Result {
	if d.FailDeploy {
		return Result{Detail: "deploy of " + target + " failed"}
	}
	d.mu.Lock()
	d.deployed[target] = true
	d.mu.Unlock()
	d.logger.Info("deployed", "target", target, "url", d.TargetURL)
	return Result{Success: true, Detail: "deployed " + target,
		Data: map[string]any{"url": d.TargetURL}}
}

func (d *SimDeployer) HealthCheck(ctx context.Context, target string) Result {
	if d.FailHealthCheck {
		return Result{Detail: target + " unhealthy after deploy"}
	}
	d.mu.Lock()
	up := d.deployed[target]
	d.mu.Unlock()
	if !up {
		return Result{Detail: target + " is not deployed"}
	}
	return Result{Success: true, Detail: target + " healthy"}
}

func (d *SimDeployer) Rollback(ctx context.Context, target string) Result {
	d.mu.Lock()
	delete(d.deployed, target)
	d.mu.Unlock()
	d.logger.Warn("rolled back", "target", target)
	return Result{Success: true, Detail: "rolled back " + target}
}

// SimScraper fabricates a small payload for any URL.
type SimScraper struct {
	UserAgent string
	FailFetch bool
	logger    *slog.Logger
}

func NewSimScraper(userAgent string, logger *slog.Logger) *SimScraper {
	return &SimScraper{UserAgent: userAgent, logger: toolLogger(logger, "scraper")}
}

func (s *SimScraper) Scrape(ctx context.Context, url string) Result {
	if s.FailFetch {
		return Result{Detail: "fetch failed for " + url}
	}
	s.logger.Info("scraped", "url", url)
	return Result{Success: true, Detail: "scraped " + url,
		Data: map[string]any{
			"url":        url,
			"fetched_at": time.Now().UTC().Format(time.RFC3339),
			"records":    []any{map[string]any{"source": url, "ok": true}},
		}}
}

// SimMessenger collects sent messages in memory.
type SimMessenger struct {
	DefaultChannel string
	logger         *slog.Logger

	mu   sync.Mutex
	sent []string
}

func NewSimMessenger(defaultChannel string, logger *slog.Logger) *SimMessenger {
	return &SimMessenger{DefaultChannel: defaultChannel, logger: toolLogger(logger, "messenger")}
}

func (m *SimMessenger) Send(ctx context.Context, channel, text string) Result {
	if channel == "" {
		channel = m.DefaultChannel
	}
	m.mu.Lock()
	m.sent = append(m.sent, text)
	m.mu.Unlock()
	m.logger.Info("message sent", "channel", channel)
	return Result{Success: true, Detail: "sent to " + channel,
		Data: map[string]any{"channel": channel}}
}

// Sent returns every message posted so far.
func (m *SimMessenger) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.sent...)
}

// SimCalendar accepts any booking.
type SimCalendar struct {
	CalendarID string
	logger     *slog.Logger
}

func NewSimCalendar(calendarID string, logger *slog.Logger) *SimCalendar {
	return &SimCalendar{CalendarID: calendarID, logger: toolLogger(logger, "calendar")}
}

func (c *SimCalendar) Schedule(ctx context.Context, title string, at time.Time) Result {
	return Result{Success: true, Detail: "scheduled " + title,
		Data: map[string]any{
			"calendar_id": c.CalendarID,
			"starts_at":   at.UTC().Format(time.RFC3339),
		}}
}

// NewSimKit assembles a kit of simulated connectors from the config.
func NewSimKit(cfg *Config, logger *slog.Logger) *Kit {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Kit{
		Git:       NewSimGit(cfg.Git.Remote, logger),
		Builder:   NewSimBuilder(logger),
		Deployer:  NewSimDeployer(cfg.Deploy.DashboardURL, logger),
		Scraper:   NewSimScraper(cfg.Scraper.UserAgent, logger),
		Messenger: NewSimMessenger(cfg.Messenger.Channel, logger),
		Calendar:  NewSimCalendar(cfg.Calendar.CalendarID, logger),
	}
}

func toolLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "tools", "tool", name)
}
