// ABOUTME: Entry point for the swarm-gateway orchestration server.
// ABOUTME: Hosts the coordinator, the worker agents, and the HTTP facade.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/kinworks/swarm/internal/agent"
	"github.com/kinworks/swarm/internal/bus"
	"github.com/kinworks/swarm/internal/config"
	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/coordinator"
	"github.com/kinworks/swarm/internal/httpapi"
	"github.com/kinworks/swarm/internal/registry"
	"github.com/kinworks/swarm/internal/tools"
	"github.com/kinworks/swarm/internal/workflow"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _____      ____ _ _ __ _ __ ___
/ __\ \ /\ / / _' | '__| '_ ' _ \
\__ \\ V  V / (_| | |  | | | | | |
|___/ \_/\_/ \__,_|_|  |_| |_| |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: SWARM_CONFIG env var > XDG_CONFIG_HOME/swarm/gateway.yaml >
// ~/.config/swarm/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SWARM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "swarm", "gateway.yaml")
}

// loadConfig reads the config file, falling back to the embedded defaults
// when no file exists so a bare start still works.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: swarm-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the orchestration server")
		fmt.Println("  health               Check server health")
		fmt.Println("  agents               List registered agents")
		fmt.Println("  submit <description> Submit a task for routing")
		fmt.Println("  stats                Show system statistics")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "submit":
		err = runSubmit(ctx, os.Args[2:])
	case "stats":
		err = runStats(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", cfgPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:   %s\n", cfg.Store.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Bus:     %s\n", cfg.Bus.Backend)
	fmt.Println()

	logger.Info("starting swarm-gateway",
		"config", cfgPath,
		"http_addr", cfg.Server.HTTPAddr,
		"store_backend", cfg.Store.Backend,
		"bus_backend", cfg.Bus.Backend,
	)

	// Shared collaborators.
	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening context store: %w", err)
	}
	defer store.Close()

	msgBus, err := openBus(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening message bus: %w", err)
	}
	defer msgBus.Close()

	reg := registry.New(store, cfg.RegistryRoles(), logger)
	kit := openToolKit(cfg, logger)

	library := workflow.NewLibrary(cfg.Workflows.Dir, logger)
	if names, err := library.List(""); err == nil {
		logger.Info("workflow library loaded", "dir", cfg.Workflows.Dir, "workflows", len(names))
	} else {
		logger.Warn("workflow library unavailable", "dir", cfg.Workflows.Dir, "error", err)
	}

	coord := coordinator.New(store, msgBus, reg, logger)
	if err := coord.Start(); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer coord.Shutdown()

	runtimes, err := startAgents(cfg, store, msgBus, reg, kit, logger)
	if err != nil {
		return fmt.Errorf("starting agents: %w", err)
	}
	defer func() {
		for _, r := range runtimes {
			r.Shutdown()
		}
	}()

	api := httpapi.New(store, reg, coord, logger)
	server := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: api.Handler()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		coord.Run(gctx, cfg.Coordinator.TickInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

const httpShutdownTimeout = 10 * time.Second

// openStore builds the configured context store backend.
func openStore(cfg *config.Config, logger *slog.Logger) (contextstore.Store, error) {
	if cfg.Store.Backend == "sqlite" {
		return contextstore.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	}
	return contextstore.NewFileStore(cfg.Store.FilePath, logger)
}

// openBus builds the configured message bus backend.
func openBus(cfg *config.Config, logger *slog.Logger) (bus.Bus, error) {
	if cfg.Bus.Backend == "sqlite" {
		return bus.NewSQLiteBus(cfg.Bus.SQLitePath, logger)
	}
	return bus.NewMemoryBus(logger), nil
}

// openToolKit loads the connector config when one is given, falling back to
// the simulated defaults.
func openToolKit(cfg *config.Config, logger *slog.Logger) *tools.Kit {
	if cfg.Tools.ConfigPath == "" {
		return tools.NewSimKit(nil, logger)
	}
	tc, err := tools.LoadConfig(cfg.Tools.ConfigPath)
	if err != nil {
		logger.Warn("tools config unusable, using defaults",
			"path", cfg.Tools.ConfigPath, "error", err)
		return tools.NewSimKit(nil, logger)
	}
	return tools.NewSimKit(tc, logger)
}

// startAgents brings up the default worker set, one agent per role. A
// startup failure tears down what already started.
func startAgents(cfg *config.Config, store contextstore.Store, msgBus bus.Bus, reg *registry.Registry, kit *tools.Kit, logger *slog.Logger) ([]*agent.Runtime, error) {
	heartbeat := agent.WithHeartbeatInterval(cfg.Agents.HeartbeatInterval)

	tester := agent.NewTester("tester-1", store, msgBus, kit, logger)

	runtimes := []*agent.Runtime{
		agent.NewRuntime("developer-1", registry.RoleDeveloper, store, msgBus, reg,
			agent.NewDeveloper("developer-1", store, msgBus, reg, kit, logger), logger, heartbeat),
		agent.NewRuntime("tester-1", registry.RoleTester, store, msgBus, reg,
			tester, logger, heartbeat,
			agent.WithRequestHook(tester.HandleVerifyRequest)),
		agent.NewRuntime("deployer-1", registry.RoleDeployer, store, msgBus, reg,
			agent.NewDeployer(store, kit, logger), logger, heartbeat),
		agent.NewRuntime("dataproc-1", registry.RoleDataProcessor, store, msgBus, reg,
			agent.NewDataProcessor(store, kit, logger), logger, heartbeat),
	}

	for i, r := range runtimes {
		if err := r.Start(); err != nil {
			for _, started := range runtimes[:i] {
				started.Shutdown()
			}
			return nil, err
		}
	}
	return runtimes, nil
}

// baseURL turns a listen address into something a client can dial.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// getJSON fetches a JSON document from the running gateway.
func getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := getJSON(ctx, baseURL(cfg.Server.HTTPAddr)+"/healthz"); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	color.Green("healthy")
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	body, err := getJSON(ctx, baseURL(cfg.Server.HTTPAddr)+"/agents")
	if err != nil {
		return err
	}

	var agents []map[string]any
	if err := json.Unmarshal(body, &agents); err != nil {
		return fmt.Errorf("decoding agents: %w", err)
	}

	for _, a := range agents {
		status, _ := a["status"].(string)
		printStatus(status)
		fmt.Printf(" %-14v %-18v tasks=%v/%v done=%v failed=%v\n",
			a["agent_id"], a["role"], a["current_tasks"], a["max_concurrent"],
			a["completed"], a["failed"])
	}
	return nil
}

func runSubmit(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: swarm-gateway submit <description> [priority]")
	}
	description := args[0]
	priority := "normal"
	if len(args) > 1 {
		priority = args[1]
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"description": description,
		"priority":    priority,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL(cfg.Server.HTTPAddr)+"/tasks", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting task: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		color.Green("assigned: %v", result["task_id"])
	case http.StatusAccepted:
		color.Yellow("queued: no agent available yet")
	default:
		return fmt.Errorf("submit failed: %v", result["error"])
	}
	return nil
}

func runStats(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	body, err := getJSON(ctx, baseURL(cfg.Server.HTTPAddr)+"/stats")
	if err != nil {
		return err
	}

	var stats map[string]any
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("decoding stats: %w", err)
	}

	fmt.Printf("agents:    %v\n", stats["total_agents"])
	fmt.Printf("active:    %v\n", stats["active_tasks"])
	fmt.Printf("queued:    %v\n", stats["queued_tasks"])
	fmt.Printf("completed: %v\n", stats["completed_tasks"])
	fmt.Printf("failed:    %v\n", stats["failed_tasks"])
	return nil
}

// printStatus prints a colored status dot for an agent line.
func printStatus(status string) {
	switch status {
	case "idle":
		color.New(color.FgGreen).Print("●")
	case "busy":
		color.New(color.FgCyan).Print("●")
	case "starting":
		color.New(color.FgYellow).Print("●")
	case "error", "offline":
		color.New(color.FgRed).Print("●")
	default:
		fmt.Print("○")
	}
}
