// ABOUTME: Admin CLI for inspecting a running swarm gateway.
// ABOUTME: Talks to the HTTP facade; read-only except for task submission.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
)

const banner = `
 _____      ____ _ _ __ _ __ ___         __ _  __| |_ __ ___ (_)_ __
/ __\ \ /\ / / _' | '__| '_ ' _ \ _____ / _' |/ _' | '_ ' _ \| | '_ \
\__ \\ V  V / (_| | |  | | | | | |_____| (_| | (_| | | | | | | | | | |
|___/ \_/\_/ \__,_|_|  |_| |_| |_|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

// gatewayURL resolves the gateway base URL from the environment.
func gatewayURL() string {
	if url := os.Getenv("SWARM_GATEWAY_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://localhost:8080"
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base := gatewayURL()

	var err error
	switch os.Args[1] {
	case "status":
		err = cmdStatus(ctx, base)
	case "agents":
		err = cmdAgents(ctx, base)
	case "context":
		err = cmdContext(ctx, base, os.Args[2:])
	case "submit":
		err = cmdSubmit(ctx, base, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	color.New(color.FgCyan).Print(banner)
	fmt.Println()
	fmt.Println("Usage: swarm-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status               System health and task counters")
	fmt.Println("  agents               Registered agents and their load")
	fmt.Println("  context [path]       Read the shared context (dot path)")
	fmt.Println("  submit <description> Submit a task for routing")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SWARM_GATEWAY_URL    Gateway base URL (default http://localhost:8080)")
}

func get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, v)
}

func cmdStatus(ctx context.Context, base string) error {
	var health map[string]any
	if err := get(ctx, base+"/healthz", &health); err != nil {
		color.Red("✗ gateway unreachable")
		return err
	}
	color.Green("✓ gateway healthy")
	fmt.Printf("  uptime: %v\n\n", health["uptime"])

	var stats map[string]any
	if err := get(ctx, base+"/stats", &stats); err != nil {
		return err
	}

	fmt.Printf("agents:    %v\n", stats["total_agents"])
	fmt.Printf("active:    %v\n", stats["active_tasks"])
	fmt.Printf("queued:    %v\n", stats["queued_tasks"])
	fmt.Printf("completed: %v\n", stats["completed_tasks"])
	fmt.Printf("failed:    %v\n", stats["failed_tasks"])

	if byStatus, ok := stats["agents_by_status"].(map[string]any); ok && len(byStatus) > 0 {
		fmt.Println()
		keys := make([]string, 0, len(byStatus))
		for k := range byStatus {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-9s %v\n", k+":", byStatus[k])
		}
	}
	return nil
}

func cmdAgents(ctx context.Context, base string) error {
	var agents []map[string]any
	if err := get(ctx, base+"/agents", &agents); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  AGENT\tROLE\tSTATUS\tTASKS\tDONE\tFAILED")
	for _, a := range agents {
		status, _ := a["status"].(string)
		fmt.Fprintf(w, "%s %v\t%v\t%v\t%v/%v\t%v\t%v\n",
			statusDot(status), a["agent_id"], a["role"], status,
			a["current_tasks"], a["max_concurrent"], a["completed"], a["failed"])
	}
	return w.Flush()
}

func cmdContext(ctx context.Context, base string, args []string) error {
	url := base + "/context/"
	if len(args) > 0 {
		url += strings.ReplaceAll(args[0], ".", "/")
	}

	var value any
	if err := get(ctx, url, &value); err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting value: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}

func cmdSubmit(ctx context.Context, base string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: swarm-admin submit <description> [priority]")
	}
	priority := "normal"
	if len(args) > 1 {
		priority = args[1]
	}

	payload, _ := json.Marshal(map[string]string{
		"description": args[0],
		"priority":    priority,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tasks",
		strings.NewReader(string(payload)))
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

// statusDot colors a one-character agent status marker.
func statusDot(status string) string {
	switch status {
	case "idle":
		return color.GreenString("●")
	case "busy":
		return color.CyanString("●")
	case "starting":
		return color.YellowString("●")
	case "error", "offline":
		return color.RedString("●")
	default:
		return "○"
	}
}
