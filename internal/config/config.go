// ABOUTME: Configuration loading and parsing for the swarm gateway.
// ABOUTME: YAML with environment variable expansion and duration parsing.

// Package config loads the gateway configuration. Every field has an
// embedded default so a zero-config start works; a YAML file overrides
// selectively. ${VAR_NAME} references are expanded from the environment
// before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kinworks/swarm/internal/registry"
)

// Config is the complete swarm-gateway configuration.
type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Logging     LoggingConfig         `yaml:"logging"`
	Store       StoreConfig           `yaml:"store"`
	Bus         BusConfig             `yaml:"bus"`
	Agents      AgentsConfig          `yaml:"agents"`
	Coordinator CoordinatorConfig     `yaml:"coordinator"`
	Workflows   WorkflowsConfig       `yaml:"workflows"`
	Tools       ToolsConfig           `yaml:"tools"`
	Roles       map[string]RoleConfig `yaml:"roles"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects and locates the context store backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // "file" or "sqlite"
	FilePath   string `yaml:"file_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// BusConfig selects and locates the message bus backend.
type BusConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

// AgentsConfig holds agent timing configuration. Durations are written as
// strings in YAML ("30s", "2m") and parsed after unmarshaling.
type AgentsConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

// CoordinatorConfig holds the coordinator's periodic duty cadence.
type CoordinatorConfig struct {
	TickInterval time.Duration `yaml:"-"`

	TickIntervalRaw string `yaml:"tick_interval"`
}

// WorkflowsConfig locates the workflow definition library.
type WorkflowsConfig struct {
	Dir string `yaml:"dir"`
}

// ToolsConfig locates the optional connector tools TOML file.
type ToolsConfig struct {
	ConfigPath string `yaml:"config_path"`
}

// RoleConfig declares the defaults for one agent role.
type RoleConfig struct {
	Capabilities       []string `yaml:"capabilities"`
	Workflows          []string `yaml:"workflows"`
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
}

// Default returns the embedded configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{HTTPAddr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Backend: "file", FilePath: "data/context.json", SQLitePath: "data/context.db"},
		Bus:     BusConfig{Backend: "memory", SQLitePath: "data/bus.db"},
		Agents: AgentsConfig{
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  90 * time.Second,
		},
		Coordinator: CoordinatorConfig{TickInterval: 30 * time.Second},
		Workflows:   WorkflowsConfig{Dir: "workflows"},
	}
}

// Load reads a configuration file, expands ${VAR_NAME} references, parses
// duration strings, and validates the result. Defaults fill anything the
// file leaves out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.HeartbeatIntervalRaw != "" {
		cfg.Agents.HeartbeatInterval, err = time.ParseDuration(cfg.Agents.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Agents.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Agents.HeartbeatTimeoutRaw != "" {
		cfg.Agents.HeartbeatTimeout, err = time.ParseDuration(cfg.Agents.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Agents.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Coordinator.TickIntervalRaw != "" {
		cfg.Coordinator.TickInterval, err = time.ParseDuration(cfg.Coordinator.TickIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing tick_interval %q: %w", cfg.Coordinator.TickIntervalRaw, err)
		}
	}

	return nil
}

// Validate checks that required fields are present and selections are known.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file":
		if c.Store.FilePath == "" {
			return fmt.Errorf("store.file_path is required for the file backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be \"file\" or \"sqlite\", got %q", c.Store.Backend)
	}

	switch c.Bus.Backend {
	case "memory":
	case "sqlite":
		if c.Bus.SQLitePath == "" {
			return fmt.Errorf("bus.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("bus.backend must be \"memory\" or \"sqlite\", got %q", c.Bus.Backend)
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Agents.HeartbeatInterval <= 0 {
		return fmt.Errorf("agents.heartbeat_interval must be positive")
	}
	if c.Agents.HeartbeatTimeout <= c.Agents.HeartbeatInterval {
		return fmt.Errorf("agents.heartbeat_timeout must exceed heartbeat_interval")
	}
	return nil
}

// RegistryRoles converts the configured role map into the registry's form.
// An empty map yields the built-in catalog.
func (c *Config) RegistryRoles() map[string]registry.RoleConfig {
	if len(c.Roles) == 0 {
		return registry.DefaultRoles()
	}
	roles := make(map[string]registry.RoleConfig, len(c.Roles))
	for name, rc := range c.Roles {
		roles[name] = registry.RoleConfig{
			Capabilities:       rc.Capabilities,
			Workflows:          rc.Workflows,
			MaxConcurrentTasks: rc.MaxConcurrentTasks,
		}
	}
	return roles
}
