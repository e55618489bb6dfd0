// ABOUTME: TOML configuration for connector tools.
// ABOUTME: Loads endpoint and credential placeholders with ${VAR} expansion.

package tools

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds connector endpoints and credential placeholders. Credentials
// are referenced as ${VAR} in the file and resolved from the environment at
// load time, so secrets never live in the file itself.
type Config struct {
	Git       GitConfig       `toml:"git"`
	Deploy    DeployConfig    `toml:"deploy"`
	Scraper   ScraperConfig   `toml:"scraper"`
	Messenger MessengerConfig `toml:"messenger"`
	Calendar  CalendarConfig  `toml:"calendar"`
}

type GitConfig struct {
	Remote string `toml:"remote"`
	Token  string `toml:"token"`
}

type DeployConfig struct {
	DashboardURL   string `toml:"dashboard_url"`
	HealthEndpoint string `toml:"health_endpoint"`
}

type ScraperConfig struct {
	UserAgent string `toml:"user_agent"`
}

type MessengerConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Channel    string `toml:"channel"`
}

type CalendarConfig struct {
	CalendarID string `toml:"calendar_id"`
}

// DefaultConfig returns working defaults for the simulated connectors.
func DefaultConfig() *Config {
	return &Config{
		Git:       GitConfig{Remote: "origin"},
		Deploy:    DeployConfig{DashboardURL: "http://localhost:8050", HealthEndpoint: "/healthz"},
		Scraper:   ScraperConfig{UserAgent: "swarm-scraper/1.0"},
		Messenger: MessengerConfig{Channel: "#swarm-updates"},
		Calendar:  CalendarConfig{CalendarID: "primary"},
	}
}

// LoadConfig reads connector config from path, expanding ${VAR} environment
// references before decoding.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tools config: %w", err)
	}

	cfg := DefaultConfig()
	if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("parsing tools config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating tools config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(name)
	})
}

// Validate checks structural requirements on the loaded config.
func (c *Config) Validate() error {
	if c.Git.Remote == "" {
		return fmt.Errorf("git.remote is required")
	}
	if c.Deploy.DashboardURL == "" {
		return fmt.Errorf("deploy.dashboard_url is required")
	}
	if !strings.HasPrefix(c.Deploy.HealthEndpoint, "/") {
		return fmt.Errorf("deploy.health_endpoint must start with /")
	}
	return nil
}
