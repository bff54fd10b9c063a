// Package config defines the taskforce daemon configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAssignerAPIKey supplies assigner.api_key when the file leaves it empty.
const EnvAssignerAPIKey = "TASKFORCE_ASSIGNER_API_KEY"

// Config is the top-level taskforce configuration.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Auth         AuthConfig         `json:"auth" yaml:"auth"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Assigner     AssignerConfig     `json:"assigner" yaml:"assigner"`
	Agents       []AgentConfig      `json:"agents" yaml:"agents"`
	Teams        []TeamConfig       `json:"teams" yaml:"teams"`
	DataDir      string             `json:"data_dir" yaml:"data_dir"`
	HistoryDB    string             `json:"history_db" yaml:"history_db"` // relative to data_dir; empty disables the archive
	LogLevel     string             `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string        `json:"admin_user" yaml:"admin_user"`
	AdminPass string        `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// OrchestratorConfig bounds the scheduler.
type OrchestratorConfig struct {
	MaxConcurrentTasks int           `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	MaxHistory         int           `json:"max_history" yaml:"max_history"`
	EnforceTimeouts    bool          `json:"enforce_timeouts" yaml:"enforce_timeouts"`
	DefaultTimeout     time.Duration `json:"default_timeout" yaml:"default_timeout"`
	AssignTimeout      time.Duration `json:"assign_timeout" yaml:"assign_timeout"`
}

// AssignerConfig selects the AI provider used to recommend agents.
type AssignerConfig struct {
	Provider  string `json:"provider" yaml:"provider"` // "none", "mock", "anthropic", "openai"
	Model     string `json:"model,omitempty" yaml:"model"`
	APIKey    string `json:"-" yaml:"api_key"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// Enabled reports whether an AI assigner is configured.
func (a AssignerConfig) Enabled() bool {
	return a.Provider != "" && a.Provider != "none"
}

// AgentConfig declares a command agent: tools that run executables and
// skills that route tasks to those tools.
type AgentConfig struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Tools       []ToolConfig  `json:"tools" yaml:"tools"`
	Skills      []SkillConfig `json:"skills" yaml:"skills"`
}

// ToolConfig declares a tool that runs a fixed executable.
type ToolConfig struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Command     string        `json:"command" yaml:"command"`
	Args        []string      `json:"args,omitempty" yaml:"args"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// SkillConfig declares a skill that invokes Tool for matching tasks.
// A task matches when its type is in Types or its description contains one
// of Keywords. With neither set, tasks of the skill's category match.
type SkillConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Category    string   `json:"category" yaml:"category"`
	Proficiency string   `json:"proficiency,omitempty" yaml:"proficiency"`
	Types       []string `json:"types,omitempty" yaml:"types"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords"`
	Tool        string   `json:"tool" yaml:"tool"`
}

// TeamConfig groups configured agents into a team.
type TeamConfig struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Leader      string   `json:"leader,omitempty" yaml:"leader"`
	Members     []string `json:"members" yaml:"members"`
	UseAssigner bool     `json:"use_assigner,omitempty" yaml:"use_assigner"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks: 5,
			MaxHistory:         100,
			EnforceTimeouts:    true,
			DefaultTimeout:     5 * time.Minute,
			AssignTimeout:      10 * time.Second,
		},
		Assigner: AssignerConfig{
			Provider: "none",
		},
		DataDir:   "./data",
		HistoryDB: "results.db",
		LogLevel:  "info",
		Agents: []AgentConfig{
			{
				ID:          "diagnostics",
				Name:        "Diagnostics",
				Description: "Reports load and disk usage",
				Tools: []ToolConfig{
					{Name: "uptime", Description: "System uptime and load", Command: "uptime", Timeout: 10 * time.Second},
					{Name: "disk_usage", Description: "Filesystem usage", Command: "df", Args: []string{"-h"}, Timeout: 30 * time.Second},
				},
				Skills: []SkillConfig{
					{Name: "health-check", Category: "diagnostics", Proficiency: "expert", Tool: "uptime"},
					{Name: "disk-monitor", Category: "monitoring", Proficiency: "advanced", Tool: "disk_usage"},
				},
			},
			{
				ID:          "processes",
				Name:        "Process Inspector",
				Description: "Lists running processes",
				Tools: []ToolConfig{
					{Name: "process_list", Description: "List processes", Command: "ps", Args: []string{"aux"}, Timeout: 30 * time.Second},
				},
				Skills: []SkillConfig{
					{Name: "process-analysis", Category: "analysis", Proficiency: "intermediate", Keywords: []string{"process"}, Tool: "process_list"},
				},
			},
		},
		Teams: []TeamConfig{
			{ID: "default", Name: "Default", Members: []string{"diagnostics", "processes"}},
		},
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	// The default team only makes sense with the default agents.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		_, hasAgents := raw["agents"]
		_, hasTeams := raw["teams"]
		if hasAgents && !hasTeams {
			cfg.Teams = nil
		}
	}
	if cfg.Assigner.APIKey == "" {
		cfg.Assigner.APIKey = os.Getenv(EnvAssignerAPIKey)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	o := c.Orchestrator
	if o.MaxConcurrentTasks <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_concurrent_tasks must be positive, got %d", o.MaxConcurrentTasks))
	}
	if o.MaxHistory <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_history must be positive, got %d", o.MaxHistory))
	}
	if o.DefaultTimeout < 0 || o.AssignTimeout < 0 {
		errs = append(errs, errors.New("orchestrator timeouts must not be negative"))
	}
	switch c.Assigner.Provider {
	case "", "none", "mock", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("assigner.provider %q is not one of none, mock, anthropic, openai", c.Assigner.Provider))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	agents := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		if agents[a.ID] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID))
		}
		agents[a.ID] = true
	}

	teams := make(map[string]bool, len(c.Teams))
	for i, t := range c.Teams {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("teams[%d]: id is required", i))
		} else if teams[t.ID] {
			errs = append(errs, fmt.Errorf("teams[%d]: duplicate id %q", i, t.ID))
		}
		teams[t.ID] = true
		for _, m := range t.Members {
			if !agents[m] {
				errs = append(errs, fmt.Errorf("team %q: unknown member %q", t.ID, m))
			}
		}
		if t.Leader != "" && !agents[t.Leader] {
			errs = append(errs, fmt.Errorf("team %q: unknown leader %q", t.ID, t.Leader))
		}
	}
	return errors.Join(errs...)
}

// SlogLevel maps log_level to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", c.LogLevel)
}

// HistoryPath returns the result archive location, or "" when disabled.
func (c *Config) HistoryPath() string {
	if c.HistoryDB == "" || c.HistoryDB == ":memory:" || filepath.IsAbs(c.HistoryDB) {
		return c.HistoryDB
	}
	return filepath.Join(c.DataDir, c.HistoryDB)
}
