// Package config loads the runtime configuration: provider credentials,
// MCP server definitions, named agents, and job settings. Values come
// from a yaml file with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/internal/mcp"
)

// ProviderConfig holds per-provider settings.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// MCPServerConfig defines one MCP tool server launched over stdio.
type MCPServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Enabled bool              `yaml:"enabled"`
}

// AgentConfig defines a named agent: which provider and model answer for
// it, its system prompt, and which MCP servers it may call.
type AgentConfig struct {
	Name             string   `yaml:"name"`
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model"`
	SystemPrompt     string   `yaml:"system_prompt"`
	SystemPromptFile string   `yaml:"system_prompt_file"`
	McpServers       []string `yaml:"mcp_servers"`
}

// EvaluatorConfig controls the conversation evaluator job.
type EvaluatorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type JobsConfig struct {
	Evaluator EvaluatorConfig `yaml:"evaluator"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Providers  map[string]ProviderConfig  `yaml:"providers"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Agents     []AgentConfig              `yaml:"agents"`
	Jobs       JobsConfig                 `yaml:"jobs"`
	Telemetry  TelemetryConfig            `yaml:"telemetry"`
}

// HomeDir returns the configuration directory, LOOM_HOME or ~/.loom.
func HomeDir() string {
	if override := os.Getenv("LOOM_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".loom")
}

// ConfigPath returns the path to config.yaml within the home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads the configuration from the default home directory, creating
// it if absent.
func Load() (Config, error) {
	homeDir := HomeDir()
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("create loom home: %w", err)
	}
	cfg, err := LoadFile(ConfigPath(homeDir))
	if err != nil {
		return cfg, err
	}
	cfg.HomeDir = homeDir
	return cfg, nil
}

// LoadFile reads the configuration from an explicit path. A missing file
// yields the defaults.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadPromptFiles(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		DBPath:   "loom.db",
		LogLevel: "info",
	}
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "loom.db"
	}
	if !filepath.IsAbs(cfg.DBPath) && cfg.HomeDir != "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, cfg.DBPath)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Jobs.Evaluator.Enabled && cfg.Jobs.Evaluator.Provider == "" && len(cfg.Providers) > 0 {
		// Pick any configured provider deterministically.
		for _, name := range []string{"anthropic", "openai", "gemini"} {
			if _, ok := cfg.Providers[name]; ok {
				cfg.Jobs.Evaluator.Provider = name
				break
			}
		}
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		if agent.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if seen[agent.Name] {
			return fmt.Errorf("duplicate agent %q", agent.Name)
		}
		seen[agent.Name] = true

		if agent.Provider == "" {
			return fmt.Errorf("agent %q: no provider", agent.Name)
		}
		if _, ok := cfg.Providers[agent.Provider]; !ok {
			return fmt.Errorf("agent %q: unknown provider %q", agent.Name, agent.Provider)
		}
		for _, server := range agent.McpServers {
			sc, ok := cfg.MCPServers[server]
			if !ok {
				return fmt.Errorf("agent %q: unknown mcp server %q", agent.Name, server)
			}
			if !sc.Enabled {
				return fmt.Errorf("agent %q: mcp server %q is disabled", agent.Name, server)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("LOOM_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("LOOM_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	for name, envVar := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"gemini":    "GEMINI_API_KEY",
	} {
		raw := os.Getenv(envVar)
		if raw == "" {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers[name]
		p.APIKey = raw
		cfg.Providers[name] = p
	}
}

// loadPromptFiles resolves system_prompt_file references relative to the
// home directory. An inline system_prompt wins over the file.
func loadPromptFiles(cfg *Config) {
	for i := range cfg.Agents {
		agent := &cfg.Agents[i]
		if agent.SystemPrompt != "" || agent.SystemPromptFile == "" {
			continue
		}
		path := agent.SystemPromptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.HomeDir, path)
		}
		if b, err := os.ReadFile(path); err == nil {
			agent.SystemPrompt = string(b)
		}
	}
}

// ProviderAPIKey returns the key for the named provider; environment
// variables were already folded in at load time.
func (c Config) ProviderAPIKey(name string) string {
	if c.Providers == nil {
		return ""
	}
	return c.Providers[name].APIKey
}

// McpServerConfigs converts the enabled server entries into the mcp
// package's connection configs.
func (c Config) McpServerConfigs() map[string]mcp.ServerConfig {
	out := make(map[string]mcp.ServerConfig, len(c.MCPServers))
	for name, sc := range c.MCPServers {
		if !sc.Enabled {
			continue
		}
		out[name] = mcp.ServerConfig{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
		}
	}
	return out
}
