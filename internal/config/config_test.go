package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfigYAML = `
log_level: debug
providers:
  anthropic:
    api_key: key-from-file
    default_model: claude-3-5-sonnet-20241022
mcp_servers:
  calc:
    command: calc-server
    args: ["--stdio"]
    enabled: true
agents:
  - name: assistant
    provider: anthropic
    system_prompt: You are helpful.
    mcp_servers: [calc]
jobs:
  evaluator:
    enabled: true
`

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validConfigYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	if got := cfg.ProviderAPIKey("anthropic"); got != "key-from-file" {
		t.Fatalf("api key = %q", got)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "assistant" {
		t.Fatalf("agents = %+v", cfg.Agents)
	}
	if cfg.Jobs.Evaluator.Provider != "anthropic" {
		t.Fatalf("evaluator provider = %q, want defaulted", cfg.Jobs.Evaluator.Provider)
	}

	servers := cfg.McpServerConfigs()
	if sc, ok := servers["calc"]; !ok || sc.Command != "calc-server" {
		t.Fatalf("mcp servers = %+v", servers)
	}
}

func TestLoadFileMissingIsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	if cfg.DBPath == "" {
		t.Fatal("db_path not defaulted")
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "key-from-env")
	cfg, err := LoadFile(writeConfig(t, validConfigYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := cfg.ProviderAPIKey("anthropic"); got != "key-from-env" {
		t.Fatalf("api key = %q, want env override", got)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
agents:
  - name: assistant
    provider: nonexistent
`))
	if err == nil {
		t.Fatal("config with unknown provider accepted")
	}
}

func TestValidateRejectsUnknownMcpServer(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
providers:
  anthropic:
    api_key: k
agents:
  - name: assistant
    provider: anthropic
    mcp_servers: [ghost]
`))
	if err == nil {
		t.Fatal("config with unknown mcp server accepted")
	}
}

func TestValidateRejectsDuplicateAgents(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
providers:
  anthropic:
    api_key: k
agents:
  - name: assistant
    provider: anthropic
  - name: assistant
    provider: anthropic
`))
	if err == nil {
		t.Fatal("config with duplicate agents accepted")
	}
}

func TestSystemPromptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("Be terse."), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
providers:
  anthropic:
    api_key: k
agents:
  - name: assistant
    provider: anthropic
    system_prompt_file: prompt.md
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agents[0].SystemPrompt != "Be terse." {
		t.Fatalf("system prompt = %q", cfg.Agents[0].SystemPrompt)
	}
}

func TestAgentRegistryReload(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validConfigYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	reg := NewAgentRegistry(cfg)
	agent, ok := reg.AgentByName("assistant")
	if !ok {
		t.Fatal("agent not found")
	}
	if agent.Provider != "anthropic" || !agent.HasTools() {
		t.Fatalf("agent = %+v", agent)
	}

	cfg.Agents = append(cfg.Agents, AgentConfig{Name: "reviewer", Provider: "anthropic"})
	reg.Reload(cfg)
	if _, ok := reg.AgentByName("reviewer"); !ok {
		t.Fatal("reloaded agent not found")
	}
	if got := reg.Names(); len(got) != 2 {
		t.Fatalf("names = %v", got)
	}
}
