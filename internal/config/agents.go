package config

import (
	"sort"
	"sync"

	"github.com/loomhq/loom/internal/a2a"
)

// AgentRegistry resolves agent runtime configs by name. It is safe for
// concurrent use and can be swapped wholesale on config reload.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]a2a.AgentRuntime
}

func NewAgentRegistry(cfg Config) *AgentRegistry {
	r := &AgentRegistry{}
	r.Reload(cfg)
	return r
}

// AgentByName implements a2a.AgentLookup.
func (r *AgentRegistry) AgentByName(name string) (a2a.AgentRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// Reload replaces the registry's contents from a freshly loaded config.
func (r *AgentRegistry) Reload(cfg Config) {
	agents := make(map[string]a2a.AgentRuntime, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents[a.Name] = a2a.AgentRuntime{
			Name:         a.Name,
			Provider:     a.Provider,
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			McpServers:   a.McpServers,
		}
	}
	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
}

// Names returns the registered agent names, sorted.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
