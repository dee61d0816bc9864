package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrServerNotFound indicates a server name with no configuration.
var ErrServerNotFound = errors.New("mcp server not found")

// ServerConfig describes how to launch one MCP server.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// connector builds a connected client for a server. Swappable in tests.
type connector func(ctx context.Context, name string, cfg ServerConfig) (*Client, error)

func stdioConnector(ctx context.Context, name string, cfg ServerConfig) (*Client, error) {
	transport, err := NewReconnectableTransport(cfg.Command, cfg.Args, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	client := NewClient(name, transport)
	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	return client, nil
}

// Manager holds one client per configured server, connecting lazily on
// first use.
type Manager struct {
	mu      sync.Mutex
	servers map[string]ServerConfig
	clients map[string]*Client
	connect connector
}

func NewManager(servers map[string]ServerConfig) *Manager {
	return &Manager{
		servers: servers,
		clients: make(map[string]*Client),
		connect: stdioConnector,
	}
}

// ClientFor returns the connected client for a server, launching and
// initializing it on first use.
func (m *Manager) ClientFor(ctx context.Context, name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[name]; ok {
		return c, nil
	}
	cfg, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("server %q: %w", name, ErrServerNotFound)
	}
	c, err := m.connect(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	m.clients[name] = c
	slog.Info("mcp server connected", "server", name)
	return c, nil
}

// ServerTool is a discovered tool together with its server.
type ServerTool struct {
	Server string
	Tool   Tool
}

// DiscoverTools lists tools across the named servers. A server that
// fails to connect or list is skipped with a warning; discovery
// degrades rather than fails.
func (m *Manager) DiscoverTools(ctx context.Context, serverNames []string) []ServerTool {
	var out []ServerTool
	for _, name := range serverNames {
		client, err := m.ClientFor(ctx, name)
		if err != nil {
			slog.Warn("mcp server unavailable", "server", name, "error", err)
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			slog.Warn("mcp tool listing failed", "server", name, "error", err)
			continue
		}
		for _, t := range tools {
			out = append(out, ServerTool{Server: name, Tool: t})
		}
	}
	return out
}

// CallTool invokes a tool on a named server.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args json.RawMessage) (*CallToolResult, error) {
	client, err := m.ClientFor(ctx, server)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, args)
}

// CloseAll shuts down every connected client.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			slog.Warn("mcp client close failed", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
}
