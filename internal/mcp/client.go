// Package mcp implements a JSON-RPC 2.0 client for the Model Context
// Protocol: initialize handshake, tool discovery, and tool invocation
// over a pluggable transport.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const protocolVersion = "2024-11-05"

// ErrMissingMeta indicates a tool result without the required metadata
// envelope. Every conforming server must stamp one.
var ErrMissingMeta = errors.New("CallToolResult._meta is missing")

// ErrToolNotFound indicates the server does not expose the tool.
var ErrToolNotFound = errors.New("tool not found")

// Tool describes one tool a server exposes.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ResultMeta is the required _meta envelope on every tool result.
type ResultMeta struct {
	McpExecutionID  string `json:"mcp_execution_id"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`
	ServerVersion   string `json:"server_version,omitempty"`
}

// ContentItem is one element of a tool result's content array.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Resource *struct {
		URI      string `json:"uri"`
		MimeType string `json:"mimeType,omitempty"`
	} `json:"resource,omitempty"`
}

// CallToolResult is the parsed tools/call response.
type CallToolResult struct {
	Content           []ContentItem   `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
	Meta              ResultMeta      `json:"_meta"`
}

// Client is a JSON-RPC 2.0 MCP client bound to one server.
type Client struct {
	name      string
	transport Transport
	nextID    int64

	pendingMu sync.Mutex
	pending   map[int64]chan jsonRPCResponse
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int64           `json:"id"`
}

type jsonRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func NewClient(name string, transport Transport) *Client {
	c := &Client{
		name:      name,
		transport: transport,
		pending:   make(map[int64]chan jsonRPCResponse),
	}
	go c.listen()
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) listen() {
	for {
		msg, err := c.transport.Receive(context.Background())
		if err != nil {
			return
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			// Server notification or noise on the line.
			continue
		}
		if resp.ID == 0 {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
			ch <- resp
		}
		c.pendingMu.Unlock()
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	var paramsJSON json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = b
	}

	b, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan jsonRPCResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.transport.Send(ctx, b); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// Initialize performs the MCP handshake and sends the initialized
// notification.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"roots": map[string]any{"listChanged": true},
		},
		"clientInfo": map[string]string{
			"name":    "loom",
			"version": "0.1.0",
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	b, _ := json.Marshal(jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	if err := c.transport.Send(ctx, b); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// ListTools calls tools/list.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool calls tools/call and enforces the _meta contract: a result
// without a non-empty mcp_execution_id is rejected outright.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	res, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %q failed: %w", name, err)
	}

	var result CallToolResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tool result: %w", err)
	}
	if result.Meta.McpExecutionID == "" {
		return nil, ErrMissingMeta
	}
	return &result, nil
}

func (c *Client) Close() error {
	return c.transport.Close()
}
