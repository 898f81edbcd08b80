// Package mcp connects research tools served over the Model Context
// Protocol (MCP).
//
// The client speaks JSON-RPC over the stdin/stdout of a server process and
// exposes every server tool through the tools.Tool contract.
//
// Information Hiding:
// - Process management hidden
// - JSON-RPC protocol details hidden
// - Request ID tracking and notification skipping hidden

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

const protocolVersion = "2024-11-05"

// Client communicates with an MCP server via JSON-RPC over stdin/stdout.
type Client struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	requestID uint64
	mu        sync.Mutex
}

// mcpRequest is a JSON-RPC request to an MCP server. Notifications have
// no ID.
type mcpRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// mcpResponse is a JSON-RPC response from an MCP server.
type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

// mcpError is a JSON-RPC error.
type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolInfo describes a tool available on the MCP server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// toolsListResult is the result of tools/list method.
type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// NewClient creates a new MCP client by starting the given command.
// The command is expected to be an MCP server that communicates via stdin/stdout.
func NewClient(ctx context.Context, command string, args ...string) (*Client, error) {
	return startClient(ctx, ServerConfig{Command: command, Args: args})
}

// startClient launches a configured server with its extra environment.
func startClient(ctx context.Context, server ServerConfig) (*Client, error) {
	cmd := exec.CommandContext(ctx, server.Command, server.Args...)
	if len(server.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range server.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	client := newPipeClient(stdin, stdout)
	client.cmd = cmd

	if err := client.initialize(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	return client, nil
}

// newPipeClient wraps an established stdin/stdout pair.
func newPipeClient(stdin io.WriteCloser, stdout io.Reader) *Client {
	return &Client{
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}
}

// initialize performs the protocol handshake.
func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "deepresearch",
			"version": "0.1.0",
		},
	}

	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify("notifications/initialized", nil)
}

// ListTools returns all tools available on the MCP server.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var toolsResult toolsListResult
	if err := json.Unmarshal(result, &toolsResult); err != nil {
		return nil, fmt.Errorf("failed to parse tools list: %w", err)
	}

	return toolsResult.Tools, nil
}

// CallTool calls a tool on the MCP server with the given arguments and
// returns the raw tools/call result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}

	return c.call(ctx, "tools/call", params)
}

func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(mcpRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) write(request mcpRequest) error {
	reqJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := c.stdin.Write(append(reqJSON, '\n')); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// call sends a JSON-RPC request and returns the result. Server
// notifications and stale responses received meanwhile are skipped.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check context before sending
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.requestID++
	id := c.requestID
	if err := c.write(mcpRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	for {
		line, err := c.stdout.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var response mcpResponse
		if err := json.Unmarshal(line, &response); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if response.ID == nil || *response.ID != id {
			continue
		}

		if response.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", response.Error.Code, response.Error.Message)
		}
		return response.Result, nil
	}
}

// Close stops the MCP server process and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stdin != nil {
		c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill() // Intentionally ignore - cleanup
		_ = c.cmd.Wait()         // Intentionally ignore - cleanup
	}

	return nil
}
