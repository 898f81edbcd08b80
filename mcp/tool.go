// MCP Tool Wrapper - Makes MCP server tools usable by the research executor.
//
// Information Hiding:
// - MCP client lifecycle hidden
// - Schema parsing hidden
// - Result content decoding (text, resources, structured content) hidden

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/tools"
)

// ToolManager owns the clients behind a set of discovered tools.
// The caller must call Close() when done to release resources.
type ToolManager struct {
	clients []*Client
	tools   []tools.Tool
}

// Tools returns the discovered tools.
func (m *ToolManager) Tools() []tools.Tool {
	return m.tools
}

// Close closes every MCP client and releases resources.
func (m *ToolManager) Close() error {
	var errs []error
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tool is one MCP server tool sharing its server's client.
type Tool struct {
	client      *Client
	toolName    string
	description string
	inputSchema json.RawMessage
}

// Metadata returns the tool metadata extracted from the MCP schema.
func (w *Tool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        w.toolName,
		Description: w.description,
		Parameters:  parseParameters(w.inputSchema),
	}
}

// Invoke calls the MCP tool using the shared client. Protocol failures are
// errors; a tool reporting isError is a failed result.
func (w *Tool) Invoke(ctx context.Context, params map[string]any, _ tools.Hints) (tools.Result, error) {
	result, err := w.client.CallTool(ctx, w.toolName, params)
	if err != nil {
		return tools.Result{}, fmt.Errorf("tool call failed: %w", err)
	}
	return convertResult(result), nil
}

var _ tools.Tool = (*Tool)(nil)

// parseParameters extracts tool parameters from the JSON schema.
// Returns parameters in sorted order for deterministic output.
func parseParameters(inputSchema json.RawMessage) []tools.ToolParameter {
	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(inputSchema, &schema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range schema.Required {
		requiredSet[r] = true
	}

	// Extract and sort parameter names for deterministic output
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		paramType := prop.Type
		if paramType == "" {
			paramType = "string"
		}

		params = append(params, tools.ToolParameter{
			Name:        name,
			Description: prop.Description,
			ParamType:   paramType,
			Required:    requiredSet[name],
		})
	}

	return params
}

// convertResult maps a tools/call result onto a tools.Result. Text content
// becomes the output; structured content is used when no text was sent.
func convertResult(raw json.RawMessage) tools.Result {
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		out := strings.TrimSpace(string(raw))
		return tools.Result{Success: out != "", Output: out}
	}

	var texts []string
	var sources []model.Source
	doc.Get("content").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			if t := item.Get("text").String(); t != "" {
				texts = append(texts, t)
			}
		case "resource":
			res := item.Get("resource")
			if t := res.Get("text").String(); t != "" {
				texts = append(texts, t)
			}
			if src, ok := sourceFrom(res.Get("uri").String(), res.Get("name").String(), ""); ok {
				sources = append(sources, src)
			}
		case "resource_link":
			if src, ok := sourceFrom(item.Get("uri").String(), item.Get("name").String(), item.Get("description").String()); ok {
				sources = append(sources, src)
			}
		}
		return true
	})

	structured := doc.Get("structuredContent")
	for _, key := range []string{"sources", "results"} {
		structured.Get(key).ForEach(func(_, item gjson.Result) bool {
			if src, ok := sourceFrom(item.Get("url").String(), item.Get("title").String(), item.Get("content").String()); ok {
				sources = append(sources, src)
			}
			return true
		})
	}

	output := strings.Join(texts, "\n")
	if output == "" && structured.Exists() {
		output = structured.Raw
	}

	return tools.Result{
		Success: !doc.Get("isError").Bool(),
		Output:  output,
		Sources: sources,
	}
}

func sourceFrom(uri, title, description string) (model.Source, bool) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return model.Source{}, false
	}
	if title == "" {
		title = uri
	}
	if len(description) > 300 {
		description = description[:300]
	}
	return model.Source{Title: title, URL: uri, Description: description}, true
}

// DiscoverTools discovers all tools from an MCP server and returns a ToolManager.
// The ToolManager shares a single client across all tools for efficiency.
// The caller MUST call ToolManager.Close() when done to release resources.
//
// Example:
//
//	manager, err := mcp.DiscoverTools(ctx, "npx", "-y", "@modelcontextprotocol/server-brave-search")
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
//
//	for _, tool := range manager.Tools() {
//	    registry.Register(tool)
//	}
func DiscoverTools(ctx context.Context, serverCommand string, serverArgs ...string) (*ToolManager, error) {
	client, err := NewClient(ctx, serverCommand, serverArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	found, err := listClientTools(ctx, client)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &ToolManager{
		clients: []*Client{client},
		tools:   found,
	}, nil
}

// DiscoverFromConfig starts every configured server, in name order, and
// collects their tools. Any failing server aborts discovery.
func DiscoverFromConfig(ctx context.Context, cfg *Config) (*ToolManager, error) {
	manager := &ToolManager{}
	for _, name := range cfg.ServerNames() {
		client, err := startClient(ctx, cfg.MCPServers[name])
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to connect to MCP server %s: %w", name, err)
		}
		manager.clients = append(manager.clients, client)

		found, err := listClientTools(ctx, client)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		manager.tools = append(manager.tools, found...)
	}
	return manager, nil
}

func listClientTools(ctx context.Context, client *Client) ([]tools.Tool, error) {
	toolInfos, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	result := make([]tools.Tool, len(toolInfos))
	for i, info := range toolInfos {
		result[i] = &Tool{
			client:      client,
			toolName:    info.Name,
			description: stringValue(info.Description),
			inputSchema: info.InputSchema,
		}
	}
	return result, nil
}

// stringValue returns empty string for nil pointers.
func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
