// MCP server configuration file support.
//
// Supports Anthropic-style MCP configuration format:
//
//	{
//	  "mcpServers": {
//	    "search": {
//	      "command": "npx",
//	      "args": ["-y", "tavily-mcp"],
//	      "env": {"TAVILY_API_KEY": "..."}
//	    },
//	    "crawler": {
//	      "command": "uvx",
//	      "args": ["crawl4ai-mcp"]
//	    }
//	  }
//	}
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates configuration JSON.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for name, server := range config.MCPServers {
		if strings.TrimSpace(server.Command) == "" {
			return nil, fmt.Errorf("server %s has no command", name)
		}
	}
	return &config, nil
}

// ServerNames returns configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerCommands returns a list of server command strings for each configured server,
// in server name order. Each command string is in the format "command arg1 arg2 ...".
func (c *Config) ServerCommands() []string {
	var commands []string
	for _, name := range c.ServerNames() {
		server := c.MCPServers[name]
		commands = append(commands, strings.Join(append([]string{server.Command}, server.Args...), " "))
	}
	return commands
}
