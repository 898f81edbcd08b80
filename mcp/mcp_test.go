package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/tools"
)

type handlerFunc func(method string, params gjson.Result) (any, *mcpError)

// pipeServer runs handle behind an in-process JSON-RPC pipe. Every reply
// is preceded by a server notification the client must skip.
func pipeServer(t *testing.T, handle handlerFunc) *Client {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer respW.Close()
		scanner := bufio.NewScanner(reqR)
		for scanner.Scan() {
			req := gjson.ParseBytes(scanner.Bytes())
			if !req.Get("id").Exists() {
				continue
			}
			if _, err := respW.Write([]byte("{\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")); err != nil {
				return
			}
			result, rpcErr := handle(req.Get("method").String(), req.Get("params"))
			resp := map[string]any{"jsonrpc": "2.0", "id": req.Get("id").Uint()}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
			b, _ := json.Marshal(resp)
			if _, err := respW.Write(append(b, '\n')); err != nil {
				return
			}
		}
	}()

	client := newPipeClient(reqW, respR)
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client
}

func researchServer(method string, params gjson.Result) (any, *mcpError) {
	switch method {
	case "initialize":
		return map[string]any{"protocolVersion": protocolVersion}, nil
	case "tools/list":
		return map[string]any{"tools": []map[string]any{
			{
				"name":        "web_search",
				"description": "search the web",
				"inputSchema": map[string]any{
					"properties": map[string]any{
						"query":       map[string]any{"type": "string", "description": "search terms"},
						"max_results": map[string]any{"type": "integer"},
					},
					"required": []string{"query"},
				},
			},
		}}, nil
	case "tools/call":
		query := params.Get("arguments.query").String()
		switch query {
		case "fail":
			return map[string]any{"isError": true, "content": []map[string]any{{"type": "text", "text": "quota exceeded"}}}, nil
		case "rpc":
			return nil, &mcpError{Code: -32602, Message: "invalid params"}
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "Found 1 result for " + query},
				{"type": "resource_link", "uri": "https://iea.org/ev", "name": "Global EV Outlook"},
			},
		}, nil
	}
	return nil, &mcpError{Code: -32601, Message: "method not found"}
}

func TestClientDiscoversAndInvokesTools(t *testing.T) {
	ctx := context.Background()
	client := pipeServer(t, researchServer)
	require.NoError(t, client.initialize(ctx))

	found, err := listClientTools(ctx, client)
	require.NoError(t, err)
	require.Len(t, found, 1)

	meta := found[0].Metadata()
	assert.Equal(t, "web_search", meta.Name)
	assert.Equal(t, []tools.ToolParameter{
		{Name: "max_results", ParamType: "integer"},
		{Name: "query", ParamType: "string", Description: "search terms", Required: true},
	}, meta.Parameters)

	res, err := found[0].Invoke(ctx, map[string]any{"query": "ev adoption"}, tools.Hints{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Found 1 result for ev adoption", res.Output)
	assert.Equal(t, []model.Source{{Title: "Global EV Outlook", URL: "https://iea.org/ev"}}, res.Sources)

	res, err = found[0].Invoke(ctx, map[string]any{"query": "fail"}, tools.Hints{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "quota exceeded", res.Output)

	_, err = found[0].Invoke(ctx, map[string]any{"query": "rpc"}, tools.Hints{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
}

func TestConvertResultStructuredContent(t *testing.T) {
	raw := json.RawMessage(`{
		"content": [],
		"structuredContent": {"results": [
			{"title": "A", "url": "https://a.com", "content": "alpha"},
			{"title": "local", "url": "file:///tmp/x"}
		]}
	}`)
	res := convertResult(raw)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, `"results"`)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "alpha", res.Sources[0].Description)
}

func TestConvertResultNonObject(t *testing.T) {
	res := convertResult(json.RawMessage(`"just text"`))
	assert.True(t, res.Success)
	assert.Equal(t, `"just text"`, res.Output)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"mcpServers": {
		"search": {"command": "npx", "args": ["-y", "tavily-mcp"]},
		"crawler": {"command": "uvx", "args": ["crawl4ai-mcp"], "env": {"K": "V"}}
	}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"crawler", "search"}, cfg.ServerNames())
	assert.Equal(t, []string{"uvx crawl4ai-mcp", "npx -y tavily-mcp"}, cfg.ServerCommands())
	assert.Equal(t, "V", cfg.MCPServers["crawler"].Env["K"])

	_, err = ParseConfig([]byte(`{"mcpServers": {"bad": {"command": " "}}}`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`not json`))
	assert.Error(t, err)
}
