package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/deepresearch/agent"
)

// toolService serves one fetch tool the way the remote tool service does.
func toolService(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/tools":
			_, _ = w.Write([]byte(`{"tools": [{"name": "crawl4ai", "description": "fetch a web page",
				"parameters": [{"name": "url", "param_type": "string", "description": "page URL", "required": true}]}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/tools/crawl4ai":
			calls.Add(1)
			var req struct {
				Parameters map[string]any `json:"parameters"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			url, _ := req.Parameters["url"].(string)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"output":  "Electric car sales reached 14 million in 2023.",
				"sources": []map[string]string{{"title": "Global EV Outlook", "url": url}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testOptions(t *testing.T, serviceURL string) (Options, *bytes.Buffer) {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "deepseek")
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("TOOL_SERVICE_URL", serviceURL)
	t.Setenv("MCP_CONFIG", "")
	t.Setenv("KNOWLEDGE_DIR", "")
	t.Setenv("RESEARCH_MODES_FILE", "")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	opts := DefaultOptions()
	opts.DBPath = filepath.Join(t.TempDir(), "research.db")
	opts.Out = &out
	return opts, &out
}

func runStep(t *testing.T, opts Options, out *bytes.Buffer, params string) agent.StepResponse {
	t.Helper()
	out.Reset()
	require.NoError(t, Step(context.Background(), "run-cli", "crawl4ai", params, "", opts))
	var resp agent.StepResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	return resp
}

func TestRunAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	server := toolService(t, &calls)
	opts, out := testOptions(t, server.URL)

	require.NoError(t, StartRun(ctx, "EV adoption", "run-cli", opts))
	assert.Equal(t, "run-cli\n", out.String())

	first := runStep(t, opts, out, `{"url": "https://x.com/page"}`)
	require.True(t, first.IsSuccess(), first.Error)
	assert.Equal(t, 1, first.StepIndex)

	second := runStep(t, opts, out, `{"url": "https://x.com/page/"}`)
	require.True(t, second.IsSuccess(), second.Error)
	assert.Equal(t, 2, second.StepIndex)

	third := runStep(t, opts, out, `{"url": "https://x.com/page"}`)
	assert.False(t, third.IsSuccess())
	assert.Contains(t, third.Observation, "Duplicate resource")
	assert.Equal(t, int32(2), calls.Load())

	out.Reset()
	require.NoError(t, Context(ctx, "", opts))
	assert.Contains(t, out.String(), "Electric car sales")

	out.Reset()
	reportPath := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, Report(ctx, "run-cli", "", "How fast are EVs adopted?", reportPath, opts))
	assert.Contains(t, out.String(), "Report written to")
	assert.Contains(t, out.String(), "Fallback: yes")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Research Report: EV adoption")
	assert.Contains(t, string(data), "https://x.com/page")

	out.Reset()
	require.NoError(t, ListRuns(ctx, opts))
	assert.Contains(t, out.String(), "run-cli")
	assert.Contains(t, out.String(), "EV adoption")

	require.NoError(t, DeleteRun(ctx, "run-cli", opts))
	err = Step(ctx, "run-cli", "crawl4ai", "{}", "", opts)
	assert.ErrorContains(t, err, "not found")
}

func TestStepWithoutRuns(t *testing.T) {
	opts, _ := testOptions(t, "")
	err := Step(context.Background(), "", "crawl4ai", "{}", "", opts)
	assert.ErrorContains(t, err, "no runs found")
}

func TestStartRunRejectsEmptyTopic(t *testing.T) {
	opts, _ := testOptions(t, "")
	assert.Error(t, StartRun(context.Background(), "  ", "", opts))
}

func TestListTools(t *testing.T) {
	var calls atomic.Int32
	server := toolService(t, &calls)
	opts, out := testOptions(t, server.URL)

	require.NoError(t, ListTools(context.Background(), true, opts))
	assert.Contains(t, out.String(), "crawl4ai")
	assert.Contains(t, out.String(), "url*: string - page URL")
	assert.Zero(t, calls.Load())
}

func TestListToolsWithoutBackends(t *testing.T) {
	opts, out := testOptions(t, "")
	require.NoError(t, ListTools(context.Background(), false, opts))
	assert.Contains(t, out.String(), "No tools available")
}

func TestListModes(t *testing.T) {
	opts, out := testOptions(t, "")
	require.NoError(t, ListModes(opts))
	assert.Contains(t, out.String(), "academic")
	assert.Contains(t, out.String(), "standard")
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"url": "https://x.com", "depth": 2}`)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com", params["url"])
	assert.Equal(t, float64(2), params["depth"])

	params, err = parseParams("  ")
	require.NoError(t, err)
	assert.Empty(t, params)

	_, err = parseParams(`["not", "an", "object"]`)
	assert.Error(t, err)
	_, err = parseParams(`{"url": `)
	assert.Error(t, err)
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()

	arr := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(arr, []byte(`["EV sales 2023", {"question": "Charging network", "status": "completed"}, {"status": "x"}]`), 0o644))
	plan, err := loadPlan(arr)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "EV sales 2023", plan[0].Question)
	assert.Equal(t, "completed", plan[1].Status)

	obj := filepath.Join(dir, "wrapped.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"plan": [{"sub_question": "Battery costs"}]}`), 0o644))
	plan, err = loadPlan(obj)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "Battery costs", plan[0].Question)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"steps": 1}`), 0o644))
	_, err = loadPlan(bad)
	assert.Error(t, err)
}
