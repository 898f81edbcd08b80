package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/deepresearch/events"
	"github.com/richinex/deepresearch/llm/llmtest"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(name events.Name, payload events.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events.Event{Name: name, Payload: payload})
}

func (p *recordingPublisher) named(name events.Name) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// countingTool records every invocation.
type countingTool struct {
	mu     sync.Mutex
	name   string
	calls  []map[string]any
	result func(params map[string]any) Result
}

func (c *countingTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: c.name, Description: "test tool"}
}

func (c *countingTool) Invoke(_ context.Context, params map[string]any, _ Hints) (Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, copyParams(params))
	c.mu.Unlock()
	return c.result(params), nil
}

func (c *countingTool) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingTool) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

func newTestExecutor(t *testing.T, provider *llmtest.Scripted, tools ...Tool) (*Executor, *storage.StateStore, *recordingPublisher) {
	t.Helper()
	state := storage.NewStateStore(storage.Options{})
	state.ResetRun(context.Background(), "run-test", "electric vehicle adoption")
	registry, err := NewRegistryWith(tools...)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	var exec *Executor
	if provider != nil {
		exec = NewExecutor(state, registry, provider)
	} else {
		exec = NewExecutor(state, registry, nil)
	}
	exec.WithPublisher(pub)
	return exec, state, pub
}

func pageTool() *countingTool {
	return &countingTool{
		name: "crawl4ai",
		result: func(params map[string]any) Result {
			u, _ := params["url"].(string)
			return SuccessResult("Page content about EV sales from "+u,
				model.Source{Title: "EV report", URL: u})
		},
	}
}

func TestExecuteFetchDedupAllowsOneRevisitThenRejects(t *testing.T) {
	fetch := pageTool()
	exec, state, _ := newTestExecutor(t, nil, fetch)
	ctx := context.Background()

	first := exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page"}})
	require.True(t, first.Success)
	v, ok := state.Visited("https://x.com/page")
	require.True(t, ok)
	assert.Equal(t, 1, v.VisitCount)

	second := exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page/"}})
	require.True(t, second.Success)
	v, _ = state.Visited("https://x.com/page")
	assert.Equal(t, 2, v.VisitCount)

	third := exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page"}})
	assert.False(t, third.Success)
	assert.True(t, errors.Is(third.Err, ErrDuplicateResource))
	assert.Contains(t, third.Observation, "Duplicate resource")
	assert.Contains(t, third.Observation, "Page content about EV sales")

	assert.Equal(t, 2, fetch.count(), "rejected call must not reach the tool")
	assert.Len(t, state.Steps(), 3)
	assert.Equal(t, 1, state.Metrics().ToolFailures["crawl4ai"])
}

func TestExecuteDedupTreatsDifferentHostsSeparately(t *testing.T) {
	fetch := pageTool()
	exec, _, _ := newTestExecutor(t, nil, fetch)
	ctx := context.Background()

	for _, u := range []string{"https://a.com/report", "https://b.org/report", "https://a.com/other-page"} {
		out := exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": u}})
		assert.True(t, out.Success, u)
	}
	assert.Equal(t, 3, fetch.count())
}

func TestExecuteRecordsArtifactAndTaggedSources(t *testing.T) {
	exec, state, pub := newTestExecutor(t, nil, pageTool())

	out := exec.Execute(context.Background(), Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/a"}})
	require.True(t, out.Success)
	assert.Equal(t, 1, out.StepIndex)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "step_1", out.Sources[0].OriginGroup)

	entry, ok := state.Artifact(1)
	require.True(t, ok)
	assert.Equal(t, "crawl4ai", entry.Metadata.ToolName)
	assert.Equal(t, model.ContentWebpage, entry.Metadata.ContentType)

	m := state.Metrics()
	assert.Equal(t, 1, m.ToolCalls["crawl4ai"])
	require.Len(t, m.InformationGain, 1)
	assert.InDelta(t, 1.0, m.InformationGain[0], 1e-9)

	require.Len(t, pub.named(events.ToolExecuted), 1)
	assert.Equal(t, "run-test", pub.named(events.ToolExecuted)[0].Payload.RunID)
}

func TestExecuteUnknownToolRecordsFailure(t *testing.T) {
	exec, state, _ := newTestExecutor(t, nil, pageTool())

	out := exec.Execute(context.Background(), Call{ToolName: "web_search"})
	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrUnknownTool))
	assert.Contains(t, out.Observation, "crawl4ai")

	steps := state.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "web_search", steps[0].Action.ToolName)
	_, cached := state.Artifact(1)
	assert.False(t, cached)
}

func TestExecuteEmptyOutputIsFailure(t *testing.T) {
	empty := NewFuncTool(ToolMetadata{Name: "search"}, func(context.Context, map[string]any, Hints) (Result, error) {
		return Result{Success: true, Output: "  "}, nil
	})
	exec, _, _ := newTestExecutor(t, nil, empty)

	out := exec.Execute(context.Background(), Call{ToolName: "search"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Observation, "returned no output")
}

func TestExecuteToolDeadline(t *testing.T) {
	slow := NewFuncTool(ToolMetadata{Name: "search"}, func(ctx context.Context, _ map[string]any, _ Hints) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	exec, _, _ := newTestExecutor(t, nil, slow)
	exec.WithPolicy(Policy{ToolTimeout: 20 * time.Millisecond})

	out := exec.Execute(context.Background(), Call{ToolName: "search"})
	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrToolTimeout))
}

func TestExecuteCancelledContextRecordsFailedStep(t *testing.T) {
	fetch := pageTool()
	exec, state, pub := newTestExecutor(t, nil, fetch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page"}})

	assert.False(t, out.Success)
	assert.Equal(t, 1, out.StepIndex)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Contains(t, out.Observation, "step cancelled")
	assert.Zero(t, fetch.count())

	steps := state.Steps()
	require.Len(t, steps, 1)
	assert.False(t, steps[0].Success)
	assert.Equal(t, "https://x.com/page", steps[0].Action.Parameters["url"])
	assert.Equal(t, 1, state.Metrics().ToolFailures["crawl4ai"])
	assert.Len(t, pub.named(events.ToolExecuted), 1)

	_, visited := state.Visited("https://x.com/page")
	assert.False(t, visited)
}

func TestExecuteRecoversToolPanic(t *testing.T) {
	broken := NewFuncTool(ToolMetadata{Name: "search"}, func(context.Context, map[string]any, Hints) (Result, error) {
		panic("boom")
	})
	exec, state, _ := newTestExecutor(t, nil, broken)

	out := exec.Execute(context.Background(), Call{ToolName: "search"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Observation, "panicked")
	assert.Len(t, state.Steps(), 1)
}

func codeTool(result func(params map[string]any) Result) *countingTool {
	return &countingTool{name: "python_sandbox", result: result}
}

func TestExecuteCodeWithEmptyAssignmentIsNeverRunUnrepaired(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result { return SuccessResult("ran") })
	provider := llmtest.NewScripted().Always(llmtest.Reply{
		Content: "```python\nx =\nprint(x)\n```",
		Usage:   model.TokenUsage{TotalTokens: 10},
	})
	exec, state, _ := newTestExecutor(t, provider, sandbox)

	out := exec.Execute(context.Background(), Call{
		ToolName:   "python_sandbox",
		Parameters: map[string]any{"code": "x =\nprint(x)\n"},
	})

	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrRepairExhausted))
	assert.Equal(t, 0, sandbox.count())
	assert.Equal(t, 3, provider.Calls())
	assert.Equal(t, 3, state.Metrics().TokenUpdates)
}

func TestExecuteCodeRepairedBeforeRun(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result { return SuccessResult("5") })
	provider := llmtest.NewScripted(
		llmtest.Reply{Content: "```python\nx = ...\nprint(x)\n```"},
		llmtest.Reply{Content: "```python\nx = 5\nprint(x)\n```"},
	)
	exec, _, _ := newTestExecutor(t, provider, sandbox)

	out := exec.Execute(context.Background(), Call{
		ToolName:   "python_sandbox",
		Parameters: map[string]any{"code": "x =\nprint(x)\n"},
	})

	require.True(t, out.Success)
	require.Equal(t, 1, sandbox.count())
	code := sandbox.last()["code"].(string)
	assert.Equal(t, "x = 5\nprint(x)", code)
	assert.Empty(t, FindEmptyAssignments(code))
	assert.Equal(t, 2, provider.Calls())

	second := provider.Requests()[1]
	assert.Contains(t, second.Messages[1].Content, "previous repair was rejected")
}

func TestExecuteCodeInjectsImportsAndLastObservation(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result { return SuccessResult("ok") })
	exec, _, _ := newTestExecutor(t, nil, pageTool(), sandbox)
	ctx := context.Background()

	require.True(t, exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/a"}}).Success)
	out := exec.Execute(ctx, Call{
		ToolName:   "python_sandbox",
		Parameters: map[string]any{"code": "text = {{LAST_OBSERVATION}}\ndf = pd.DataFrame({'t': [text]})\nprint(df)"},
	})
	require.True(t, out.Success)

	code := sandbox.last()["code"].(string)
	assert.True(t, strings.HasPrefix(code, "import pandas as pd\n"))
	assert.Contains(t, code, `text = "Page content about EV sales from https://x.com/a"`)
	assert.NotContains(t, code, LastObservationPlaceholder)
}

func TestExecuteCodeFailureIsDiagnosed(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result {
		return Result{Output: "Traceback (most recent call last):\nNameError: name 'df' is not defined"}
	})
	exec, _, _ := newTestExecutor(t, nil, sandbox)

	out := exec.Execute(context.Background(), Call{ToolName: "python_sandbox", Parameters: map[string]any{"code": "print(df)"}})
	assert.False(t, out.Success)
	assert.Contains(t, out.Observation, "Diagnosis (undefined_name)")
	assert.Contains(t, out.Observation, "'df'")
}

func TestExecuteCodeImagePublishedAndPlaceholdered(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result {
		return SuccessResult(`{"type": "image", "title": "EV sales", "image_base64": "aGVsbG8="}`)
	})
	exec, state, pub := newTestExecutor(t, nil, sandbox)

	out := exec.Execute(context.Background(), Call{ToolName: "python_sandbox", Parameters: map[string]any{"code": "plot()"}})
	require.True(t, out.Success)
	assert.Equal(t, OutputImage, out.Kind)

	imgs := state.Images()
	require.Len(t, imgs, 1)
	assert.Contains(t, out.Observation, imgs[0].Placeholder())
	assert.NotContains(t, out.Observation, "aGVsbG8=")

	published := pub.named(events.ImageGenerated)
	require.Len(t, published, 1)
	assert.Equal(t, imgs[0].ID, published[0].Payload.Data["image_id"])

	entry, ok := state.Artifact(out.StepIndex)
	require.True(t, ok)
	assert.NotContains(t, entry.RawData, "aGVsbG8=")
}

func TestExecuteCrawlerParameterAutoFix(t *testing.T) {
	crawler := &countingTool{
		name: "crawl4ai",
		result: func(params map[string]any) Result {
			if _, ok := params["url"]; !ok {
				return Result{Output: "Error: missing required parameter 'url'"}
			}
			if params["mode"] != "deep_crawl" {
				return Result{Output: "unsupported mode"}
			}
			return SuccessResult("crawled pages")
		},
	}
	exec, state, _ := newTestExecutor(t, nil, crawler)

	out := exec.Execute(context.Background(), Call{
		ToolName: "crawl4ai",
		Parameters: map[string]any{
			"mode":       "crawl",
			"parameters": map[string]any{"url": "https://docs.example.com"},
		},
	})
	require.True(t, out.Success, out.Observation)
	assert.Equal(t, 2, crawler.count())

	steps := state.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "deep_crawl", steps[0].Action.Parameters["mode"])
	assert.Equal(t, "https://docs.example.com", steps[0].Action.Parameters["url"])
}

func TestExecuteCrawlerFixKeepsOriginalErrorWhenRetryFails(t *testing.T) {
	crawler := &countingTool{
		name: "crawl4ai",
		result: func(map[string]any) Result {
			return Result{Output: "missing required parameter 'selector'"}
		},
	}
	exec, _, _ := newTestExecutor(t, nil, crawler)

	out := exec.Execute(context.Background(), Call{
		ToolName:   "crawl4ai",
		Parameters: map[string]any{"mode": "fetch", "url": "https://docs.example.com"},
	})
	assert.False(t, out.Success)
	assert.Equal(t, 2, crawler.count())
	assert.Contains(t, out.Observation, "selector")
}

func TestExecuteDelegatesCodeAuthoring(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result { return SuccessResult("42") })
	provider := llmtest.NewScripted(llmtest.Reply{
		Content: "Here you go:\n```python\nprint(6 * 7)\n```",
		Usage:   model.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	})
	exec, state, _ := newTestExecutor(t, provider, sandbox)

	out := exec.Execute(context.Background(), Call{
		ToolName:   "code_generator",
		Parameters: map[string]any{"objective": "multiply six by seven"},
	})
	require.True(t, out.Success, out.Observation)
	assert.True(t, strings.HasPrefix(out.Observation, "Expert code executed successfully"))
	assert.Equal(t, "print(6 * 7)", sandbox.last()["code"])

	steps := state.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "code_generator", steps[0].Action.ToolName)
	assert.Equal(t, "print(6 * 7)", steps[0].Action.Parameters["generated_code"])
	assert.Contains(t, provider.Requests()[0].Messages[1].Content, "multiply six by seven")
	assert.Equal(t, 10, state.Metrics().Tokens.TotalTokens)
}

func TestExecuteDelegationRequiresCodeTool(t *testing.T) {
	exec, _, _ := newTestExecutor(t, llmtest.NewScripted(), pageTool())

	out := exec.Execute(context.Background(), Call{ToolName: "code_generator", Parameters: map[string]any{"objective": "x"}})
	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrUnknownTool))
}

func TestExecuteDelegationModelFailure(t *testing.T) {
	sandbox := codeTool(func(map[string]any) Result { return SuccessResult("never") })
	provider := llmtest.NewScripted(llmtest.Reply{Err: errors.New("rate limited")})
	exec, _, _ := newTestExecutor(t, provider, sandbox)

	out := exec.Execute(context.Background(), Call{ToolName: "code_generator", Parameters: map[string]any{"objective": "chart"}})
	assert.False(t, out.Success)
	assert.Contains(t, out.Observation, "rate limited")
	assert.Equal(t, 0, sandbox.count())
}

func TestReplayVisitsAfterRestore(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	defer db.Close()

	fetch := pageTool()
	state := storage.NewStateStore(storage.Options{Persistence: db})
	state.ResetRun(ctx, "run-replay", "ev adoption")
	registry, err := NewRegistryWith(fetch)
	require.NoError(t, err)
	exec := NewExecutor(state, registry, nil)

	exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page"}})
	exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page/"}})

	restored := storage.NewStateStore(storage.Options{Persistence: db})
	require.NoError(t, restored.Restore(ctx, state.Run()))
	_, ok := restored.Visited("https://x.com/page")
	require.False(t, ok)

	again := NewExecutor(restored, registry, nil)
	assert.Equal(t, 2, again.ReplayVisits())
	v, ok := restored.Visited("https://x.com/page")
	require.True(t, ok)
	assert.Equal(t, 2, v.VisitCount)

	third := again.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page"}})
	assert.True(t, errors.Is(third.Err, ErrDuplicateResource))
	assert.Equal(t, 2, fetch.count())
}

func TestDuplicateObservationListsSameHostPages(t *testing.T) {
	fetch := pageTool()
	exec, _, _ := newTestExecutor(t, nil, fetch)
	ctx := context.Background()

	for _, u := range []string{"https://x.com/page", "https://x.com/other", "https://x.com/page/", "https://y.org/page"} {
		require.True(t, exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": u}}).Success)
	}

	rejected := exec.Execute(ctx, Call{ToolName: "crawl4ai", Parameters: map[string]any{"url": "https://x.com/page"}})
	require.False(t, rejected.Success)
	assert.Contains(t, rejected.Observation, "Also visited on this host: x.com/other (step 2)")
	assert.NotContains(t, rejected.Observation, "y.org")
}
