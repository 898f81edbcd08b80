// Research Tool Executor.
//
// Information Hiding:
// - Per-call pipeline (dispatch, delegation, dedup, preflight, invoke,
//   classify, diagnose, crawler fix) hidden behind Execute
// - Step recording and artifact caching funnel through one record path
// - Deadline and panic handling of tool invocations hidden

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/deepresearch/events"
	jsonutil "github.com/richinex/deepresearch/internal/json"
	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

// Policy holds the executor's tunables and designated tool names.
type Policy struct {
	FetchTool      string // guarded by resource dedup
	CrawlTool      string // eligible for parameter auto-fix
	CodeTool       string // preflighted and classified
	CodeAuthorTool string // delegated, never invoked directly

	DedupThreshold float64
	RevisitCeiling int
	RepairAttempts int // additional attempts after the first
	ToolTimeout    time.Duration
	LargePayload   int // runes above which structured output is referenced by step
	PreviewLength  int
}

// DefaultPolicy returns the default executor policy.
func DefaultPolicy() Policy {
	return Policy{
		FetchTool:      "crawl4ai",
		CrawlTool:      "crawl4ai",
		CodeTool:       "python_sandbox",
		CodeAuthorTool: "code_generator",
		DedupThreshold: 0.85,
		RevisitCeiling: 2,
		RepairAttempts: 2,
		ToolTimeout:    90 * time.Second,
		LargePayload:   2000,
		PreviewLength:  500,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.FetchTool == "" {
		p.FetchTool = d.FetchTool
	}
	if p.CrawlTool == "" {
		p.CrawlTool = d.CrawlTool
	}
	if p.CodeTool == "" {
		p.CodeTool = d.CodeTool
	}
	if p.CodeAuthorTool == "" {
		p.CodeAuthorTool = d.CodeAuthorTool
	}
	if p.DedupThreshold <= 0 || p.DedupThreshold > 1 {
		p.DedupThreshold = d.DedupThreshold
	}
	if p.RevisitCeiling <= 0 {
		p.RevisitCeiling = d.RevisitCeiling
	}
	if p.RepairAttempts <= 0 {
		p.RepairAttempts = d.RepairAttempts
	}
	if p.ToolTimeout <= 0 {
		p.ToolTimeout = d.ToolTimeout
	}
	if p.LargePayload <= 0 {
		p.LargePayload = d.LargePayload
	}
	if p.PreviewLength <= 0 {
		p.PreviewLength = d.PreviewLength
	}
	return p
}

// Call is one tool invocation requested by the planner.
type Call struct {
	ToolName   string             `json:"tool_name"`
	Parameters map[string]any     `json:"parameters"`
	Thought    string             `json:"thought,omitempty"`
	Mode       model.ResearchMode `json:"mode,omitempty"`
}

// Outcome is the recorded result of a Call.
type Outcome struct {
	StepIndex   int            `json:"step_index"`
	Observation string         `json:"observation"`
	Sources     []model.Source `json:"sources,omitempty"`
	Success     bool           `json:"success"`
	Kind        OutputKind     `json:"kind"`
	// Err is set on infrastructure failures and guard rejections; match
	// with errors.Is against the package sentinels.
	Err error `json:"-"`
}

// run is the in-flight state of one call before it is recorded.
type run struct {
	params      map[string]any
	success     bool
	observation string
	sources     []model.Source
	kind        OutputKind
	cached      string
	contentType model.ContentType
	finalCode   string
	err         error
}

func failedRun(observation string, err error) run {
	return run{observation: observation, err: err}
}

// Executor runs research tool calls and records them in the StateStore.
// Calls are serialized.
type Executor struct {
	mu        sync.Mutex
	state     *storage.StateStore
	registry  *Registry
	provider  llm.Provider
	knowledge Retriever
	events    events.Publisher
	log       *zap.Logger
	policy    Policy
}

// NewExecutor creates an executor. provider may be nil when neither code
// repair nor delegation is needed.
func NewExecutor(state *storage.StateStore, registry *Registry, provider llm.Provider) *Executor {
	return &Executor{
		state:     state,
		registry:  registry,
		provider:  provider,
		knowledge: NopRetriever{},
		events:    events.Nop{},
		log:       zap.NewNop(),
		policy:    DefaultPolicy(),
	}
}

// WithRetriever sets the knowledge source used for delegation.
func (e *Executor) WithRetriever(r Retriever) *Executor {
	if r != nil {
		e.knowledge = r
	}
	return e
}

// WithPublisher sets the event sink.
func (e *Executor) WithPublisher(p events.Publisher) *Executor {
	if p != nil {
		e.events = p
	}
	return e
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(l *zap.Logger) *Executor {
	if l != nil {
		e.log = l
	}
	return e
}

// WithPolicy replaces the policy; zero fields take defaults.
func (e *Executor) WithPolicy(p Policy) *Executor {
	e.policy = p.withDefaults()
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Registry returns the tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one call and records exactly one step for it.
func (e *Executor) Execute(ctx context.Context, call Call) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if call.Parameters == nil {
		call.Parameters = map[string]any{}
	}
	hints := Hints{
		RunID:     e.state.Run().ID,
		StepIndex: e.state.NextStepIndex(),
		Mode:      call.Mode,
		Thought:   call.Thought,
	}

	var r run
	switch {
	case ctx.Err() != nil:
		err := fmt.Errorf("step cancelled: %w", ctx.Err())
		r = failedRun(err.Error(), err)
	case call.ToolName == e.policy.CodeAuthorTool && e.registry.Has(e.policy.CodeTool):
		r = e.delegate(ctx, call, hints)
	case call.ToolName == e.policy.CodeAuthorTool:
		r = e.unknownTool(call.ToolName)
	default:
		r = e.runTool(ctx, call, hints)
	}
	return e.record(ctx, call, r)
}

func (e *Executor) unknownTool(name string) run {
	return failedRun(fmt.Sprintf("Unknown tool '%s'. Available tools: %s.",
		name, strings.Join(e.availableTools(), ", ")), fmt.Errorf("%w: %s", ErrUnknownTool, name))
}

func (e *Executor) availableTools() []string {
	names := e.registry.Names()
	if e.registry.Has(e.policy.CodeTool) && !e.registry.Has(e.policy.CodeAuthorTool) {
		names = append(names, e.policy.CodeAuthorTool)
	}
	return names
}

// runTool is the pipeline for a registered tool.
func (e *Executor) runTool(ctx context.Context, call Call, hints Hints) run {
	tool, ok := e.registry.Get(call.ToolName)
	if !ok {
		return e.unknownTool(call.ToolName)
	}
	name := call.ToolName
	params := copyParams(call.Parameters)

	if name == e.policy.FetchTool {
		if u := resourceURL(params); u != "" {
			d := e.checkResource(u, hints.StepIndex)
			if d.action == dedupReject {
				e.log.Info("duplicate resource rejected",
					zap.String("url", u), zap.String("match", d.match.URL), zap.Float64("similarity", d.similarity))
				r := failedRun(e.duplicateObservation(u, d), fmt.Errorf("%w: %s", ErrDuplicateResource, d.match.URL))
				r.params = params
				return r
			}
		}
	}

	var finalCode string
	if name == e.policy.CodeTool {
		code, _ := stringParam(params, "code")
		if strings.TrimSpace(code) == "" {
			r := failedRun("The 'code' parameter is required and must contain Python source.", nil)
			r.params = params
			return r
		}
		pf, err := e.preflight(ctx, code)
		if err != nil {
			r := failedRun(fmt.Sprintf("Code was not executed: %v. Assign concrete values to every variable and resubmit.", err), err)
			r.params = params
			return r
		}
		for _, note := range pf.notes {
			e.log.Debug("code preflight", zap.String("note", note))
		}
		params["code"] = pf.code
		finalCode = pf.code
	}

	res, err := e.invoke(ctx, tool, params, hints)
	if err != nil {
		e.log.Warn("tool invocation failed", zap.String("tool", name), zap.Error(err))
		r := failedRun(fmt.Sprintf("Tool '%s' failed: %v", name, err), err)
		r.params = params
		r.finalCode = finalCode
		return r
	}

	if name == e.policy.CrawlTool && !res.Success && isMissingParamError(res.Output) {
		if fixed, changes, ok := fixCrawlerParams(params); ok {
			e.log.Info("retrying crawler with fixed parameters", zap.Strings("changes", changes))
			retry, rerr := e.invoke(ctx, tool, fixed, hints)
			if rerr == nil && retry.Success {
				res = retry
				params = fixed
			}
		}
	}

	r := run{params: params, sources: res.Sources, finalCode: finalCode}
	if !res.Success {
		obs := res.Output
		if strings.TrimSpace(obs) == "" {
			obs = fmt.Sprintf("Tool '%s' returned no output.", name)
		}
		if name == e.policy.CodeTool {
			if d, ok := Diagnose(obs); ok {
				obs += "\n\n" + d.String()
			}
		}
		r.observation = obs
		return r
	}

	r.success = true
	r.contentType = contentTypeFor(name, res.Output, e.policy)
	if name == e.policy.CodeTool {
		c := ClassifyOutput(res.Output)
		r.kind = c.Kind
		r.observation, r.cached = e.renderCodeOutput(c, hints.StepIndex)
		if c.Kind == OutputImage || c.Kind == OutputFile {
			r.contentType = model.ContentText
		}
	} else {
		r.observation = res.Output
		r.cached = res.Output
	}
	return r
}

// invoke calls the tool under the per-call deadline. An empty output is
// normalized to failure.
func (e *Executor) invoke(ctx context.Context, tool Tool, params map[string]any, hints Hints) (res Result, err error) {
	callCtx, cancel := context.WithTimeout(ctx, e.policy.ToolTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			res, err = Result{}, fmt.Errorf("tool panicked: %v", p)
		}
	}()

	res, err = tool.Invoke(callCtx, params, hints)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Result{}, fmt.Errorf("%w after %s", ErrToolTimeout, e.policy.ToolTimeout)
	}
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(res.Output) == "" {
		res.Success = false
	}
	return res, nil
}

// record is the single place a call becomes a step. The step is persisted
// even when ctx is already done.
func (e *Executor) record(ctx context.Context, call Call, r run) Outcome {
	ctx = context.WithoutCancel(ctx)
	params := r.params
	if params == nil {
		params = copyParams(call.Parameters)
	}
	step := model.Step{
		Action: model.Action{
			ToolName:   call.ToolName,
			Parameters: params,
			Thought:    call.Thought,
		},
		Observation: r.observation,
		Success:     r.success,
	}
	if r.success {
		step.KeyFinding = keyFinding(r.observation)
	}

	prior := e.state.Steps()
	idx := e.state.AppendStep(ctx, step)

	update := storage.MetricsUpdate{ToolCalls: map[string]int{call.ToolName: 1}}
	sources := r.sources
	if r.success {
		update.InformationGain = []float64{InformationGain(r.observation, prior)}
		e.state.StoreArtifact(ctx, idx, r.cached, storage.ArtifactMetadata{
			ToolName:    call.ToolName,
			ContentType: r.contentType,
			DataType:    r.kind.String(),
		}, r.sources)
		if entry, ok := e.state.Artifact(idx); ok {
			sources = entry.Metadata.Sources
		}
	} else {
		update.ToolFailures = map[string]int{call.ToolName: 1}
	}
	e.state.UpdateMetrics(update)

	e.publish(events.ToolExecuted, map[string]any{
		"step_index": idx,
		"tool":       call.ToolName,
		"success":    r.success,
		"kind":       r.kind.String(),
		"sources":    len(sources),
	})
	e.log.Info("tool executed",
		zap.String("tool", call.ToolName),
		zap.Int("step", idx),
		zap.Bool("success", r.success),
		zap.String("kind", r.kind.String()),
	)

	return Outcome{
		StepIndex:   idx,
		Observation: r.observation,
		Sources:     sources,
		Success:     r.success,
		Kind:        r.kind,
		Err:         r.err,
	}
}

func (e *Executor) publish(name events.Name, data map[string]any) {
	e.events.Publish(name, events.Payload{
		RunID:     e.state.Run().ID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func contentTypeFor(tool, output string, p Policy) model.ContentType {
	switch {
	case jsonutil.LooksLikeJSON(output):
		return model.ContentStructured
	case tool == p.FetchTool || tool == p.CrawlTool:
		return model.ContentWebpage
	default:
		return model.ContentText
	}
}

// keyFinding is the first sentence of an observation, bounded.
func keyFinding(observation string) string {
	text := strings.TrimSpace(observation)
	if i := strings.IndexByte(text, '\n'); i > 0 {
		text = text[:i]
	}
	if i := strings.Index(text, ". "); i > 0 {
		text = text[:i+1]
	}
	return textutil.Truncate(strings.TrimSpace(text), 200)
}
