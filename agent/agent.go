// Package agent is the driver-facing facade of a research run.
//
// An external planner decides what to do next; the Researcher executes
// one tool step at a time and writes the final report.
//
// Information Hiding:
// - StateStore, executor and synthesizer wiring hidden
// - Panics and capability errors converted into structured results
// - Per-step token accounting hidden

package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/report"
	"github.com/richinex/deepresearch/storage"
	"github.com/richinex/deepresearch/tools"
)

// Researcher runs the steps of one research run and finalizes it.
type Researcher struct {
	cfg         Config
	state       *storage.StateStore
	executor    *tools.Executor
	synthesizer *report.Synthesizer
	modes       *config.Modes
	log         *zap.Logger
}

// RunID returns the active run identifier.
func (r *Researcher) RunID() string {
	return r.state.Run().ID
}

// Topic returns the active run topic.
func (r *Researcher) Topic() string {
	return r.state.Run().Topic
}

// State returns the run's state store.
func (r *Researcher) State() *storage.StateStore {
	return r.state
}

// Tools returns the registered tools' metadata in name order.
func (r *Researcher) Tools() []tools.ToolMetadata {
	return r.executor.Registry().List()
}

// StartRun discards all state and begins a new run.
func (r *Researcher) StartRun(ctx context.Context, runID, topic string) {
	r.state.ResetRun(ctx, runID, topic)
	r.cfg.RunID = runID
	r.cfg.Topic = topic
}

// ExecuteStep runs one tool call. An empty mode uses the run default.
func (r *Researcher) ExecuteStep(ctx context.Context, tool string, params map[string]any, mode model.ResearchMode) StepResponse {
	return r.Execute(ctx, tools.Call{ToolName: tool, Parameters: params, Mode: mode})
}

// Execute runs one tool call with its planner thought. It never panics and
// never returns an error: failures come back as ResponseFailure.
func (r *Researcher) Execute(ctx context.Context, call tools.Call) (resp StepResponse) {
	start := time.Now()
	before := r.state.Metrics().Tokens
	if call.Mode == "" {
		call.Mode = r.cfg.Mode
	}

	meta := func() Metadata {
		after := r.state.Metrics().Tokens
		return Metadata{
			ExecutionTimeMs: uint64(time.Since(start).Milliseconds()),
			RunID:           r.RunID(),
			TokenUsage: model.TokenUsage{
				PromptTokens:     after.PromptTokens - before.PromptTokens,
				CompletionTokens: after.CompletionTokens - before.CompletionTokens,
				TotalTokens:      after.TotalTokens - before.TotalTokens,
			},
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("step panicked", zap.String("tool", call.ToolName), zap.Any("panic", p))
			resp = newFailureResponse(call.ToolName, fmt.Sprintf("step failed: %v", p), meta())
		}
	}()

	out := r.executor.Execute(ctx, call)
	resp = newStepResponse(call.ToolName, out, meta())
	r.log.Debug("step finished",
		zap.Int("step", resp.StepIndex),
		zap.String("tool", call.ToolName),
		zap.Bool("success", resp.IsSuccess()))
	return resp
}

// Finalize writes the report for the run. It never fails; see
// report.Result.UsedFallback.
func (r *Researcher) Finalize(ctx context.Context, in FinalizeInput) (rep Report) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("finalize panicked", zap.Any("panic", p))
			rep = Report{
				Report:       fmt.Sprintf("# Research Report: %s\n\n> The report could not be generated.", r.Topic()),
				Metrics:      r.state.Metrics(),
				UsedFallback: true,
				LastError:    fmt.Sprintf("finalize failed: %v", p),
			}
		}
	}()

	mode := in.Mode
	if mode == "" {
		mode = r.cfg.Mode
	}
	topic := in.Topic
	if topic == "" {
		topic = r.Topic()
	}
	return r.synthesizer.Synthesize(ctx, report.Input{
		Topic:               topic,
		Plan:                in.Plan,
		Steps:               in.Steps,
		Sources:             in.Sources,
		Mode:                mode,
		OriginalInstruction: in.OriginalInstruction,
	})
}

// PlanCompletion scores the plan against the steps so far using the mode's
// threshold, and records it in the run metrics.
func (r *Researcher) PlanCompletion(plan []model.PlanStep, mode model.ResearchMode) float64 {
	if mode == "" {
		mode = r.cfg.Mode
	}
	score := report.PlanCompletion(plan, r.state.Steps(), r.modes.Profile(mode).CompletionThreshold)
	r.state.UpdateMetrics(storage.MetricsUpdate{PlanCompletion: &score})
	return score
}

// Context renders the cached artifacts for the planner's next decision.
func (r *Researcher) Context() string {
	return r.state.SummaryView()
}
