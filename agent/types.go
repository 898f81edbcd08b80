package agent

import (
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/report"
	"github.com/richinex/deepresearch/tools"
)

// ResponseType indicates the type of step response.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseFailure
)

// Metadata contains metadata about a step execution.
type Metadata struct {
	ExecutionTimeMs uint64           `json:"execution_time_ms"`
	RunID           string           `json:"run_id"`
	TokenUsage      model.TokenUsage `json:"token_usage"`
}

// StepResponse is the structured result of one research step.
type StepResponse struct {
	Type        ResponseType   `json:"type"`
	StepIndex   int            `json:"step_index"`
	Tool        string         `json:"tool"`
	Observation string         `json:"observation"`
	Sources     []model.Source `json:"sources,omitempty"`
	Kind        string         `json:"kind"`
	Error       string         `json:"error,omitempty"`
	Metadata    Metadata       `json:"metadata"`
}

func newStepResponse(tool string, out tools.Outcome, meta Metadata) StepResponse {
	r := StepResponse{
		Type:        ResponseSuccess,
		StepIndex:   out.StepIndex,
		Tool:        tool,
		Observation: out.Observation,
		Sources:     out.Sources,
		Kind:        out.Kind.String(),
		Metadata:    meta,
	}
	if !out.Success {
		r.Type = ResponseFailure
		r.Error = out.Observation
		if out.Err != nil {
			r.Error = out.Err.Error()
		}
	}
	return r
}

func newFailureResponse(tool, err string, meta Metadata) StepResponse {
	return StepResponse{
		Type:        ResponseFailure,
		Tool:        tool,
		Observation: err,
		Error:       err,
		Kind:        tools.OutputText.String(),
		Metadata:    meta,
	}
}

// IsSuccess reports whether the step succeeded.
func (r StepResponse) IsSuccess() bool {
	return r.Type == ResponseSuccess
}

// ResultText returns the observation (for success) or error (for failure).
func (r StepResponse) ResultText() string {
	if r.Type == ResponseFailure {
		return r.Error
	}
	return r.Observation
}

// FinalizeInput is what the planner hands over for the final report.
// Zero fields fall back to the run's topic, mode, step history and
// collected sources.
type FinalizeInput struct {
	Topic               string             `json:"topic,omitempty"`
	Plan                []model.PlanStep   `json:"plan,omitempty"`
	Steps               []model.Step       `json:"steps,omitempty"`
	Mode                model.ResearchMode `json:"mode,omitempty"`
	OriginalInstruction string             `json:"original_instruction,omitempty"`
	Sources             []model.Source     `json:"sources,omitempty"`
}

// Report is the final report with its provenance.
type Report = report.Result
