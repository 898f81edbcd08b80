// Package tools provides the tool system and the research tool executor.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Transport of remote and MCP tools hidden in implementations
// - Registry implementation details hidden from consumers
// - Tool-level failures travel in Result, not as Go errors
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/richinex/deepresearch/model"
)

// Sentinel errors carried on Outcome.Err.
var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrDuplicateResource = errors.New("duplicate resource")
	ErrRepairExhausted   = errors.New("code repair exhausted")
	ErrToolTimeout       = errors.New("tool deadline exceeded")
)

// ToolParameter defines a parameter schema for a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolMetadata describes what a tool does and how to use it.
type ToolMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// String returns a string representation of the tool metadata.
func (m ToolMetadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// Result is what a tool reports back. An empty Output is treated as a
// failure by the executor regardless of Success.
type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Sources []model.Source `json:"sources,omitempty"`
}

// SuccessResult creates a successful tool result.
func SuccessResult(output string, sources ...model.Source) Result {
	return Result{Success: true, Output: output, Sources: sources}
}

// FailureResult creates a failed tool result.
func FailureResult(err error) Result {
	return Result{Output: err.Error()}
}

// FailureResultf creates a failed tool result with a formatted message.
func FailureResultf(format string, args ...any) Result {
	return Result{Output: fmt.Sprintf(format, args...)}
}

// Hints is the call context passed alongside parameters.
type Hints struct {
	RunID     string             `json:"run_id,omitempty"`
	StepIndex int                `json:"step_index"`
	Mode      model.ResearchMode `json:"mode,omitempty"`
	Thought   string             `json:"thought,omitempty"`
}

// Tool is the interface that all tools must implement.
//
// Information Hiding: Tool implementations hide their internal execution logic,
// transport and error handling strategies behind this interface. A returned
// error means the capability itself broke (transport down, process gone);
// a tool that ran and failed returns a Result with Success false.
type Tool interface {
	// Metadata returns tool metadata (name, description, parameters).
	Metadata() ToolMetadata

	// Invoke runs the tool with the given parameters.
	Invoke(ctx context.Context, params map[string]any, hints Hints) (Result, error)
}

// InvokeFunc adapts a function to the Tool contract.
type InvokeFunc func(ctx context.Context, params map[string]any, hints Hints) (Result, error)

// FuncTool is a Tool backed by a plain function.
type FuncTool struct {
	meta ToolMetadata
	fn   InvokeFunc
}

// NewFuncTool creates a tool from metadata and a function.
func NewFuncTool(meta ToolMetadata, fn InvokeFunc) *FuncTool {
	return &FuncTool{meta: meta, fn: fn}
}

// Metadata returns the tool metadata.
func (t *FuncTool) Metadata() ToolMetadata {
	return t.meta
}

// Invoke calls the wrapped function.
func (t *FuncTool) Invoke(ctx context.Context, params map[string]any, hints Hints) (Result, error) {
	if t.fn == nil {
		return FailureResultf("tool '%s' has no implementation", t.meta.Name), nil
	}
	return t.fn(ctx, params, hints)
}

var _ Tool = (*FuncTool)(nil)

// stringParam returns params[key] when it is a non-empty string.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// firstStringParam returns the first non-empty string among keys.
func firstStringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := stringParam(params, k); ok {
			return s
		}
	}
	return ""
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
