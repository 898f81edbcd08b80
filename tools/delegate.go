// Code Authoring Delegation.
//
// Information Hiding:
// - Specialist prompt layout hidden
// - Knowledge lookup is best-effort and hidden
// - Re-entry into the code tool pipeline hidden

package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/deepresearch/internal/json"
	"github.com/richinex/deepresearch/llm"
)

const delegateSystemPrompt = `You are an expert Python data analyst writing code for a sandbox without network access.
Hard-code every value you need from the data context. Print results to stdout.
For a chart, save it with matplotlib into a BytesIO buffer and print one JSON line:
{"type": "image", "title": "...", "image_base64": "..."}.
For a downloadable file print {"type": "file", "filename": "...", "mime_type": "...", "data": "<base64>"}.
For tabular results print JSON or a markdown table.
Return only the program in a single python code block.`

// delegate authors code for an objective and runs it through the code tool.
func (e *Executor) delegate(ctx context.Context, call Call, hints Hints) run {
	objective := firstStringParam(call.Parameters, "objective", "task", "prompt", "query")
	if objective == "" {
		objective = call.Thought
	}
	if objective == "" {
		return failedRun(fmt.Sprintf("%s needs an 'objective' parameter describing the analysis to perform.", call.ToolName), nil)
	}
	if e.provider == nil {
		return failedRun("Code generation is unavailable: no model configured.", nil)
	}
	dataContext := firstStringParam(call.Parameters, "data_context", "data", "context")

	knowledge, err := e.knowledge.Retrieve(ctx, e.policy.CodeTool, Query{UserQuery: objective})
	if err != nil {
		e.log.Warn("knowledge retrieval failed", zap.String("tool", e.policy.CodeTool), zap.Error(err))
		knowledge = ""
	}

	resp, err := e.provider.Complete(ctx, llm.Request{
		Messages: []llm.ChatMessage{
			llm.SystemMessage(delegateSystemPrompt),
			llm.UserMessage(delegatePrompt(objective, dataContext, knowledge)),
		},
		Temperature: llm.Temperature(0.2),
	})
	e.recordUsage(resp.Usage)
	if err != nil {
		return failedRun("Code generation failed: "+err.Error(), err)
	}

	code := jsonutil.ExtractCodeBlock(resp.Content())
	if strings.TrimSpace(code) == "" {
		return failedRun("Code generation returned no code.", nil)
	}

	inner := e.runTool(ctx, Call{
		ToolName:   e.policy.CodeTool,
		Parameters: map[string]any{"code": code},
		Thought:    call.Thought,
		Mode:       call.Mode,
	}, hints)
	inner.params = copyParams(call.Parameters)
	inner.params["generated_code"] = firstNonEmpty(inner.finalCode, code)

	if inner.success && inner.kind == OutputText {
		inner.observation = "Expert code executed successfully. Output:\n" + inner.observation
	}
	return inner
}

func delegatePrompt(objective, dataContext, knowledge string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective:\n%s\n", objective)
	if dataContext != "" {
		fmt.Fprintf(&b, "\nData context:\n%s\n", dataContext)
	}
	if knowledge != "" {
		fmt.Fprintf(&b, "\nSandbox reference:\n%s\n", knowledge)
	}
	return b.String()
}
