// Command execution for CLI commands.
//
// Each invocation restores the run from the SQLite database, executes one
// action and exits, so an external planner can drive a run step by step.
//
// Information Hiding:
// - Environment, logger, event bus and metrics wiring hidden
// - Run restore and researcher construction hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/richinex/deepresearch/agent"
	"github.com/richinex/deepresearch/model"
)

// Options holds CLI execution options.
type Options struct {
	Provider    string
	Mode        string
	DBPath      string
	MCPConfig   string
	MetricsFile string
	Verbose     bool

	// Out receives command output. Nil means stdout.
	Out io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		Mode: string(model.ModeStandard),
	}
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// StartRun begins a new run on topic and prints its identifier.
func StartRun(ctx context.Context, topic, runID string, opts Options) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("topic must not be empty")
	}
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	if runID == "" {
		runID = uuid.NewString()
	}
	r, err := e.newResearcher(ctx, runID, topic)
	if err != nil {
		return err
	}
	fmt.Fprintln(opts.out(), r.RunID())
	return nil
}

// Step executes one tool call in a run and prints the step response as JSON.
// A failed step is reported in the response, not as an error.
func Step(ctx context.Context, runID, toolName, paramsJSON, thought string, opts Options) error {
	params, err := parseParams(paramsJSON)
	if err != nil {
		return err
	}

	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.restoreResearcher(ctx, runID)
	if err != nil {
		return err
	}

	resp := r.Execute(ctx, toolCall(toolName, params, thought, e.opts.Mode))
	return writeJSON(opts.out(), resp)
}

// Report finalizes a run and prints the report. With outPath the report is
// written there and a short summary is printed instead.
func Report(ctx context.Context, runID, planPath, instruction, outPath string, opts Options) error {
	var plan []model.PlanStep
	if planPath != "" {
		p, err := loadPlan(planPath)
		if err != nil {
			return err
		}
		plan = p
	}

	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.restoreResearcher(ctx, runID)
	if err != nil {
		return err
	}

	rep := r.Finalize(ctx, agent.FinalizeInput{
		Plan:                plan,
		Mode:                model.ResearchMode(e.opts.Mode),
		OriginalInstruction: instruction,
	})

	if outPath == "" {
		fmt.Fprintln(opts.out(), rep.Report)
		if opts.Verbose {
			printReportStats(os.Stderr, rep)
		}
		return nil
	}

	if err := os.WriteFile(outPath, []byte(rep.Report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(opts.out(), "Report written to %s\n", outPath)
	printReportStats(opts.out(), rep)
	return nil
}

// Context prints the cached artifact summary of a run.
func Context(ctx context.Context, runID string, opts Options) error {
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.restoreResearcher(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(opts.out(), r.Context())
	return nil
}

// ListRuns prints the persisted runs, newest first.
func ListRuns(ctx context.Context, opts Options) error {
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	runs, err := e.db.ListRuns(ctx)
	if err != nil {
		return err
	}
	w := opts.out()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %s  %s\n", run.ID, run.StartedAt.Format("2006-01-02 15:04"), run.Topic)
	}
	return nil
}

// DeleteRun removes a run and everything recorded for it.
func DeleteRun(ctx context.Context, runID string, opts Options) error {
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.db.DeleteRun(ctx, runID); err != nil {
		return err
	}
	fmt.Fprintf(opts.out(), "Deleted run %s\n", runID)
	return nil
}

// ListTools prints the tools discovered from the tool service and MCP servers.
func ListTools(ctx context.Context, verbose bool, opts Options) error {
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	toolList, err := e.loadTools(ctx)
	if err != nil {
		return err
	}

	w := opts.out()
	if len(toolList) == 0 {
		fmt.Fprintln(w, "No tools available. Set TOOL_SERVICE_URL or MCP_CONFIG.")
		return nil
	}

	fmt.Fprintln(w, "Available tools:")
	fmt.Fprintln(w)
	for _, t := range toolList {
		meta := t.Metadata()
		fmt.Fprintf(w, "  %s\n", meta.Name)
		fmt.Fprintf(w, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(w, "    Parameters:")
			for _, param := range meta.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(w, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

// ListModes prints the research modes and their report structure.
func ListModes(opts Options) error {
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	names := make([]string, 0, len(e.modes.Profiles))
	for name := range e.modes.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	w := opts.out()
	fmt.Fprintln(w, "Research modes:")
	fmt.Fprintln(w)
	for _, name := range names {
		p := e.modes.Profile(model.ResearchMode(name))
		fmt.Fprintf(w, "  %s (completion threshold %.2f)\n", name, p.CompletionThreshold)
		if p.Dynamic() {
			fmt.Fprintf(w, "    Sections: %s\n", strings.Join(p.Sections, ", "))
		}
	}
	return nil
}

// parseParams decodes the --params flag. Empty means no parameters.
func parseParams(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, fmt.Errorf("--params must be a JSON object")
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("failed to parse --params: %w", err)
	}
	return params, nil
}

// loadPlan reads a plan file: either a JSON array of steps or an object
// with a "plan" array. Bare strings are accepted as questions.
func loadPlan(path string) ([]model.PlanStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("plan %s is not valid JSON", path)
	}

	doc := gjson.ParseBytes(data)
	if doc.IsObject() {
		doc = doc.Get("plan")
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("plan %s must be an array of steps", path)
	}

	var plan []model.PlanStep
	doc.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			plan = append(plan, model.PlanStep{Question: item.String()})
			return true
		}
		q := item.Get("question").String()
		if q == "" {
			q = item.Get("sub_question").String()
		}
		if q != "" {
			plan = append(plan, model.PlanStep{Question: q, Status: item.Get("status").String()})
		}
		return true
	})
	return plan, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printReportStats(w io.Writer, rep agent.Report) {
	fmt.Fprintf(w, "\nReport:\n")
	fmt.Fprintf(w, "  Attempts: %d\n", rep.Attempts)
	if rep.UsedFallback {
		fmt.Fprintf(w, "  Fallback: yes (%s)\n", rep.LastError)
	}
	fmt.Fprintf(w, "  Sources: %d listed, %d cited\n", len(rep.FilteredSources), len(rep.CitedSources))
	fmt.Fprintf(w, "  Plan completion: %.0f%%\n", rep.PlanCompletion*100)
	if rep.Quality.Warning != "" {
		fmt.Fprintf(w, "  Warning: %s\n", rep.Quality.Warning)
	}

	tokens := rep.Metrics.Tokens
	fmt.Fprintf(w, "\nToken Usage:\n")
	fmt.Fprintf(w, "  Prompt tokens: %d\n", tokens.PromptTokens)
	fmt.Fprintf(w, "  Completion tokens: %d\n", tokens.CompletionTokens)
	fmt.Fprintf(w, "  Total tokens: %d\n", tokens.TotalTokens)
}
