// Code Preflight and Repair.
//
// Information Hiding:
// - Empty-assignment and placeholder detection hidden
// - Repair loop state (attempts, last error, terminal state) hidden
// - Import injection table hidden

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/deepresearch/internal/json"
	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

// LastObservationPlaceholder is replaced in submitted code with the
// previous step's observation as a string literal.
const LastObservationPlaceholder = "{{LAST_OBSERVATION}}"

var emptyAssignmentPattern = regexp.MustCompile(`(?m)^[ \t]*[A-Za-z_][A-Za-z0-9_]*(?:[ \t]*,[ \t]*[A-Za-z_][A-Za-z0-9_]*)*[ \t]*=[ \t]*(?:#.*)?$`)

var ellipsisPattern = regexp.MustCompile(`\.\.\.|\bEllipsis\b`)

type importRule struct {
	usage   *regexp.Regexp
	present *regexp.Regexp
	stmt    string
}

var importRules = []importRule{
	{
		usage:   regexp.MustCompile(`\bpd\.`),
		present: regexp.MustCompile(`(?m)^[ \t]*(import[ \t]+pandas\b|from[ \t]+pandas\b)`),
		stmt:    "import pandas as pd",
	},
	{
		usage:   regexp.MustCompile(`\bnp\.`),
		present: regexp.MustCompile(`(?m)^[ \t]*(import[ \t]+numpy\b|from[ \t]+numpy\b)`),
		stmt:    "import numpy as np",
	},
	{
		usage:   regexp.MustCompile(`\bplt\.`),
		present: regexp.MustCompile(`(?m)^[ \t]*(import[ \t]+matplotlib\.pyplot\b|from[ \t]+matplotlib[ \t]+import[ \t]+pyplot\b)`),
		stmt:    "import matplotlib.pyplot as plt",
	},
	{
		usage:   regexp.MustCompile(`\bjson\.(dumps|loads|dump|load)\(`),
		present: regexp.MustCompile(`(?m)^[ \t]*(import[ \t]+json\b|from[ \t]+json\b)`),
		stmt:    "import json",
	},
}

// FindEmptyAssignments returns the lines that assign nothing, like "x =".
func FindEmptyAssignments(code string) []string {
	matches := emptyAssignmentPattern.FindAllString(code, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m))
	}
	return out
}

// InjectImports prepends mandatory imports the code uses but never imports.
func InjectImports(code string) (string, []string) {
	var added []string
	for _, rule := range importRules {
		if rule.usage.MatchString(code) && !rule.present.MatchString(code) {
			added = append(added, rule.stmt)
		}
	}
	if len(added) == 0 {
		return code, nil
	}
	return strings.Join(added, "\n") + "\n" + code, added
}

// SubstituteLastObservation replaces the reserved placeholder with obs as a
// double-quoted literal. Quotes already around the placeholder are absorbed.
func SubstituteLastObservation(code, obs string) string {
	if !strings.Contains(code, LastObservationPlaceholder) {
		return code
	}
	lit := pythonLiteral(obs)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		code = strings.ReplaceAll(code, q+LastObservationPlaceholder+q, lit)
	}
	return strings.ReplaceAll(code, LastObservationPlaceholder, lit)
}

// pythonLiteral quotes s; JSON string escapes are valid Python escapes.
func pythonLiteral(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimRight(buf.String(), "\n")
}

func validateRepair(code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("repair returned no code")
	}
	if lines := FindEmptyAssignments(code); len(lines) > 0 {
		return fmt.Errorf("repair still has empty assignments: %s", strings.Join(lines, "; "))
	}
	if ellipsisPattern.MatchString(code) {
		return errors.New("repair contains ellipsis placeholders")
	}
	return nil
}

type repairState int

const (
	repairRunning repairState = iota
	repairSucceeded
	repairExhausted
)

// repairMachine bounds the repair loop.
type repairMachine struct {
	max      int
	attempts int
	state    repairState
	lastErr  error
	code     string
}

func newRepairMachine(max int) *repairMachine {
	if max < 1 {
		max = 1
	}
	return &repairMachine{max: max}
}

func (m *repairMachine) next() bool {
	return m.state == repairRunning && m.attempts < m.max
}

func (m *repairMachine) begin() int {
	m.attempts++
	return m.attempts
}

func (m *repairMachine) fail(err error) {
	m.lastErr = err
	if m.attempts >= m.max {
		m.state = repairExhausted
	}
}

func (m *repairMachine) succeed(code string) {
	m.code = code
	m.lastErr = nil
	m.state = repairSucceeded
}

func (m *repairMachine) err() error {
	if m.state == repairSucceeded {
		return nil
	}
	if m.lastErr == nil {
		return ErrRepairExhausted
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRepairExhausted, m.attempts, m.lastErr)
}

type preflightResult struct {
	code  string
	notes []string
}

// preflight prepares code for execution. An error means the code must not
// run; it wraps ErrRepairExhausted.
func (e *Executor) preflight(ctx context.Context, code string) (preflightResult, error) {
	res := preflightResult{code: code}

	if broken := FindEmptyAssignments(code); len(broken) > 0 {
		e.log.Info("code has empty assignments, requesting repair", zap.Strings("lines", broken))
		repaired, err := e.repairCode(ctx, code, broken)
		if err != nil {
			return res, err
		}
		res.code = repaired
		res.notes = append(res.notes, fmt.Sprintf("repaired %d empty assignment(s)", len(broken)))
	}

	if injected, added := InjectImports(res.code); len(added) > 0 {
		res.code = injected
		res.notes = append(res.notes, "added imports: "+strings.Join(added, ", "))
	}

	if strings.Contains(res.code, LastObservationPlaceholder) {
		last := ""
		if st, ok := e.state.LastStep(); ok {
			last = st.Observation
		}
		res.code = SubstituteLastObservation(res.code, last)
		res.notes = append(res.notes, "substituted last observation")
	}
	return res, nil
}

const repairSystemPrompt = `You repair Python data-analysis code before it runs in a sandbox.
Every variable that is assigned nothing must receive concrete values taken from the research context.
Never use "...", Ellipsis or placeholder comments. Keep the rest of the program unchanged.
Return only the complete corrected program in a single python code block.`

func (e *Executor) repairCode(ctx context.Context, code string, broken []string) (string, error) {
	if e.provider == nil {
		return "", fmt.Errorf("%w: no model configured", ErrRepairExhausted)
	}

	m := newRepairMachine(1 + e.policy.RepairAttempts)
	for m.next() {
		attempt := m.begin()
		resp, err := e.provider.Complete(ctx, llm.Request{
			Messages: []llm.ChatMessage{
				llm.SystemMessage(repairSystemPrompt),
				llm.UserMessage(e.repairPrompt(code, broken, m.lastErr)),
			},
			Temperature: llm.Temperature(0.1),
		})
		e.recordUsage(resp.Usage)
		if err != nil {
			e.log.Warn("repair request failed", zap.Int("attempt", attempt), zap.Error(err))
			m.fail(err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		candidate := jsonutil.ExtractCodeBlock(resp.Content())
		if err := validateRepair(candidate); err != nil {
			e.log.Warn("rejected code repair", zap.Int("attempt", attempt), zap.Error(err))
			m.fail(err)
			continue
		}
		m.succeed(candidate)
	}

	if err := m.err(); err != nil {
		return "", err
	}
	return m.code, nil
}

func (e *Executor) repairPrompt(code string, broken []string, lastErr error) string {
	var b strings.Builder
	b.WriteString("Empty assignments found:\n")
	for _, line := range broken {
		fmt.Fprintf(&b, "- `%s`\n", line)
	}
	if lastErr != nil {
		fmt.Fprintf(&b, "\nYour previous repair was rejected: %v\n", lastErr)
	}

	b.WriteString("\nResearch context:\n")
	b.WriteString(e.researchContext())

	b.WriteString("\n\nCode:\n```python\n")
	b.WriteString(code)
	b.WriteString("\n```\n")
	return b.String()
}

// researchContext summarizes the run for model prompts.
func (e *Executor) researchContext() string {
	var b strings.Builder
	if topic := e.state.Run().Topic; topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", topic)
	}
	steps := e.state.Steps()
	start := len(steps) - 3
	if start < 0 {
		start = 0
	}
	for i := start; i < len(steps); i++ {
		st := steps[i]
		if !st.Success {
			continue
		}
		fmt.Fprintf(&b, "[step_%d %s] %s\n", i+1, st.Action.ToolName, textutil.Truncate(st.Observation, 600))
	}
	if b.Len() == 0 {
		return "(no findings yet)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Executor) recordUsage(usage model.TokenUsage) {
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return
	}
	u := usage
	e.state.UpdateMetrics(storage.MetricsUpdate{Tokens: &u})
}
