package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// Diagnosis is advisory text attached to a failed code run.
type Diagnosis struct {
	Class   string
	Summary string
	Fix     string
}

// String formats the diagnosis for an observation.
func (d Diagnosis) String() string {
	return fmt.Sprintf("Diagnosis (%s): %s\nSuggested fix: %s", d.Class, d.Summary, d.Fix)
}

type diagnosisRule struct {
	class   string
	pattern *regexp.Regexp
	build   func(m []string) (summary, fix string)
}

// Order matters: indentation errors are also syntax errors.
var diagnosisRules = []diagnosisRule{
	{
		class:   "indentation",
		pattern: regexp.MustCompile(`(IndentationError|TabError):\s*([^\n]*)`),
		build: func(m []string) (string, string) {
			return "indentation error: " + m[2],
				"Indent with four spaces consistently and never mix tabs and spaces."
		},
	},
	{
		class:   "syntax",
		pattern: regexp.MustCompile(`SyntaxError:\s*([^\n]*)`),
		build: func(m []string) (string, string) {
			return "syntax error: " + m[1],
				"Check brackets, quotes, colons and commas near the reported line and close every string."
		},
	},
	{
		class:   "missing_module",
		pattern: regexp.MustCompile(`(?:ModuleNotFoundError|ImportError):\s*No module named '([^']+)'`),
		build: func(m []string) (string, string) {
			return fmt.Sprintf("module '%s' is not installed in the sandbox", m[1]),
				"Rewrite the code with pandas, numpy, matplotlib or the standard library."
		},
	},
	{
		class:   "undefined_name",
		pattern: regexp.MustCompile(`NameError:\s*name '([^']+)' is not defined`),
		build: func(m []string) (string, string) {
			return fmt.Sprintf("'%s' is used before it is defined", m[1]),
				fmt.Sprintf("Assign '%s' concrete values (or import it) before first use.", m[1])
		},
	},
	{
		class:   "type_mismatch",
		pattern: regexp.MustCompile(`TypeError:\s*([^\n]*)`),
		build: func(m []string) (string, string) {
			return "type mismatch: " + m[1],
				"Convert values explicitly with float(), int() or str() and check for None before arithmetic."
		},
	},
}

// Diagnose classifies a failed code run's error output.
func Diagnose(output string) (Diagnosis, bool) {
	for _, rule := range diagnosisRules {
		m := rule.pattern.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		summary, fix := rule.build(m)
		return Diagnosis{Class: rule.class, Summary: strings.TrimSpace(summary), Fix: fix}, true
	}
	return Diagnosis{}, false
}
