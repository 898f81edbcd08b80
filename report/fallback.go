package report

import (
	"fmt"
	"strings"

	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

const fallbackEntryRunes = 1500

// fallbackReport assembles a report from the evidence alone. Each finding
// cites the sources collected by its own step.
func fallbackReport(topic, instruction string, steps []model.Step, evidence []EvidenceEntry, sources []model.Source) string {
	byGroup := make(map[string][]int)
	for i, src := range sources {
		if src.OriginGroup != "" {
			byGroup[src.OriginGroup] = append(byGroup[src.OriginGroup], i+1)
		}
	}
	cite := func(step int) string {
		nums := byGroup[fmt.Sprintf("step_%d", step)]
		if len(nums) == 0 {
			return ""
		}
		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = fmt.Sprint(n)
		}
		return " [" + strings.Join(parts, ", ") + "]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", topic)
	b.WriteString("> The narrative report could not be generated. This report lists the collected evidence directly.\n\n")
	if instruction != "" {
		fmt.Fprintf(&b, "## Request\n\n%s\n\n", strings.TrimSpace(instruction))
	}

	b.WriteString("## Key Findings\n\n")
	findings := 0
	for _, ev := range evidence {
		if ev.StepIndex < 1 || ev.StepIndex > len(steps) {
			continue
		}
		finding := strings.TrimSpace(steps[ev.StepIndex-1].KeyFinding)
		if finding == "" {
			finding = textutil.Truncate(firstLine(ev.Content), 200)
		}
		fmt.Fprintf(&b, "- %s%s\n", finding, cite(ev.StepIndex))
		findings++
	}
	if findings == 0 {
		b.WriteString("- No usable evidence was collected.\n")
	}

	if len(evidence) > 0 {
		b.WriteString("\n## Evidence\n")
		for _, ev := range evidence {
			fmt.Fprintf(&b, "\n### Step %d: %s\n\n%s\n", ev.StepIndex, ev.Tool, textutil.Truncate(ev.Content, fallbackEntryRunes))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}

// collectSources gathers artifact sources in step order, deduplicated by
// normalized URL.
func collectSources(entries []storage.CacheEntry) []model.Source {
	seen := make(map[string]bool)
	var out []model.Source
	for _, e := range entries {
		for _, src := range e.Metadata.Sources {
			key := storage.NormalizeURL(src.URL)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, src)
		}
	}
	return out
}
