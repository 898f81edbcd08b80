// Evidence Assembly.
//
// Information Hiding:
// - Strategy scoring (mode weights, size, content type, tool preference) hidden
// - Per-strategy rendering of cached artifacts hidden
// - Trivial observation filter hidden

package report

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

// Strategy is how one step's evidence is rendered into the prompt.
type Strategy string

const (
	StrategyFullOriginal    Strategy = "full_original"
	StrategyEnhancedSummary Strategy = "enhanced_summary"
	StrategyStructuredOnly  Strategy = "structured_only"
	StrategyHybrid          Strategy = "hybrid"
	StrategyPassthrough     Strategy = "passthrough"
)

// strategyOrder breaks score ties.
var strategyOrder = []Strategy{StrategyFullOriginal, StrategyEnhancedSummary, StrategyStructuredOnly, StrategyHybrid}

const (
	fullOriginalLimit = 15000
	rawBlockLimit     = 4000
	minObservation    = 10
	maxDataPoints     = 8
)

// trivialObservations mark steps that carry no evidence.
var trivialObservations = []string{
	"no results",
	"no result found",
	"no output",
	"returned no output",
	"(no cached content)",
	"not found",
	"n/a",
}

// EvidenceEntry is one rendered piece of evidence.
type EvidenceEntry struct {
	StepIndex      int      `json:"step_index"`
	Tool           string   `json:"tool"`
	Strategy       Strategy `json:"strategy"`
	OriginalLength int      `json:"original_length"`
	EnhancedLength int      `json:"enhanced_length"`
	Content        string   `json:"content"`
}

type evidenceAssembler struct {
	profile  config.ModeProfile
	modes    *config.Modes
	keywords map[string]bool
}

// assembleEvidence renders every non-trivial successful step, ordered by
// step index. artifacts is keyed by step index. A cached artifact whose
// content hash repeats an earlier one is left out.
func assembleEvidence(steps []model.Step, artifacts map[int]storage.CacheEntry, topic string, mode model.ResearchMode, modes *config.Modes) []EvidenceEntry {
	a := evidenceAssembler{
		profile:  modes.Profile(mode),
		modes:    modes,
		keywords: textutil.Keywords(topic),
	}

	var out []EvidenceEntry
	seen := make(map[string]bool)
	for i, st := range steps {
		idx := i + 1
		if !st.Success || isTrivial(st.Observation) {
			continue
		}
		entry, cached := artifacts[idx]
		if h := entry.Metadata.ContentHash; cached && h != "" {
			if seen[h] {
				continue
			}
			seen[h] = true
		}
		out = append(out, a.render(idx, st, entry, cached))
	}
	return out
}

func isTrivial(observation string) bool {
	text := strings.TrimSpace(observation)
	if utf8.RuneCountInString(text) < minObservation {
		return true
	}
	lower := strings.ToLower(text)
	for _, t := range trivialObservations {
		if lower == t || strings.TrimRight(lower, ".") == t {
			return true
		}
	}
	return false
}

func (a evidenceAssembler) render(idx int, st model.Step, entry storage.CacheEntry, cached bool) EvidenceEntry {
	ev := EvidenceEntry{StepIndex: idx, Tool: st.Action.ToolName}
	if !cached {
		ev.Strategy = StrategyPassthrough
		ev.Content = strings.TrimSpace(st.Observation)
		ev.OriginalLength = utf8.RuneCountInString(st.Observation)
		ev.EnhancedLength = utf8.RuneCountInString(ev.Content)
		return ev
	}

	ev.OriginalLength = entry.Metadata.OriginalLength
	ev.Strategy = chooseStrategy(entry, a.profile, a.modes.Preference(st.Action.ToolName))

	switch ev.Strategy {
	case StrategyFullOriginal:
		ev.Content = a.fullOriginal(entry, st)
	case StrategyStructuredOnly:
		ev.Content = a.structuredOnly(entry)
	case StrategyHybrid:
		ev.Content = a.hybrid(entry, st)
	default:
		ev.Content = a.enhancedSummary(entry, st)
	}
	ev.EnhancedLength = utf8.RuneCountInString(ev.Content)
	return ev
}

// chooseStrategy scores each strategy as mode weight × size factor ×
// content-type factor × tool preference.
func chooseStrategy(entry storage.CacheEntry, profile config.ModeProfile, pref config.ToolPreference) Strategy {
	size := entry.Metadata.OriginalLength
	ctype := entry.Metadata.ContentType

	best, bestScore := StrategyEnhancedSummary, -1.0
	for _, s := range strategyOrder {
		w, ok := profile.StrategyWeights[string(s)]
		if !ok {
			w = 0.25
		}
		score := w * sizeFactor(s, size) * typeFactor(s, ctype) * preferenceFactor(s, pref)
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

func sizeFactor(s Strategy, size int) float64 {
	switch s {
	case StrategyFullOriginal:
		switch {
		case size <= 3000:
			return 1.5
		case size <= fullOriginalLimit:
			return 1.0
		default:
			return 0.1
		}
	case StrategyEnhancedSummary:
		if size > 8000 {
			return 1.3
		}
	case StrategyHybrid:
		if size > 5000 {
			return 1.2
		}
		return 0.9
	}
	return 1.0
}

func typeFactor(s Strategy, ctype model.ContentType) float64 {
	switch ctype {
	case model.ContentStructured:
		switch s {
		case StrategyStructuredOnly:
			return 1.5
		case StrategyFullOriginal:
			return 1.1
		}
	case model.ContentWebpage:
		switch s {
		case StrategyHybrid:
			return 1.2
		case StrategyStructuredOnly:
			return 0.5
		}
	}
	return 1.0
}

func preferenceFactor(s Strategy, pref config.ToolPreference) float64 {
	for _, p := range pref.Avoid {
		if p == string(s) {
			return 0.2
		}
	}
	for _, p := range pref.Prefer {
		if p == string(s) {
			return 1.5
		}
	}
	return 1.0
}

func (a evidenceAssembler) fullOriginal(entry storage.CacheEntry, st model.Step) string {
	if utf8.RuneCountInString(entry.RawData) > fullOriginalLimit {
		return a.enhancedSummary(entry, st)
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(entry.RawData))
	if entry.Metadata.ContentType == model.ContentStructured {
		b.WriteString("\n\nFields:\n")
		b.WriteString(storage.SummarizeStructure(entry.RawData))
	}
	return b.String()
}

func (a evidenceAssembler) enhancedSummary(entry storage.CacheEntry, st model.Step) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(textutil.Truncate(st.Observation, 3000)))

	if points := ExtractDataPoints(entry.RawData, maxDataPoints); len(points) > 0 {
		b.WriteString("\n\nKey data points:\n")
		for _, p := range points {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	fmt.Fprintf(&b, "\nCompleteness: %s", completeness(entry))
	return strings.TrimRight(b.String(), "\n")
}

func (a evidenceAssembler) structuredOnly(entry storage.CacheEntry) string {
	var b strings.Builder
	if entry.Metadata.ContentType == model.ContentStructured {
		b.WriteString(storage.SummarizeStructure(entry.RawData))
		b.WriteString("\n\n```json\n")
	} else {
		b.WriteString(strings.TrimSpace(entry.ProcessedData))
		b.WriteString("\n\n```\n")
	}
	raw := strings.TrimSpace(entry.RawData)
	if utf8.RuneCountInString(raw) > rawBlockLimit {
		raw = storage.TruncateHeadTail(raw, 3000, 1000)
	}
	b.WriteString(raw)
	b.WriteString("\n```")
	return b.String()
}

func (a evidenceAssembler) hybrid(entry storage.CacheEntry, st model.Step) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(textutil.Truncate(st.Observation, 1000)))
	sections := keySections(entry.RawData, a.keywords, 2, 1500)
	for i, sec := range sections {
		fmt.Fprintf(&b, "\n\nKey section %d:\n%s", i+1, sec)
	}
	return b.String()
}

// completeness rates how much of the raw artifact survived processing.
func completeness(entry storage.CacheEntry) string {
	if entry.Metadata.OriginalLength == 0 {
		return "unknown"
	}
	ratio := float64(entry.Metadata.ProcessedLength) / float64(entry.Metadata.OriginalLength)
	switch {
	case ratio >= 0.9:
		return "high"
	case ratio >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
