// Resource Deduplication Guard.
//
// Information Hiding:
// - URL similarity metric hidden
// - Revisit accounting against the StateStore hidden

package tools

import (
	"fmt"
	"strings"

	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/storage"
)

type dedupAction int

const (
	dedupFresh dedupAction = iota
	dedupRevisit
	dedupReject
)

type dedupDecision struct {
	action     dedupAction
	match      storage.VisitedResource
	similarity float64
}

// URLSimilarity compares two URLs after normalization. When hosts match
// only the paths are compared; otherwise the whole normalized strings.
func URLSimilarity(a, b string) float64 {
	na, nb := storage.NormalizeURL(a), storage.NormalizeURL(b)
	if na == nb {
		return 1
	}
	ha, pa := storage.SplitNormalized(na)
	hb, pb := storage.SplitNormalized(nb)
	if ha == hb {
		return textutil.Similarity(pa, pb)
	}
	return textutil.Similarity(na, nb)
}

// checkResource decides whether rawURL may be fetched and records the
// visit when it may. Callers hold the executor lock.
func (e *Executor) checkResource(rawURL string, stepIndex int) dedupDecision {
	var best dedupDecision
	for _, v := range e.state.VisitedResources() {
		sim := URLSimilarity(rawURL, v.URL)
		if sim > best.similarity {
			best = dedupDecision{match: v, similarity: sim}
		}
	}

	if best.similarity >= e.policy.DedupThreshold {
		if best.match.VisitCount >= e.policy.RevisitCeiling {
			best.action = dedupReject
			return best
		}
		best.match = e.state.RecordVisit(best.match.URL, stepIndex)
		best.action = dedupRevisit
		return best
	}

	v := e.state.RecordVisit(rawURL, stepIndex)
	return dedupDecision{action: dedupFresh, match: v}
}

// maxHostSiblings caps the other same-host pages listed in a rejection.
const maxHostSiblings = 5

// duplicateObservation explains a rejection and shows what is already known.
func (e *Executor) duplicateObservation(rawURL string, d dedupDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Duplicate resource: %s matches already visited %s (similarity %.2f, visited %d times).\n",
		rawURL, d.match.URL, d.similarity, d.match.VisitCount)
	b.WriteString("Cached content preview:\n")
	b.WriteString(e.cachedPreview(d.match.OriginStepIndex))

	host, _ := storage.SplitNormalized(d.match.URL)
	var others []string
	for _, v := range e.state.VisitedOnHost(host) {
		if v.URL != d.match.URL && len(others) < maxHostSiblings {
			others = append(others, fmt.Sprintf("%s (step %d)", v.URL, v.OriginStepIndex))
		}
	}
	if len(others) > 0 {
		b.WriteString("\n\nAlso visited on this host: ")
		b.WriteString(strings.Join(others, ", "))
	}
	b.WriteString("\n\nDo not fetch this resource again. Use the cached data above or pivot to a different source.")
	return b.String()
}

func (e *Executor) cachedPreview(stepIndex int) string {
	if entry, ok := e.state.Artifact(stepIndex); ok {
		return textutil.Truncate(entry.ProcessedData, e.policy.PreviewLength)
	}
	if st, ok := e.state.Step(stepIndex); ok && st.Observation != "" {
		return textutil.Truncate(st.Observation, e.policy.PreviewLength)
	}
	return "(no cached content)"
}

// resourceURL finds the target URL of a fetch call, looking one level into
// nested parameter objects.
func resourceURL(params map[string]any) string {
	if u := firstStringParam(params, "url", "link", "uri"); u != "" {
		return u
	}
	for _, key := range nestedParamKeys {
		if nested, ok := params[key].(map[string]any); ok {
			if u := firstStringParam(nested, "url", "link", "uri"); u != "" {
				return u
			}
		}
	}
	return ""
}

// ReplayVisits rebuilds the visited set from the step history, for a store
// restored from persistence. Rejected duplicates are skipped.
func (e *Executor) ReplayVisits() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for i, st := range e.state.Steps() {
		if st.Action.ToolName != e.policy.FetchTool || strings.HasPrefix(st.Observation, "Duplicate resource:") {
			continue
		}
		if u := resourceURL(st.Action.Parameters); u != "" {
			e.checkResource(u, i+1)
			n++
		}
	}
	return n
}
