package report

import (
	"strings"

	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/model"
)

const (
	windowSlack   = 1
	recentEntries = 3
)

// PlanCompletion returns the share of plan steps covered by the history,
// in [0, 1]. A plan step counts when either its keyword coverage within
// the aligned history window or its Jaccard similarity with one of the
// most recent entries reaches threshold. An empty plan scores 0.
func PlanCompletion(plan []model.PlanStep, history []model.Step, threshold float64) float64 {
	if len(plan) == 0 {
		return 0
	}

	entries := make([]map[string]bool, 0, len(history))
	for _, st := range history {
		if !st.Success {
			continue
		}
		entries = append(entries, textutil.Keywords(historyText(st)))
	}

	covered := 0
	for i, ps := range plan {
		question := textutil.Keywords(ps.Question)
		if len(question) == 0 || len(entries) == 0 {
			continue
		}
		if planStepScore(question, i, len(plan), entries) >= threshold {
			covered++
		}
	}

	ratio := float64(covered) / float64(len(plan))
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}

func planStepScore(question map[string]bool, i, planLen int, entries []map[string]bool) float64 {
	lo, hi := alignedWindow(i, planLen, len(entries))
	window := make(map[string]bool)
	for _, e := range entries[lo:hi] {
		for w := range e {
			window[w] = true
		}
	}
	hits := 0
	for w := range question {
		if window[w] {
			hits++
		}
	}
	best := float64(hits) / float64(len(question))

	start := len(entries) - recentEntries
	if start < 0 {
		start = 0
	}
	for _, e := range entries[start:] {
		if j := textutil.Jaccard(question, e); j > best {
			best = j
		}
	}
	return best
}

// alignedWindow maps plan step i onto the slice of history entries it
// most likely produced, widened by windowSlack on both sides.
func alignedWindow(i, planLen, historyLen int) (lo, hi int) {
	span := (historyLen + planLen - 1) / planLen
	lo = i*historyLen/planLen - windowSlack
	hi = i*historyLen/planLen + span + windowSlack
	if lo < 0 {
		lo = 0
	}
	if hi > historyLen {
		hi = historyLen
	}
	if lo >= hi {
		lo = hi - 1
		if lo < 0 {
			lo = 0
		}
	}
	return lo, hi
}

func historyText(st model.Step) string {
	var b strings.Builder
	b.WriteString(st.Action.Thought)
	b.WriteString(" ")
	b.WriteString(st.KeyFinding)
	b.WriteString(" ")
	b.WriteString(textutil.Truncate(st.Observation, 2000))
	return b.String()
}
