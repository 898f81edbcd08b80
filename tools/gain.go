package tools

import (
	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/model"
)

// InformationGain is the share of keywords in observation that no earlier
// successful step mentioned. An observation without keywords gains 0.
func InformationGain(observation string, prior []model.Step) float64 {
	current := textutil.Keywords(observation)
	if len(current) == 0 {
		return 0
	}
	seen := make(map[string]bool)
	for _, st := range prior {
		if !st.Success {
			continue
		}
		for w := range textutil.Keywords(st.Observation) {
			seen[w] = true
		}
	}
	fresh := 0
	for w := range current {
		if !seen[w] {
			fresh++
		}
	}
	return float64(fresh) / float64(len(current))
}
