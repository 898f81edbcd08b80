package report

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/deepresearch/model"
)

// citationPattern matches [1], [1, 2], [1，2], [1-3] and 【1】.
var citationPattern = regexp.MustCompile(`[\[【]\s*(\d+(?:\s*[-–,，、]\s*\d+)*)\s*[\]】]`)

var citationSeparator = regexp.MustCompile(`\s*[,，、]\s*`)

// CitedSource pairs a citation number with the source it resolves to.
type CitedSource struct {
	Number int          `json:"number"`
	Source model.Source `json:"source"`
}

// citationNumbers returns every number written inside a citation marker,
// in first-appearance order. A range contributes its two endpoints only.
func citationNumbers(body string) []int {
	var out []int
	seen := make(map[int]bool)
	add := func(n int) {
		if n > 0 && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, m := range citationPattern.FindAllStringSubmatch(body, -1) {
		for _, part := range citationSeparator.Split(m[1], -1) {
			lo, hi := splitRange(part)
			add(lo)
			add(hi)
		}
	}
	return out
}

func splitRange(part string) (lo, hi int) {
	part = strings.TrimSpace(part)
	sep := strings.IndexAny(part, "-–")
	if sep < 0 {
		n, _ := strconv.Atoi(part)
		return n, n
	}
	lo, _ = strconv.Atoi(strings.TrimSpace(part[:sep]))
	rest := strings.TrimLeft(part[sep:], "-–")
	hi, _ = strconv.Atoi(strings.TrimSpace(rest))
	return lo, hi
}

// resolveCitations maps cited numbers onto sources (1-based). Numbers with
// no source are logged and dropped.
func resolveCitations(body string, sources []model.Source, log *zap.Logger) []CitedSource {
	var out []CitedSource
	for _, n := range citationNumbers(body) {
		if n > len(sources) {
			log.Warn("citation out of range",
				zap.Int("number", n),
				zap.Int("sources", len(sources)))
			continue
		}
		src := sources[n-1]
		src.UsedInReport = true
		out = append(out, CitedSource{Number: n, Source: src})
	}
	return out
}
