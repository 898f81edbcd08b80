package report

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/richinex/deepresearch/internal/textutil"
)

var (
	quantityPattern = regexp.MustCompile(`(?i)([$€£¥]\s?\d[\d,.]*(\s?(trillion|billion|million|bn|mn|k))?|\d[\d,.]*\s?(%|percent|trillion|billion|million|bn|gw|mw|gwh|twh|kwh|tonnes|tons|units|users|customers|employees|亿|万))`)
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	superlative     = regexp.MustCompile(`(?i)(\b(largest|biggest|highest|lowest|smallest|fastest|slowest|strongest|weakest|cheapest|greatest|oldest|newest|earliest|latest|most|least|first|record|all-time)\b|最|首次|第一)`)
	sentenceSplit   = regexp.MustCompile(`(?:[.!?。！？]\s+|\n+)`)
)

// ExtractDataPoints returns up to limit sentences that carry a quantity, a
// year or a superlative, in order of appearance.
func ExtractDataPoints(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var points []string
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimRight(strings.TrimSpace(strings.Trim(sentence, "-*• \t")), ".。")
		if utf8.RuneCountInString(sentence) < 8 {
			continue
		}
		if !isDataPoint(sentence) {
			continue
		}
		sentence = textutil.Truncate(sentence, 200)
		if seen[sentence] {
			continue
		}
		seen[sentence] = true
		points = append(points, sentence)
		if len(points) == limit {
			break
		}
	}
	return points
}

func isDataPoint(sentence string) bool {
	return quantityPattern.MatchString(sentence) ||
		yearPattern.MatchString(sentence) ||
		superlative.MatchString(sentence)
}

// keySections returns up to n paragraphs of text with the highest density
// of keywords, kept in document order. Paragraphs with no hits are skipped.
func keySections(text string, keywords map[string]bool, n, maxRunes int) []string {
	if len(keywords) == 0 || n <= 0 {
		return nil
	}
	paras := splitParagraphs(text)

	type scored struct {
		idx     int
		density float64
	}
	var candidates []scored
	for i, p := range paras {
		toks := textutil.Tokenize(p)
		if len(toks) == 0 {
			continue
		}
		hits := 0
		for _, tok := range toks {
			if keywords[tok] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		candidates = append(candidates, scored{idx: i, density: float64(hits) / float64(len(toks))})
	}

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].density > candidates[b].density })
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	keep := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		keep[c.idx] = true
	}

	var out []string
	for i, p := range paras {
		if keep[i] {
			out = append(out, textutil.Truncate(p, maxRunes))
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mentionedYears returns the distinct four-digit years in text.
func mentionedYears(text string) []int {
	var years []int
	seen := make(map[int]bool)
	for _, m := range yearPattern.FindAllString(text, -1) {
		y := 0
		for _, r := range m {
			y = y*10 + int(r-'0')
		}
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	return years
}
