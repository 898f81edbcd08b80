// Package textutil holds the string heuristics shared by the executor and
// the report pipeline: tokenization, edit distance and set overlap.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Levenshtein returns the edit distance between a and b, measured in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Keep rb as the shorter slice so the rows stay small.
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity is 1 - Levenshtein(a, b) / max(len(a), len(b)).
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(longest)
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Empty inputs score 0.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true,
	"that": true, "from": true, "are": true, "was": true, "were": true,
	"been": true, "have": true, "has": true, "had": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "might": true,
	"can": true, "not": true, "but": true, "all": true, "any": true,
	"how": true, "when": true, "where": true, "what": true, "which": true,
	"who": true, "whom": true, "why": true, "its": true, "into": true,
	"about": true, "their": true, "there": true, "these": true, "those": true,
	"than": true, "then": true, "them": true, "they": true, "does": true,
	"did": true, "our": true, "your": true, "you": true, "also": true,
	"such": true, "each": true, "between": true, "over": true, "some": true,
	"of": true, "in": true, "on": true, "to": true, "is": true, "a": true,
	"an": true, "as": true, "at": true, "by": true, "be": true, "or": true,
	"it": true, "do": true, "if": true, "we": true, "so": true, "no": true,
}

// IsStopword reports whether w is filtered out of keyword sets.
func IsStopword(w string) bool {
	return stopwords[strings.ToLower(w)]
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit. Stop words and single-character tokens are dropped, except
// for CJK characters which carry meaning on their own.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(words))
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		if utf8.RuneCountInString(w) < 2 {
			r, _ := utf8.DecodeRuneInString(w)
			if !unicode.Is(unicode.Han, r) {
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

// Keywords returns the distinct tokens of text.
func Keywords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range Tokenize(text) {
		set[w] = true
	}
	return set
}

// Truncate cuts s to at most n runes, appending "..." when it cuts.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
