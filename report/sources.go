package report

import (
	"net/url"
	"strings"

	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

const (
	defaultMinSources = 6
	defaultMaxSources = 20
	minTitleOverlap   = 2
)

// authorityHosts are preferred when padding the source list.
var authorityHosts = []string{
	"wikipedia.org", "arxiv.org", "nature.com", "science.org", "ieee.org",
	"acm.org", "nih.gov", "who.int", "worldbank.org", "imf.org", "oecd.org",
	"reuters.com", "bloomberg.com", "ft.com", "economist.com", "iea.org",
	"github.com",
}

var authoritySuffixes = []string{".gov", ".edu", ".int", ".gov.cn", ".edu.cn", ".ac.uk"}

// numberedSource keeps a source's 1-based position in the run's index.
type numberedSource struct {
	Number int
	Source model.Source
}

type sourceFilter struct {
	sources  []model.Source
	min, max int

	picked []numberedSource
	seen   map[string]bool
	used   map[int]bool
}

// filterUsedSources selects the sources the report relies on: cited
// numbers first. Title keyword overlap and authority-first padding only
// run while fewer than min sources are cited. The result never exceeds max and is deduplicated by URL.
func filterUsedSources(body string, sources []model.Source, min, max int) []numberedSource {
	if min <= 0 {
		min = defaultMinSources
	}
	if max <= 0 {
		max = defaultMaxSources
	}
	if min > max {
		min = max
	}

	f := &sourceFilter{
		sources: sources,
		min:     min,
		max:     max,
		seen:    make(map[string]bool),
		used:    make(map[int]bool),
	}

	for _, n := range citationNumbers(body) {
		if n <= len(sources) {
			f.add(n)
		}
	}

	if len(f.picked) < f.min {
		bodyWords := textutil.Keywords(body)
		for i, src := range sources {
			if titleOverlap(src.Title, bodyWords) >= minTitleOverlap {
				f.add(i + 1)
			}
		}
	}

	if len(f.picked) < f.min {
		for i, src := range sources {
			if isAuthority(src.URL) && len(f.picked) < f.min {
				f.add(i + 1)
			}
		}
		for i := range sources {
			if len(f.picked) >= f.min {
				break
			}
			f.add(i + 1)
		}
	}
	return f.picked
}

func (f *sourceFilter) add(n int) {
	if len(f.picked) >= f.max || f.used[n] {
		return
	}
	src := f.sources[n-1]
	key := storage.NormalizeURL(src.URL)
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(src.Title))
	}
	if f.seen[key] {
		return
	}
	f.used[n] = true
	f.seen[key] = true
	src.UsedInReport = true
	f.picked = append(f.picked, numberedSource{Number: n, Source: src})
}

func titleOverlap(title string, bodyWords map[string]bool) int {
	hits := 0
	for w := range textutil.Keywords(title) {
		if bodyWords[w] {
			hits++
		}
	}
	return hits
}

func isAuthority(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, h := range authorityHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	for _, s := range authoritySuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

func plainSources(numbered []numberedSource) []model.Source {
	out := make([]model.Source, len(numbered))
	for i, ns := range numbered {
		out[i] = ns.Source
	}
	return out
}
