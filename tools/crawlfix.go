// Crawler Parameter Auto-Fix.
//
// Information Hiding:
// - Missing-parameter detection patterns hidden
// - Mode alias table and nesting layouts hidden

package tools

import (
	"regexp"
	"sort"
	"strings"
)

var nestedParamKeys = []string{"parameters", "params", "arguments", "input"}

var missingParamPattern = regexp.MustCompile(`(?i)(missing\s+(required\s+)?(parameter|argument|field|key)|required\s+(parameter|argument|field)|field\s+required|is\s+required)`)

var crawlModeAliases = map[string]string{
	"crawl":       "deep_crawl",
	"deepcrawl":   "deep_crawl",
	"deep-crawl":  "deep_crawl",
	"fetch":       "scrape",
	"get":         "scrape",
	"read":        "scrape",
	"scrape_page": "scrape",
	"scrape":      "scrape",
	"batch":       "batch_crawl",
}

func isMissingParamError(output string) bool {
	return missingParamPattern.MatchString(output)
}

// fixCrawlerParams applies one structural correction to a crawler call.
// It reports the applied changes; ok is false when nothing changed.
func fixCrawlerParams(params map[string]any) (fixed map[string]any, changes []string, ok bool) {
	fixed = copyParams(params)

	for _, key := range nestedParamKeys {
		nested, isMap := fixed[key].(map[string]any)
		if !isMap {
			continue
		}
		delete(fixed, key)
		keys := make([]string, 0, len(nested))
		for k := range nested {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, exists := fixed[k]; !exists {
				fixed[k] = nested[k]
			}
		}
		changes = append(changes, "flattened nested '"+key+"' object")
		break
	}

	if mode, isStr := fixed["mode"].(string); isStr {
		norm := strings.ToLower(strings.TrimSpace(mode))
		if alias, known := crawlModeAliases[norm]; known && alias != mode {
			fixed["mode"] = alias
			changes = append(changes, "mode '"+mode+"' -> '"+alias+"'")
		}
	}

	if _, has := fixed["url"]; !has {
		switch v := fixed["urls"].(type) {
		case string:
			fixed["url"] = v
			delete(fixed, "urls")
			changes = append(changes, "'urls' -> 'url'")
		case []any:
			if len(v) == 1 {
				fixed["url"] = v[0]
				delete(fixed, "urls")
				changes = append(changes, "single-item 'urls' -> 'url'")
			}
		}
		if link, isStr := fixed["link"].(string); isStr {
			if _, has := fixed["url"]; !has {
				fixed["url"] = link
				delete(fixed, "link")
				changes = append(changes, "'link' -> 'url'")
			}
		}
	}

	return fixed, changes, len(changes) > 0
}
