package report

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

// referenceHeading matches a model-written references heading on its own
// line, with or without markdown heading or bold markers.
var referenceHeading = regexp.MustCompile(`(?im)^[ \t]{0,3}(?:#{1,6}[ \t]*|\*\*)?[ \t]*(?:\d+\.[ \t]*)?(?:references|sources|bibliography|works cited|citations|reference list|参考文献|参考资料|引用来源|资料来源)[ \t]*(?:\*\*)?[ \t]*[:：]?[ \t]*(?:\*\*)?[ \t]*$`)

var imagePlaceholder = regexp.MustCompile(`\[IMAGE:([^\]\s]+)\]`)

// stripReferenceSection drops a hallucinated references section, from its
// heading to the end of the report.
func stripReferenceSection(body string) string {
	loc := referenceHeading.FindStringIndex(body)
	if loc == nil {
		return body
	}
	return strings.TrimRight(body[:loc[0]], " \t\n")
}

// ensureImagePlaceholders appends a Figures section holding every image
// the body does not already place.
func ensureImagePlaceholders(body string, images []storage.ImageAsset) string {
	var missing []string
	for _, img := range images {
		if !strings.Contains(body, img.Placeholder()) {
			missing = append(missing, img.Placeholder())
		}
	}
	if len(missing) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n\n## Figures\n")
	for _, p := range missing {
		b.WriteString("\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

// embedImages replaces placeholders with inline markdown images. Unknown
// placeholders are removed.
func embedImages(body string, images []storage.ImageAsset) string {
	byID := make(map[string]storage.ImageAsset, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}
	return imagePlaceholder.ReplaceAllStringFunc(body, func(m string) string {
		id := imagePlaceholder.FindStringSubmatch(m)[1]
		img, ok := byID[id]
		if !ok {
			return ""
		}
		mime := img.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return fmt.Sprintf("![%s](data:%s;base64,%s)", img.Title, mime, img.Data)
	})
}

// ReferenceStyle is the format of one reference entry.
type ReferenceStyle string

const (
	StyleGeneric  ReferenceStyle = "generic"
	StyleAcademic ReferenceStyle = "academic"
	StyleNews     ReferenceStyle = "news"
)

var academicHosts = []string{
	"arxiv.org", "doi.org", "nature.com", "science.org", "sciencedirect.com",
	"springer.com", "ieee.org", "acm.org", "pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov",
	"jstor.org", "researchgate.net", "ssrn.com", "semanticscholar.org", "cnki.net",
}

var newsHosts = []string{
	"reuters.com", "bloomberg.com", "ft.com", "apnews.com", "bbc.com", "bbc.co.uk",
	"nytimes.com", "wsj.com", "theguardian.com", "cnbc.com", "economist.com",
	"washingtonpost.com", "cnn.com", "xinhuanet.com", "scmp.com",
}

// datedPath matches news-style article paths such as /2024/03/ or /2024-03-15/.
var datedPath = regexp.MustCompile(`/(?:19|20)\d{2}[/-](?:0[1-9]|1[0-2])(?:[/-]|$)`)

// styleForSource picks a citation style from a source's domain and path.
func styleForSource(src model.Source) ReferenceStyle {
	host := hostOf(src.URL)
	if host == "" {
		return StyleGeneric
	}
	if hostIn(host, academicHosts) || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return StyleAcademic
	}
	if hostIn(host, newsHosts) || strings.HasPrefix(host, "news.") {
		return StyleNews
	}
	if u, err := url.Parse(src.URL); err == nil && datedPath.MatchString(u.Path) {
		return StyleNews
	}
	return StyleGeneric
}

func hostIn(host string, list []string) bool {
	for _, h := range list {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// formatReferences renders the reference list, each entry in the style its
// source calls for. Numbers are the sources' positions in the run's source
// index, so they match the body's markers.
func formatReferences(numbered []numberedSource) string {
	return formatSection("## References", numbered)
}

// formatCitedSection renders the citation-indexed section in first-appearance
// order.
func formatCitedSection(cited []CitedSource) string {
	numbered := make([]numberedSource, len(cited))
	for i, c := range cited {
		numbered[i] = numberedSource{Number: c.Number, Source: c.Source}
	}
	return formatSection("## Cited Sources", numbered)
}

func formatSection(heading string, numbered []numberedSource) string {
	if len(numbered) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n\n")
	for _, ns := range numbered {
		b.WriteString(formatReference(ns.Number, ns.Source, styleForSource(ns.Source)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatReference(n int, src model.Source, style ReferenceStyle) string {
	title := strings.TrimSpace(src.Title)
	if title == "" {
		title = src.URL
	}
	switch style {
	case StyleAcademic:
		accessed := ""
		if !src.CollectedAt.IsZero() {
			accessed = fmt.Sprintf(" (accessed %s)", src.CollectedAt.Format(time.DateOnly))
		}
		return fmt.Sprintf("[%d] %s. Available at: %s%s.", n, title, src.URL, accessed)
	case StyleNews:
		if host := hostOf(src.URL); host != "" {
			return fmt.Sprintf("[%d] %s - %s (%s)", n, title, host, src.URL)
		}
		return fmt.Sprintf("[%d] %s (%s)", n, title, src.URL)
	default:
		return fmt.Sprintf("[%d] %s (%s)", n, title, src.URL)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
