// Tool Knowledge Retrieval.
//
// Information Hiding:
// - Knowledge file layout hidden
// - Paragraph ranking hidden

package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/richinex/deepresearch/internal/textutil"
)

// Query is a knowledge lookup request.
type Query struct {
	UserQuery string
}

// Retriever supplies reference material about how to use a tool.
type Retriever interface {
	Retrieve(ctx context.Context, toolName string, q Query) (string, error)
}

// NopRetriever knows nothing.
type NopRetriever struct{}

// Retrieve always returns an empty string.
func (NopRetriever) Retrieve(context.Context, string, Query) (string, error) {
	return "", nil
}

// DirRetriever reads <dir>/<tool>.md and returns the paragraphs most
// related to the query, in document order.
type DirRetriever struct {
	dir      string
	maxRunes int
}

// NewDirRetriever creates a retriever over a directory of markdown files.
func NewDirRetriever(dir string) *DirRetriever {
	return &DirRetriever{dir: dir, maxRunes: 4000}
}

// Retrieve returns knowledge for toolName. A missing file is not an error.
func (r *DirRetriever) Retrieve(ctx context.Context, toolName string, q Query) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.ContainsAny(toolName, `/\`) || toolName == "" {
		return "", fmt.Errorf("invalid tool name %q", toolName)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, toolName+".md"))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read knowledge for %s: %w", toolName, err)
	}
	return selectParagraphs(string(data), q.UserQuery, r.maxRunes), nil
}

func selectParagraphs(doc, query string, maxRunes int) string {
	doc = strings.TrimSpace(doc)
	if utf8.RuneCountInString(doc) <= maxRunes {
		return doc
	}

	paras := strings.Split(doc, "\n\n")
	keywords := textutil.Keywords(query)

	type ranked struct {
		idx   int
		score int
	}
	order := make([]ranked, len(paras))
	for i, p := range paras {
		score := 0
		for _, tok := range textutil.Tokenize(p) {
			if keywords[tok] {
				score++
			}
		}
		order[i] = ranked{idx: i, score: score}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].score > order[b].score })

	keep := make(map[int]bool)
	used := 0
	for _, r := range order {
		n := utf8.RuneCountInString(paras[r.idx])
		if used+n > maxRunes {
			continue
		}
		keep[r.idx] = true
		used += n
	}

	var out []string
	for i, p := range paras {
		if keep[i] {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

var (
	_ Retriever = NopRetriever{}
	_ Retriever = (*DirRetriever)(nil)
)
