// Artifact processing: derives the processed view from raw tool output.
//
// Information Hiding:
// - Structure summarization details hidden behind processArtifact
// - Size thresholds come from Options
package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"

	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/model"
)

const (
	maxSummaryFields = 40
	minExtractLines  = 3
)

// processArtifact returns the processed view of raw.
func processArtifact(raw string, contentType model.ContentType, opts Options) string {
	if contentType == model.ContentStructured && gjson.Valid(raw) {
		return SummarizeStructure(raw)
	}

	if utf8.RuneCountInString(raw) <= opts.ProcessThreshold {
		return raw
	}

	if extracted := extractStructures(raw); extracted != "" {
		limit := opts.HeadKeep + opts.TailKeep
		if utf8.RuneCountInString(extracted) > limit {
			return TruncateHeadTail(extracted, opts.HeadKeep, opts.TailKeep)
		}
		return extracted
	}
	return TruncateHeadTail(raw, opts.HeadKeep, opts.TailKeep)
}

// SummarizeStructure renders a compact field/type outline of a JSON document.
// Invalid JSON yields an empty string.
func SummarizeStructure(raw string) string {
	if !gjson.Valid(raw) {
		return ""
	}
	doc := gjson.Parse(raw)

	var b strings.Builder
	switch {
	case doc.IsObject():
		fields := countFields(doc)
		fmt.Fprintf(&b, "JSON object with %d fields:\n", fields)
		writeFields(&b, doc, "  ")
	case doc.IsArray():
		items := doc.Array()
		fmt.Fprintf(&b, "JSON array with %d items", len(items))
		if len(items) > 0 {
			fmt.Fprintf(&b, " of %s", describeValue(items[0]))
			if items[0].IsObject() {
				b.WriteString(":\n")
				writeFields(&b, items[0], "  ")
			}
		}
	default:
		fmt.Fprintf(&b, "JSON %s: %s", describeValue(doc), textutil.Truncate(doc.String(), 200))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeFields(b *strings.Builder, obj gjson.Result, indent string) {
	n := 0
	obj.ForEach(func(key, value gjson.Result) bool {
		if n == maxSummaryFields {
			fmt.Fprintf(b, "%s... (%d more fields)\n", indent, countFields(obj)-maxSummaryFields)
			return false
		}
		n++
		fmt.Fprintf(b, "%s- %s: %s", indent, key.String(), describeValue(value))
		if value.Type == gjson.String || value.Type == gjson.Number {
			fmt.Fprintf(b, " = %s", textutil.Truncate(value.String(), 60))
		}
		b.WriteString("\n")
		return true
	})
}

func countFields(obj gjson.Result) int {
	n := 0
	obj.ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n
}

func describeValue(v gjson.Result) string {
	switch {
	case v.IsObject():
		return fmt.Sprintf("object(%d fields)", countFields(v))
	case v.IsArray():
		return fmt.Sprintf("array(%d)", len(v.Array()))
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	default:
		return "null"
	}
}

// extractStructures keeps markdown tables, delimited rows and list items.
// It returns "" when too little structure is found.
func extractStructures(raw string) string {
	lines := strings.Split(raw, "\n")
	var kept []string
	for _, line := range lines {
		if isStructuredLine(strings.TrimSpace(line)) {
			kept = append(kept, line)
		}
	}
	if len(kept) < minExtractLines {
		return ""
	}
	return fmt.Sprintf("[Extracted %d table/list lines of %d]\n%s",
		len(kept), len(lines), strings.Join(kept, "\n"))
}

func isStructuredLine(line string) bool {
	switch {
	case line == "":
		return false
	case strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2:
		return true
	case strings.Count(line, "\t") >= 2:
		return true
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "), strings.HasPrefix(line, "• "):
		return true
	}
	// Numbered list: "12. item" or "3) item".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line)-1 && (line[i] == '.' || line[i] == ')') && line[i+1] == ' '
}

// TruncateHeadTail keeps the first head and last tail runes of s and
// marks the cut between them.
func TruncateHeadTail(s string, head, tail int) string {
	r := []rune(s)
	if len(r) <= head+tail {
		return s
	}
	cut := len(r) - head - tail
	return string(r[:head]) +
		fmt.Sprintf("\n\n...[%d characters truncated]...\n\n", cut) +
		string(r[len(r)-tail:])
}

// computeContentHash fingerprints raw content with xxHash. Entries sharing a
// hash hold the same content.
func computeContentHash(content string) string {
	h := xxhash.Sum64String(content)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return hex.EncodeToString(buf[:])
}

// preview returns the first few lines of content, capped at maxLen runes.
func preview(content string, maxLines, maxLen int) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	s := strings.Join(lines, " ")
	s = strings.Join(strings.Fields(s), " ")
	return textutil.Truncate(s, maxLen)
}

func stepKey(step int) string {
	return fmt.Sprintf("step_%d", step)
}
