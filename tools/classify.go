// Code Output Classification.
//
// Information Hiding:
// - JSON shape sniffing hidden
// - Side-channel delivery of images and files hidden
// - Observation formatting per output kind hidden

package tools

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/richinex/deepresearch/events"
	"github.com/richinex/deepresearch/storage"
)

// OutputKind tags what a code run printed.
type OutputKind int

const (
	OutputText OutputKind = iota
	OutputStructured
	OutputImage
	OutputFile
	OutputDomainReport
)

// String returns the kind name.
func (k OutputKind) String() string {
	switch k {
	case OutputStructured:
		return "structured"
	case OutputImage:
		return "image"
	case OutputFile:
		return "file"
	case OutputDomainReport:
		return "domain_report"
	default:
		return "text"
	}
}

// ClassifiedOutput is the tagged view of a code tool's output. Only the
// fields relevant to Kind are set.
type ClassifiedOutput struct {
	Kind OutputKind
	Raw  string
	// JSON is the payload that was classified (the whole output, or its
	// last line when only that line parses).
	JSON string

	Title      string
	MimeType   string
	Data       string // base64, images and files
	Filename   string
	ReportType string

	HasTable  bool
	HasBraces bool
}

var (
	imageTypes  = map[string]bool{"image": true, "chart": true, "plot": true, "figure": true}
	fileTypes   = map[string]bool{"file": true, "document": true, "excel": true, "csv": true, "pdf": true, "word": true}
	reportTypes = map[string]bool{"report": true, "analysis": true}

	tableLinePattern = regexp.MustCompile(`(?m)^[ \t]*\|.*\|[ \t]*$`)
)

// ClassifyOutput inspects printed output.
func ClassifyOutput(output string) ClassifiedOutput {
	c := ClassifiedOutput{Kind: OutputText, Raw: output}

	payload, ok := jsonPayload(output)
	if !ok {
		c.HasTable = len(tableLinePattern.FindAllString(output, 3)) >= 2
		c.HasBraces = strings.Contains(output, "{") && strings.Contains(output, "}")
		return c
	}
	c.JSON = payload
	doc := gjson.Parse(payload)
	c.Kind = OutputStructured
	if !doc.IsObject() {
		return c
	}

	typ := strings.ToLower(doc.Get("type").String())
	c.Title = firstNonEmpty(doc.Get("title").String(), doc.Get("caption").String(), doc.Get("name").String())

	switch {
	case imageTypes[typ]:
		data := firstNonEmpty(doc.Get("image_base64").String(), doc.Get("image").String(),
			doc.Get("data").String(), doc.Get("base64").String())
		if data == "" {
			return c
		}
		c.Kind = OutputImage
		c.MimeType, c.Data = splitDataURI(data)
		if c.MimeType == "" {
			c.MimeType = imageMime(doc.Get("format").String(), doc.Get("mime_type").String())
		}
		if c.Title == "" {
			c.Title = "Generated chart"
		}
	case fileTypes[typ]:
		name := firstNonEmpty(doc.Get("filename").String(), doc.Get("file_name").String())
		if name == "" {
			return c
		}
		c.Kind = OutputFile
		c.Filename = name
		c.MimeType = firstNonEmpty(doc.Get("mime_type").String(), doc.Get("mime").String(), "application/octet-stream")
		_, c.Data = splitDataURI(firstNonEmpty(doc.Get("data").String(), doc.Get("content").String(), doc.Get("base64").String()))
	case reportTypes[typ] || strings.HasSuffix(typ, "_report") || strings.HasSuffix(typ, "_analysis"):
		c.Kind = OutputDomainReport
		c.ReportType = typ
	}
	return c
}

// jsonPayload returns the output as JSON, trying the whole text and then
// its last non-empty line.
func jsonPayload(output string) (string, bool) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", false
	}
	if isJSONShaped(trimmed) {
		return trimmed, true
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(lines) > 1 && isJSONShaped(last) {
		return last, true
	}
	return "", false
}

func isJSONShaped(s string) bool {
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return false
	}
	return gjson.Valid(s)
}

func splitDataURI(data string) (mime, payload string) {
	if !strings.HasPrefix(data, "data:") {
		return "", data
	}
	comma := strings.IndexByte(data, ',')
	if comma == -1 {
		return "", data
	}
	header := strings.TrimPrefix(data[:comma], "data:")
	mime, _, _ = strings.Cut(header, ";")
	return mime, data[comma+1:]
}

func imageMime(format, mime string) string {
	if mime != "" {
		return mime
	}
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "svg":
		return "image/svg+xml"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// renderCodeOutput turns a successful code run into its observation and
// the text to cache. Images and files go out on the event channel.
func (e *Executor) renderCodeOutput(c ClassifiedOutput, stepIndex int) (observation, cached string) {
	switch c.Kind {
	case OutputImage:
		img := storage.ImageAsset{
			ID:        uuid.NewString(),
			Title:     c.Title,
			MimeType:  c.MimeType,
			Data:      c.Data,
			StepIndex: stepIndex,
		}
		e.state.AddImage(img)
		e.publish(events.ImageGenerated, map[string]any{
			"image_id":   img.ID,
			"title":      img.Title,
			"mime_type":  img.MimeType,
			"data":       img.Data,
			"step_index": stepIndex,
		})
		obs := fmt.Sprintf("Image generated: %s. Insert it in the report with the placeholder %s.", img.Title, img.Placeholder())
		return obs, obs

	case OutputFile:
		id := uuid.NewString()
		e.publish(events.FileGenerated, map[string]any{
			"file_id":    id,
			"filename":   c.Filename,
			"mime_type":  c.MimeType,
			"data":       c.Data,
			"step_index": stepIndex,
		})
		obs := fmt.Sprintf("File generated: %s (%s). The file was delivered separately and is not repeated here.", c.Filename, c.MimeType)
		return obs, obs

	case OutputDomainReport:
		var b strings.Builder
		fmt.Fprintf(&b, "Domain report (%s)", c.ReportType)
		if c.Title != "" {
			fmt.Fprintf(&b, ": %s", c.Title)
		}
		b.WriteString("\n")
		doc := gjson.Parse(c.JSON)
		for _, key := range []string{"summary", "analysis", "conclusion", "report"} {
			if v := doc.Get(key); v.Type == gjson.String && v.String() != "" {
				fmt.Fprintf(&b, "%s: %s\n", key, v.String())
			}
		}
		b.WriteString("\n")
		b.WriteString(storage.SummarizeStructure(c.JSON))
		b.WriteString(e.largePayloadNote(c.JSON, stepIndex))
		return b.String(), c.Raw

	case OutputStructured:
		obs := "Structured output:\n" + storage.SummarizeStructure(c.JSON) + e.largePayloadNote(c.JSON, stepIndex)
		return obs, c.Raw

	default:
		switch {
		case c.HasTable:
			return "Tabular output (markdown table):\n" + c.Raw, c.Raw
		case c.HasBraces:
			return "Output (contains brace-delimited fragments that are not valid JSON):\n" + c.Raw, c.Raw
		default:
			return c.Raw, c.Raw
		}
	}
}

func (e *Executor) largePayloadNote(payload string, stepIndex int) string {
	n := utf8.RuneCountInString(payload)
	if n <= e.policy.LargePayload {
		return ""
	}
	return fmt.Sprintf("\n\nFull payload (%d characters) cached as step_%d.", n, stepIndex)
}
