package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		kind   OutputKind
		check  func(t *testing.T, c ClassifiedOutput)
	}{
		{
			name:   "plain text",
			output: "mean growth is 4.2%",
			kind:   OutputText,
		},
		{
			name:   "markdown table",
			output: "| year | sales |\n|---|---|\n| 2023 | 10 |",
			kind:   OutputText,
			check: func(t *testing.T, c ClassifiedOutput) {
				assert.True(t, c.HasTable)
			},
		},
		{
			name:   "broken json",
			output: "{'year': 2023, 'sales': 10}",
			kind:   OutputText,
			check: func(t *testing.T, c ClassifiedOutput) {
				assert.True(t, c.HasBraces)
			},
		},
		{
			name:   "generic object",
			output: `{"year": 2023, "sales": [1, 2, 3]}`,
			kind:   OutputStructured,
		},
		{
			name:   "array",
			output: `[{"a": 1}, {"a": 2}]`,
			kind:   OutputStructured,
		},
		{
			name:   "json on last line",
			output: "computing...\n{\"type\": \"chart\", \"title\": \"Trend\", \"data\": \"data:image/jpeg;base64,QUJD\"}",
			kind:   OutputImage,
			check: func(t *testing.T, c ClassifiedOutput) {
				assert.Equal(t, "Trend", c.Title)
				assert.Equal(t, "image/jpeg", c.MimeType)
				assert.Equal(t, "QUJD", c.Data)
			},
		},
		{
			name:   "image defaults",
			output: `{"type": "image", "image_base64": "QUJD"}`,
			kind:   OutputImage,
			check: func(t *testing.T, c ClassifiedOutput) {
				assert.Equal(t, "image/png", c.MimeType)
				assert.Equal(t, "Generated chart", c.Title)
			},
		},
		{
			name:   "image without data is structured",
			output: `{"type": "image", "title": "missing"}`,
			kind:   OutputStructured,
		},
		{
			name:   "file",
			output: `{"type": "excel", "filename": "sales.xlsx", "data": "UEsDBA=="}`,
			kind:   OutputFile,
			check: func(t *testing.T, c ClassifiedOutput) {
				assert.Equal(t, "sales.xlsx", c.Filename)
				assert.Equal(t, "application/octet-stream", c.MimeType)
			},
		},
		{
			name:   "domain report",
			output: `{"type": "financial_report", "summary": "Revenue up", "metrics": {"revenue": 10}}`,
			kind:   OutputDomainReport,
			check: func(t *testing.T, c ClassifiedOutput) {
				assert.Equal(t, "financial_report", c.ReportType)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyOutput(tt.output)
			assert.Equal(t, tt.kind, c.Kind, c.Kind.String())
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestDiagnose(t *testing.T) {
	tests := []struct {
		output string
		class  string
	}{
		{"  File \"<stdin>\", line 2\n    print(x\nSyntaxError: unexpected EOF while parsing", "syntax"},
		{"IndentationError: unexpected indent", "indentation"},
		{"ModuleNotFoundError: No module named 'seaborn'", "missing_module"},
		{"NameError: name 'df' is not defined", "undefined_name"},
		{"TypeError: unsupported operand type(s) for +: 'int' and 'str'", "type_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			d, ok := Diagnose(tt.output)
			assert.True(t, ok)
			assert.Equal(t, tt.class, d.Class)
			assert.NotEmpty(t, d.Fix)
		})
	}

	_, ok := Diagnose("connection reset by peer")
	assert.False(t, ok)

	d, _ := Diagnose("ModuleNotFoundError: No module named 'seaborn'")
	assert.Contains(t, d.String(), "seaborn")
}

func TestFixCrawlerParams(t *testing.T) {
	fixed, changes, ok := fixCrawlerParams(map[string]any{
		"mode":   "crawl",
		"params": map[string]any{"url": "https://a.com", "max_pages": 3},
	})
	assert.True(t, ok)
	assert.Len(t, changes, 2)
	assert.Equal(t, "deep_crawl", fixed["mode"])
	assert.Equal(t, "https://a.com", fixed["url"])
	assert.Equal(t, 3, fixed["max_pages"])
	assert.NotContains(t, fixed, "params")

	fixed, _, ok = fixCrawlerParams(map[string]any{"mode": "scrape", "urls": []any{"https://b.com"}})
	assert.True(t, ok)
	assert.Equal(t, "https://b.com", fixed["url"])

	original := map[string]any{"mode": "scrape", "url": "https://c.com"}
	_, _, ok = fixCrawlerParams(original)
	assert.False(t, ok)
	assert.Equal(t, "scrape", original["mode"])
}

func TestIsMissingParamError(t *testing.T) {
	assert.True(t, isMissingParamError("Error: missing required parameter 'url'"))
	assert.True(t, isMissingParamError("validation failed: field required (url)"))
	assert.True(t, isMissingParamError("the url is required"))
	assert.False(t, isMissingParamError("HTTP 503 service unavailable"))
}

func TestURLSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, URLSimilarity("https://x.com/page", "http://www.x.com/page/"))
	assert.Greater(t, URLSimilarity("https://x.com/report-2023", "https://x.com/report-2024"), 0.85)
	assert.Less(t, URLSimilarity("https://x.com/a", "https://y.org/zzz"), 0.85)
	assert.Less(t, URLSimilarity("https://x.com/energy", "https://x.com/finance"), 0.85)
}

func TestResourceURL(t *testing.T) {
	assert.Equal(t, "https://a.com", resourceURL(map[string]any{"url": "https://a.com"}))
	assert.Equal(t, "https://b.com", resourceURL(map[string]any{"arguments": map[string]any{"url": "https://b.com"}}))
	assert.Empty(t, resourceURL(map[string]any{"query": "ev"}))
}
