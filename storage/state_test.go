package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/deepresearch/model"
)

func newTestStore(t *testing.T, opts Options) *StateStore {
	t.Helper()
	s := NewStateStore(opts)
	s.ResetRun(context.Background(), "run-1", "solar adoption")
	return s
}

func TestStoreArtifactKeepsRawData(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	s.StoreArtifact(ctx, 1, "short page text", ArtifactMetadata{ToolName: "crawl4ai", ContentType: model.ContentWebpage},
		[]model.Source{{Title: "A", URL: "https://x.com/a"}})

	e, ok := s.Artifact(1)
	require.True(t, ok)
	assert.Equal(t, "short page text", e.RawData)
	assert.Equal(t, "short page text", e.ProcessedData)
	assert.Equal(t, 15, e.Metadata.OriginalLength)
	assert.NotEmpty(t, e.Metadata.ContentHash)
	require.Len(t, e.Metadata.Sources, 1)
	assert.Equal(t, "step_1", e.Metadata.Sources[0].OriginGroup)
	assert.False(t, e.Metadata.Sources[0].CollectedAt.IsZero())

	// Mutating the returned copy must not leak into the store.
	e.Metadata.Sources[0].Title = "changed"
	again, _ := s.Artifact(1)
	assert.Equal(t, "A", again.Metadata.Sources[0].Title)
}

func TestSummaryViewMarksRepeatedContent(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	page := "Solar capacity additions reached 440 GW in 2023."
	s.StoreArtifact(ctx, 1, page, ArtifactMetadata{ToolName: "crawl4ai"}, nil)
	s.StoreArtifact(ctx, 2, "Unrelated search results.", ArtifactMetadata{ToolName: "web_search"}, nil)
	s.StoreArtifact(ctx, 3, page, ArtifactMetadata{ToolName: "crawl4ai"}, nil)

	first, _ := s.Artifact(1)
	third, _ := s.Artifact(3)
	assert.Equal(t, first.Metadata.ContentHash, third.Metadata.ContentHash)

	view := s.SummaryView()
	assert.Contains(t, view, "[step_3]")
	assert.Contains(t, view, "(duplicate of step_1)")
	assert.Equal(t, 1, strings.Count(view, "440 GW"))
	assert.NotContains(t, view, "duplicate of step_2")
}

func TestStoreArtifactIgnoresInvalidInput(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	s.StoreArtifact(ctx, 0, "data", ArtifactMetadata{ToolName: "t"}, nil)
	s.StoreArtifact(ctx, 2, "   ", ArtifactMetadata{ToolName: "t"}, nil)

	assert.Empty(t, s.Artifacts())
}

func TestStoreArtifactNeverOverwrites(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	s.StoreArtifact(ctx, 1, "first", ArtifactMetadata{ToolName: "t"}, nil)
	s.StoreArtifact(ctx, 1, "second", ArtifactMetadata{ToolName: "t"}, nil)

	e, _ := s.Artifact(1)
	assert.Equal(t, "first", e.RawData)
}

func TestStructuredArtifactGetsSummary(t *testing.T) {
	s := newTestStore(t, Options{})
	raw := `{"ticker": "AAPL", "price": 191.2, "history": [1, 2, 3]}`

	s.StoreArtifact(context.Background(), 1, raw, ArtifactMetadata{ToolName: "finance", ContentType: model.ContentStructured}, nil)

	e, _ := s.Artifact(1)
	assert.Equal(t, raw, e.RawData)
	assert.Contains(t, e.ProcessedData, "JSON object with 3 fields")
	assert.Contains(t, e.ProcessedData, "- ticker: string = AAPL")
	assert.Contains(t, e.ProcessedData, "- history: array(3)")
}

func TestMalformedStructuredArtifactFallsBack(t *testing.T) {
	s := newTestStore(t, Options{})
	s.StoreArtifact(context.Background(), 1, "{not json", ArtifactMetadata{ToolName: "finance", ContentType: model.ContentStructured}, nil)

	e, _ := s.Artifact(1)
	assert.Equal(t, "{not json", e.ProcessedData)
}

func TestLargeArtifactIsTruncatedWithHeadAndTail(t *testing.T) {
	s := newTestStore(t, Options{ProcessThreshold: 100, HeadKeep: 20, TailKeep: 10})
	raw := strings.Repeat("h", 20) + strings.Repeat("m", 200) + strings.Repeat("t", 10)

	s.StoreArtifact(context.Background(), 1, raw, ArtifactMetadata{ToolName: "crawl4ai", ContentType: model.ContentWebpage}, nil)

	e, _ := s.Artifact(1)
	assert.Equal(t, raw, e.RawData)
	assert.True(t, strings.HasPrefix(e.ProcessedData, strings.Repeat("h", 20)))
	assert.True(t, strings.HasSuffix(e.ProcessedData, strings.Repeat("t", 10)))
	assert.Contains(t, e.ProcessedData, "[200 characters truncated]")
	assert.Equal(t, 230, e.Metadata.OriginalLength)
}

func TestLargeArtifactPrefersTables(t *testing.T) {
	s := newTestStore(t, Options{ProcessThreshold: 100})
	raw := strings.Repeat("filler prose. ", 20) + "\n| year | value |\n|---|---|\n| 2023 | 4.1 |\n| 2024 | 5.3 |\n" + strings.Repeat("more prose. ", 10)

	s.StoreArtifact(context.Background(), 1, raw, ArtifactMetadata{ToolName: "crawl4ai", ContentType: model.ContentWebpage}, nil)

	e, _ := s.Artifact(1)
	assert.Contains(t, e.ProcessedData, "[Extracted 4 table/list lines")
	assert.Contains(t, e.ProcessedData, "| 2024 | 5.3 |")
	assert.NotContains(t, e.ProcessedData, "filler prose")
}

func TestEvictionKeepsMostRecentSteps(t *testing.T) {
	const retention = 3
	s := newTestStore(t, Options{RetentionSteps: retention})
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		s.StoreArtifact(ctx, i, fmt.Sprintf("output %d", i), ArtifactMetadata{ToolName: "t"}, nil)
	}

	for i := 1; i <= 4; i++ {
		_, ok := s.Artifact(i)
		assert.False(t, ok, "step %d should be evicted", i)
	}
	for i := 5; i <= 7; i++ {
		_, ok := s.Artifact(i)
		assert.True(t, ok, "step %d should be retained", i)
	}
	assert.Len(t, s.Artifacts(), retention)
}

func TestEvictionUsesStepIndexNotInsertionOrder(t *testing.T) {
	s := newTestStore(t, Options{RetentionSteps: 2})
	ctx := context.Background()

	s.StoreArtifact(ctx, 5, "five", ArtifactMetadata{ToolName: "t"}, nil)
	s.StoreArtifact(ctx, 9, "nine", ArtifactMetadata{ToolName: "t"}, nil)
	s.StoreArtifact(ctx, 2, "two", ArtifactMetadata{ToolName: "t"}, nil)

	var got []int
	for _, e := range s.Artifacts() {
		got = append(got, e.StepIndex)
	}
	assert.Equal(t, []int{5, 9}, got)
}

func TestSummaryView(t *testing.T) {
	s := newTestStore(t, Options{})
	assert.Equal(t, "No cached artifacts.", s.SummaryView())

	ctx := context.Background()
	s.StoreArtifact(ctx, 2, "second artifact", ArtifactMetadata{ToolName: "search"}, nil)
	s.StoreArtifact(ctx, 1, "first artifact\nline two", ArtifactMetadata{ToolName: "crawl4ai", ContentType: model.ContentWebpage}, nil)

	view := s.SummaryView()
	assert.Contains(t, view, "Cached artifacts (2 live, run run-1)")
	assert.Contains(t, view, "[step_1] tool=crawl4ai type=webpage")
	assert.Contains(t, view, "first artifact line two")
	assert.Less(t, strings.Index(view, "[step_1]"), strings.Index(view, "[step_2]"))
}

func TestRecordVisitIncrements(t *testing.T) {
	s := newTestStore(t, Options{})

	v := s.RecordVisit("https://www.X.com/page/", 1)
	assert.Equal(t, "x.com/page", v.URL)
	assert.Equal(t, 1, v.VisitCount)

	v = s.RecordVisit("http://x.com/page#intro", 4)
	assert.Equal(t, 2, v.VisitCount)
	assert.Equal(t, 1, v.OriginStepIndex)

	got, ok := s.Visited("x.com/page")
	require.True(t, ok)
	assert.Equal(t, 2, got.VisitCount)
}

func TestVisitedOnHost(t *testing.T) {
	s := newTestStore(t, Options{})
	s.RecordVisit("https://x.com/b", 2)
	s.RecordVisit("https://x.com/a", 1)
	s.RecordVisit("https://x.com.evil.io/a", 3)
	s.RecordVisit("https://y.org/a", 4)

	got := s.VisitedOnHost("https://www.x.com")
	require.Len(t, got, 2)
	assert.Equal(t, "x.com/a", got[0].URL)
	assert.Equal(t, "x.com/b", got[1].URL)
	assert.Empty(t, s.VisitedOnHost("z.net"))
	assert.Len(t, s.VisitedResources(), 4)
}

func TestAppendStepIndices(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	assert.Equal(t, 1, s.NextStepIndex())
	assert.Equal(t, 1, s.AppendStep(ctx, model.Step{Action: model.Action{ToolName: "a"}, Observation: "one"}))
	assert.Equal(t, 2, s.AppendStep(ctx, model.Step{Action: model.Action{ToolName: "b"}, Observation: "two"}))

	last, ok := s.LastStep()
	require.True(t, ok)
	assert.Equal(t, "two", last.Observation)

	first, ok := s.Step(1)
	require.True(t, ok)
	assert.Equal(t, "a", first.Action.ToolName)

	_, ok = s.Step(3)
	assert.False(t, ok)
}

type recordingObserver struct{ updates []MetricsUpdate }

func (r *recordingObserver) ObserveMetrics(u MetricsUpdate) { r.updates = append(r.updates, u) }

func TestUpdateMetrics(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, Options{Observer: obs})

	half, most := 0.5, 0.8
	s.UpdateMetrics(MetricsUpdate{
		ToolCalls:       map[string]int{"search": 1},
		Tokens:          &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		PlanCompletion:  &half,
		InformationGain: []float64{0.4},
	})
	s.UpdateMetrics(MetricsUpdate{
		ToolCalls:       map[string]int{"search": 2, "crawl4ai": 1},
		Tokens:          &model.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		PlanCompletion:  &most,
		InformationGain: []float64{0.2},
	})

	m := s.Metrics()
	assert.Equal(t, 3, m.ToolCalls["search"])
	assert.Equal(t, 1, m.ToolCalls["crawl4ai"])
	assert.Equal(t, model.TokenUsage{PromptTokens: 11, CompletionTokens: 6, TotalTokens: 17}, m.Tokens)
	assert.Equal(t, 2, m.TokenUpdates)
	assert.Equal(t, 0.8, m.PlanCompletion)
	assert.Equal(t, []float64{0.4, 0.2}, m.InformationGain)
	assert.Len(t, obs.updates, 2)
}

func TestResetRunClearsEverything(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	s.StoreArtifact(ctx, 1, "data", ArtifactMetadata{ToolName: "t"}, nil)
	s.RecordVisit("https://x.com", 1)
	s.AppendStep(ctx, model.Step{Observation: "obs"})
	s.UpdateMetrics(MetricsUpdate{ToolCalls: map[string]int{"t": 1}})

	s.ResetRun(ctx, "run-2", "wind power")

	assert.Equal(t, "run-2", s.Run().ID)
	assert.Equal(t, "wind power", s.Run().Topic)
	assert.Empty(t, s.Artifacts())
	assert.Empty(t, s.VisitedResources())
	assert.Empty(t, s.Steps())
	assert.Empty(t, s.Metrics().ToolCalls)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://x.com/page", "x.com/page"},
		{"https://x.com/page/", "x.com/page"},
		{"HTTP://WWW.X.com/Page", "x.com/Page"},
		{"x.com/page?q=1#frag", "x.com/page?q=1"},
		{"https://x.com:8080/a", "x.com:8080/a"},
		{"https://x.com:443/a", "x.com/a"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
		assert.Equal(t, tt.want, NormalizeURL(tt.want), "idempotent for %q", tt.want)
	}

	host, path := SplitNormalized("x.com/docs/page")
	assert.Equal(t, "x.com", host)
	assert.Equal(t, "/docs/page", path)
}

func TestImagesKeptInOrderUntilReset(t *testing.T) {
	s := newTestStore(t, Options{})
	s.AddImage(ImageAsset{ID: "a", Title: "first"})
	s.AddImage(ImageAsset{ID: ""})
	s.AddImage(ImageAsset{ID: "b", Title: "second"})

	imgs := s.Images()
	require.Len(t, imgs, 2)
	assert.Equal(t, "[IMAGE:a]", imgs[0].Placeholder())
	assert.Equal(t, "b", imgs[1].ID)
	assert.False(t, imgs[0].CreatedAt.IsZero())

	s.ResetRun(context.Background(), "run-2", "other")
	assert.Empty(t, s.Images())
}
