// State types for the research run.
//
// Information Hiding:
// - Raw artifacts are only handed out as copies
// - Processed views are derived internally by the store's own policy
// - Metrics are merged through MetricsUpdate, never written directly
package storage

import (
	"time"

	"github.com/richinex/deepresearch/model"
)

// ArtifactMetadata describes a cached tool output.
type ArtifactMetadata struct {
	ToolName        string            `json:"tool_name"`
	ContentType     model.ContentType `json:"content_type"`
	DataType        string            `json:"data_type,omitempty"`
	OriginalLength  int               `json:"original_length"`
	ProcessedLength int               `json:"processed_length"`
	ContentHash     string            `json:"content_hash"`
	Timestamp       time.Time         `json:"timestamp"`
	Sources         []model.Source    `json:"sources,omitempty"`
}

// CacheEntry is the artifact cached for one executed step.
// RawData is the untouched tool output; ProcessedData is the view used
// for context injection.
type CacheEntry struct {
	StepIndex     int              `json:"step_index"`
	RawData       string           `json:"raw_data"`
	ProcessedData string           `json:"processed_data"`
	Metadata      ArtifactMetadata `json:"metadata"`
}

// Key returns the reference key shown to the reasoning step.
func (e CacheEntry) Key() string {
	return stepKey(e.StepIndex)
}

// VisitedResource tracks how often a normalized URL was fetched.
type VisitedResource struct {
	URL             string    `json:"url"`
	VisitCount      int       `json:"visit_count"`
	LastVisitedAt   time.Time `json:"last_visited_at"`
	OriginStepIndex int       `json:"origin_step_index"`
}

// Metrics aggregates run counters. Everything is additive except
// PlanCompletion, which always holds the latest value.
type Metrics struct {
	ToolCalls       map[string]int   `json:"tool_calls"`
	ToolFailures    map[string]int   `json:"tool_failures"`
	Tokens          model.TokenUsage `json:"tokens"`
	TokenUpdates    int              `json:"token_updates"`
	PlanCompletion  float64          `json:"plan_completion"`
	InformationGain []float64        `json:"information_gain"`
}

func newMetrics() Metrics {
	return Metrics{
		ToolCalls:    make(map[string]int),
		ToolFailures: make(map[string]int),
	}
}

func (m Metrics) clone() Metrics {
	out := newMetrics()
	for k, v := range m.ToolCalls {
		out.ToolCalls[k] = v
	}
	for k, v := range m.ToolFailures {
		out.ToolFailures[k] = v
	}
	out.Tokens = m.Tokens
	out.TokenUpdates = m.TokenUpdates
	out.PlanCompletion = m.PlanCompletion
	out.InformationGain = append([]float64(nil), m.InformationGain...)
	return out
}

// MetricsUpdate is a partial metrics delta. Nil fields are left alone.
type MetricsUpdate struct {
	ToolCalls       map[string]int
	ToolFailures    map[string]int
	Tokens          *model.TokenUsage
	PlanCompletion  *float64
	InformationGain []float64
}

// MetricsObserver receives every update merged into the store.
type MetricsObserver interface {
	ObserveMetrics(update MetricsUpdate)
}

// Run identifies the active research run.
type Run struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	StartedAt time.Time `json:"started_at"`
}

// ImageAsset is a chart or picture produced by the code tool. The report
// refers to it through its placeholder until final assembly.
type ImageAsset struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	MimeType  string    `json:"mime_type"`
	Data      string    `json:"data"` // base64
	StepIndex int       `json:"step_index"`
	CreatedAt time.Time `json:"created_at"`
}

// Placeholder returns the token the report uses for the image.
func (a ImageAsset) Placeholder() string {
	return "[IMAGE:" + a.ID + "]"
}
