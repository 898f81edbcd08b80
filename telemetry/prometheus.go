// Package telemetry exports research-run metrics to Prometheus.
//
// Information Hiding:
// - Metric names and label sets hidden behind Recorder
// - Registration target injected so tests use private registries
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/richinex/deepresearch/storage"
)

// Recorder mirrors StateStore metric updates into Prometheus collectors.
type Recorder struct {
	toolCalls       *prometheus.CounterVec
	toolFailures    *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	planCompletion  prometheus.Gauge
	informationGain prometheus.Histogram
}

// NewRecorder registers the research collectors with reg.
// A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_tool_calls_total",
			Help: "Total tool calls by tool",
		}, []string{"tool"}),
		toolFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_tool_failures_total",
			Help: "Total failed tool calls by tool",
		}, []string{"tool"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_tokens_total",
			Help: "Model tokens consumed by kind",
		}, []string{"kind"}),
		planCompletion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deepresearch_plan_completion_ratio",
			Help: "Latest plan completion ratio",
		}),
		informationGain: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deepresearch_information_gain",
			Help:    "Per-step information gain samples",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

// ObserveMetrics implements storage.MetricsObserver.
func (r *Recorder) ObserveMetrics(u storage.MetricsUpdate) {
	for tool, n := range u.ToolCalls {
		r.toolCalls.WithLabelValues(tool).Add(float64(n))
	}
	for tool, n := range u.ToolFailures {
		r.toolFailures.WithLabelValues(tool).Add(float64(n))
	}
	if u.Tokens != nil {
		r.tokens.WithLabelValues("prompt").Add(float64(u.Tokens.PromptTokens))
		r.tokens.WithLabelValues("completion").Add(float64(u.Tokens.CompletionTokens))
		r.tokens.WithLabelValues("total").Add(float64(u.Tokens.TotalTokens))
	}
	if u.PlanCompletion != nil {
		r.planCompletion.Set(*u.PlanCompletion)
	}
	for _, g := range u.InformationGain {
		r.informationGain.Observe(g)
	}
}

var _ storage.MetricsObserver = (*Recorder)(nil)
