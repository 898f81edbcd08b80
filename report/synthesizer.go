// Package report turns a research run's steps and artifacts into the final
// cited report.
//
// Information Hiding:
// - Evidence strategy selection and prompt construction hidden
// - Retry loop and deterministic fallback hidden
// - Post-processing order (sources, cleanup, images, references, citations) hidden
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/events"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

// Options tunes report generation.
type Options struct {
	Attempts    int
	RetryDelay  time.Duration
	MinSources  int
	MaxSources  int
	MaxTokens   int
	Temperature float32
}

// DefaultOptions returns the default generation options.
func DefaultOptions() Options {
	return Options{
		Attempts:    3,
		RetryDelay:  2 * time.Second,
		MinSources:  defaultMinSources,
		MaxSources:  defaultMaxSources,
		Temperature: 0.3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.MinSources <= 0 {
		o.MinSources = d.MinSources
	}
	if o.MaxSources <= 0 {
		o.MaxSources = d.MaxSources
	}
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	return o
}

// Input is what a report is built from. Nil Steps and Sources are read
// from the state store.
type Input struct {
	Topic               string
	Plan                []model.PlanStep
	Steps               []model.Step
	Sources             []model.Source
	Mode                model.ResearchMode
	OriginalInstruction string
}

// Result is the finished report with its provenance.
type Result struct {
	Report          string          `json:"report"`
	FilteredSources []model.Source  `json:"filtered_sources"`
	CitedSources    []CitedSource   `json:"cited_sources"`
	Metrics         storage.Metrics `json:"metrics"`
	PlanCompletion  float64         `json:"plan_completion"`
	Quality         Quality         `json:"quality"`
	Evidence        []EvidenceEntry `json:"evidence"`
	UsedFallback    bool            `json:"used_fallback"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
}

// Synthesizer produces reports. It never fails: exhausted generation
// falls back to a deterministic evidence report.
type Synthesizer struct {
	state    *storage.StateStore
	provider llm.Provider
	modes    *config.Modes
	opts     Options
	events   events.Publisher
	log      *zap.Logger
	now      func() time.Time
}

// NewSynthesizer creates a synthesizer. A nil modes table uses the
// embedded defaults.
func NewSynthesizer(state *storage.StateStore, provider llm.Provider, modes *config.Modes) *Synthesizer {
	if modes == nil {
		modes = config.DefaultModes()
	}
	return &Synthesizer{
		state:    state,
		provider: provider,
		modes:    modes,
		opts:     DefaultOptions(),
		events:   events.Nop{},
		log:      zap.NewNop(),
		now:      time.Now,
	}
}

// WithOptions sets generation options.
func (s *Synthesizer) WithOptions(opts Options) *Synthesizer {
	s.opts = opts.withDefaults()
	return s
}

// WithPublisher sets the event publisher.
func (s *Synthesizer) WithPublisher(p events.Publisher) *Synthesizer {
	if p != nil {
		s.events = p
	}
	return s
}

// WithLogger sets the logger.
func (s *Synthesizer) WithLogger(log *zap.Logger) *Synthesizer {
	if log != nil {
		s.log = log
	}
	return s
}

// WithClock overrides the clock used for temporal quality.
func (s *Synthesizer) WithClock(now func() time.Time) *Synthesizer {
	if now != nil {
		s.now = now
	}
	return s
}

// Synthesize builds the report.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("report synthesis panicked", zap.Any("panic", r))
			res = s.emergencyResult(in, fmt.Errorf("report synthesis panicked: %v", r))
		}
	}()
	return s.synthesize(ctx, in)
}

type preparedInput struct {
	Input
	evidence []EvidenceEntry
	images   []storage.ImageAsset
	profile  config.ModeProfile
}

func (s *Synthesizer) prepare(in Input) preparedInput {
	if in.Topic == "" {
		in.Topic = s.state.Run().Topic
	}
	if in.Steps == nil {
		in.Steps = s.state.Steps()
	}
	entries := s.state.Artifacts()
	if in.Sources == nil {
		in.Sources = collectSources(entries)
	}
	artifacts := make(map[int]storage.CacheEntry, len(entries))
	for _, e := range entries {
		artifacts[e.StepIndex] = e
	}
	return preparedInput{
		Input:    in,
		evidence: assembleEvidence(in.Steps, artifacts, in.Topic, in.Mode, s.modes),
		images:   s.state.Images(),
		profile:  s.modes.Profile(in.Mode),
	}
}

func (s *Synthesizer) synthesize(ctx context.Context, in Input) Result {
	p := s.prepare(in)
	now := s.now()
	sensitivity := TemporalSensitivity(p.Topic, p.OriginalInstruction, now)

	s.log.Info("synthesizing report",
		zap.String("topic", p.Topic),
		zap.String("mode", string(p.Mode)),
		zap.Int("evidence", len(p.evidence)),
		zap.Int("sources", len(p.Sources)))

	var (
		body     string
		attempts int
		lastErr  error
		fallback bool
	)
	if s.provider == nil {
		lastErr = fmt.Errorf("%w: no completion provider configured", ErrMaxAttempts)
	} else {
		messages := buildMessages(promptInput{
			Topic:       p.Topic,
			Instruction: p.OriginalInstruction,
			Plan:        p.Plan,
			Sources:     p.Sources,
			Evidence:    p.evidence,
			Images:      p.images,
			Profile:     p.profile,
			Mode:        p.Mode,
			Sensitivity: sensitivity,
			Now:         now,
		})
		m := s.generate(ctx, llm.Request{
			Messages:    messages,
			MaxTokens:   s.opts.MaxTokens,
			Temperature: llm.Temperature(s.opts.Temperature),
		})
		attempts = m.attempts
		if m.succeeded() {
			body = m.content
		} else {
			lastErr = m.err()
		}
	}
	if lastErr != nil {
		s.log.Warn("using fallback report", zap.Error(lastErr))
		body = fallbackReport(p.Topic, p.OriginalInstruction, p.Steps, p.evidence, p.Sources)
		fallback = true
	}

	res := s.finish(p, body, now)
	res.Attempts = attempts
	res.UsedFallback = fallback
	if lastErr != nil {
		res.LastError = lastErr.Error()
	}

	s.publish(events.ReportReady, map[string]any{
		"used_fallback":    res.UsedFallback,
		"attempts":         res.Attempts,
		"sources":          len(res.FilteredSources),
		"citations":        len(res.CitedSources),
		"plan_completion":  res.PlanCompletion,
		"report_length":    len(res.Report),
		"temporal_quality": string(res.Quality.Sensitivity),
	})
	return res
}

// finish runs post-processing in a fixed order and attaches metrics.
func (s *Synthesizer) finish(p preparedInput, body string, now time.Time) Result {
	filtered := filterUsedSources(body, p.Sources, s.opts.MinSources, s.opts.MaxSources)

	body = stripReferenceSection(body)
	body = ensureImagePlaceholders(body, p.images)
	body = embedImages(body, p.images)

	cited := resolveCitations(body, p.Sources, s.log)

	report := body
	for _, section := range []string{formatReferences(filtered), formatCitedSection(cited)} {
		if section != "" {
			report = strings.TrimRight(report, "\n") + "\n\n" + section
		}
	}

	completion := PlanCompletion(p.Plan, p.Steps, p.profile.CompletionThreshold)
	s.state.UpdateMetrics(storage.MetricsUpdate{PlanCompletion: &completion})

	used := plainSources(filtered)
	return Result{
		Report:          report,
		FilteredSources: used,
		CitedSources:    cited,
		Metrics:         s.state.Metrics(),
		PlanCompletion:  completion,
		Quality:         assessQuality(p.Topic, p.OriginalInstruction, used, now),
		Evidence:        p.evidence,
	}
}

// emergencyResult is returned after a panic. It avoids the evidence
// pipeline and lists only the recorded key findings.
func (s *Synthesizer) emergencyResult(in Input, err error) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", in.Topic)
	b.WriteString("> The report could not be generated.\n")
	for _, st := range s.state.Steps() {
		if st.Success && st.KeyFinding != "" {
			fmt.Fprintf(&b, "\n- %s", st.KeyFinding)
		}
	}
	return Result{
		Report:       b.String(),
		Metrics:      s.state.Metrics(),
		UsedFallback: true,
		LastError:    err.Error(),
	}
}

func (s *Synthesizer) publish(name events.Name, data map[string]any) {
	s.events.Publish(name, events.Payload{
		RunID:     s.state.Run().ID,
		Timestamp: time.Now(),
		Data:      data,
	})
}
