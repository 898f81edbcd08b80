// Package storage holds the run state shared by the executor and the
// report synthesizer.
//
// Information Hiding:
// - Cache, visited registry, step history and metrics live behind StateStore
// - Eviction and summarization policies are internal
// - Optional SQLite write-through hidden behind ArtifactStorage
package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/armon/go-radix"
	"go.uber.org/zap"

	"github.com/richinex/deepresearch/model"
)

// Options configures a StateStore. Zero fields take the defaults.
type Options struct {
	RetentionSteps   int // artifacts kept, by step index
	ProcessThreshold int // raw size (runes) above which a processed view is derived
	HeadKeep         int
	TailKeep         int
	PreviewLength    int

	Persistence ArtifactStorage
	Observer    MetricsObserver
	Logger      *zap.Logger
}

// DefaultOptions returns the default store configuration.
func DefaultOptions() Options {
	return Options{
		RetentionSteps:   30,
		ProcessThreshold: 10000,
		HeadKeep:         8000,
		TailKeep:         2000,
		PreviewLength:    200,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RetentionSteps <= 0 {
		o.RetentionSteps = d.RetentionSteps
	}
	if o.ProcessThreshold <= 0 {
		o.ProcessThreshold = d.ProcessThreshold
	}
	if o.HeadKeep <= 0 {
		o.HeadKeep = d.HeadKeep
	}
	if o.TailKeep <= 0 {
		o.TailKeep = d.TailKeep
	}
	if o.PreviewLength <= 0 {
		o.PreviewLength = d.PreviewLength
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// StateStore is the single source of truth for cross-step memory of a run.
// One instance per run; tests build their own.
type StateStore struct {
	mu      sync.RWMutex
	opts    Options
	log     *zap.Logger
	run     Run
	cache   map[int]*CacheEntry
	visited *radix.Tree // normalized URL -> *VisitedResource
	steps   []model.Step
	images  []ImageAsset
	metrics Metrics
}

// NewStateStore creates an empty store.
func NewStateStore(opts Options) *StateStore {
	opts = opts.withDefaults()
	return &StateStore{
		opts:    opts,
		log:     opts.Logger,
		cache:   make(map[int]*CacheEntry),
		visited: radix.New(),
		metrics: newMetrics(),
	}
}

// ResetRun clears all state and starts a new run identity.
func (s *StateStore) ResetRun(ctx context.Context, runID, topic string) {
	s.mu.Lock()
	s.run = Run{ID: runID, Topic: topic, StartedAt: time.Now()}
	s.cache = make(map[int]*CacheEntry)
	s.visited = radix.New()
	s.steps = nil
	s.images = nil
	s.metrics = newMetrics()
	run := s.run
	s.mu.Unlock()

	if s.opts.Persistence != nil {
		if err := s.opts.Persistence.SaveRun(ctx, run); err != nil {
			s.log.Warn("failed to persist run", zap.String("run", runID), zap.Error(err))
		}
	}
	s.log.Info("run reset", zap.String("run", runID), zap.String("topic", topic))
}

// Run returns the active run identity.
func (s *StateStore) Run() Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// StoreArtifact caches the output of a step. Invalid input is logged and
// ignored. Triggers the eviction sweep.
func (s *StateStore) StoreArtifact(ctx context.Context, stepIndex int, rawData string, meta ArtifactMetadata, sources []model.Source) {
	if stepIndex <= 0 {
		s.log.Warn("ignoring artifact with non-positive step index", zap.Int("step", stepIndex))
		return
	}
	if strings.TrimSpace(rawData) == "" {
		s.log.Warn("ignoring empty artifact", zap.Int("step", stepIndex), zap.String("tool", meta.ToolName))
		return
	}
	if meta.ContentType == "" {
		meta.ContentType = model.ContentText
	}

	processed := processArtifact(rawData, meta.ContentType, s.opts)
	if processed == "" {
		processed = rawData
	}

	now := time.Now()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = now
	}
	meta.OriginalLength = utf8.RuneCountInString(rawData)
	meta.ProcessedLength = utf8.RuneCountInString(processed)
	meta.ContentHash = computeContentHash(rawData)
	meta.Sources = tagSources(sources, stepKey(stepIndex), now)

	entry := &CacheEntry{
		StepIndex:     stepIndex,
		RawData:       rawData,
		ProcessedData: processed,
		Metadata:      meta,
	}

	s.mu.Lock()
	if _, exists := s.cache[stepIndex]; exists {
		s.mu.Unlock()
		s.log.Warn("artifact already cached for step", zap.Int("step", stepIndex))
		return
	}
	s.cache[stepIndex] = entry
	evicted := s.evictLocked()
	runID := s.run.ID
	s.mu.Unlock()

	for _, step := range evicted {
		s.log.Debug("evicted artifact", zap.Int("step", step))
	}

	if s.opts.Persistence != nil {
		if err := s.opts.Persistence.SaveArtifact(ctx, runID, entry.copy()); err != nil {
			s.log.Warn("failed to persist artifact", zap.Int("step", stepIndex), zap.Error(err))
		}
	}
}

// evictLocked drops the oldest step indices beyond the retention ceiling.
func (s *StateStore) evictLocked() []int {
	if len(s.cache) <= s.opts.RetentionSteps {
		return nil
	}
	indices := make([]int, 0, len(s.cache))
	for idx := range s.cache {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	drop := indices[:len(indices)-s.opts.RetentionSteps]
	for _, idx := range drop {
		delete(s.cache, idx)
	}
	return drop
}

// Artifact returns a copy of the cached entry for a step.
func (s *StateStore) Artifact(stepIndex int) (CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[stepIndex]
	if !ok {
		return CacheEntry{}, false
	}
	return e.copy(), true
}

// Artifacts returns copies of all live entries ordered by step index.
func (s *StateStore) Artifacts() []CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEntriesLocked()
}

func (s *StateStore) sortedEntriesLocked() []CacheEntry {
	out := make([]CacheEntry, 0, len(s.cache))
	for _, e := range s.cache {
		out = append(out, e.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out
}

// SummaryView renders a digest of every live artifact with its reference key.
func (s *StateStore) SummaryView() string {
	s.mu.RLock()
	entries := s.sortedEntriesLocked()
	runID := s.run.ID
	s.mu.RUnlock()

	if len(entries) == 0 {
		return "No cached artifacts."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cached artifacts (%d live", len(entries))
	if runID != "" {
		fmt.Fprintf(&b, ", run %s", runID)
	}
	b.WriteString("):\n")
	firstByHash := make(map[string]string, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] tool=%s type=%s raw=%d processed=%d",
			e.Key(), e.Metadata.ToolName, e.Metadata.ContentType,
			e.Metadata.OriginalLength, e.Metadata.ProcessedLength)
		if n := len(e.Metadata.Sources); n > 0 {
			fmt.Fprintf(&b, " sources=%d", n)
		}
		if h := e.Metadata.ContentHash; h != "" {
			if first, ok := firstByHash[h]; ok {
				fmt.Fprintf(&b, "\n  (duplicate of %s)\n", first)
				continue
			}
			firstByHash[h] = e.Key()
		}
		fmt.Fprintf(&b, "\n  %s\n", preview(e.ProcessedData, 3, s.opts.PreviewLength))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RecordVisit creates or increments the visit record for url.
// Repeated calls always increment.
func (s *StateStore) RecordVisit(rawURL string, stepIndex int) VisitedResource {
	key := NormalizeURL(rawURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	var v *VisitedResource
	if raw, ok := s.visited.Get(key); ok {
		v = raw.(*VisitedResource)
	} else {
		v = &VisitedResource{URL: key, OriginStepIndex: stepIndex}
		s.visited.Insert(key, v)
	}
	v.VisitCount++
	v.LastVisitedAt = time.Now()
	return *v
}

// Visited returns the visit record for url, if any.
func (s *StateStore) Visited(rawURL string) (VisitedResource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.visited.Get(NormalizeURL(rawURL))
	if !ok {
		return VisitedResource{}, false
	}
	return *raw.(*VisitedResource), true
}

// VisitedResources returns all visit records ordered by first visit.
func (s *StateStore) VisitedResources() []VisitedResource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VisitedResource, 0, s.visited.Len())
	s.visited.Walk(func(_ string, v interface{}) bool {
		out = append(out, *v.(*VisitedResource))
		return false
	})
	sortVisits(out)
	return out
}

// VisitedOnHost returns the visit records whose normalized URL is on host,
// ordered by first visit.
func (s *StateStore) VisitedOnHost(host string) []VisitedResource {
	host, _ = SplitNormalized(NormalizeURL(host))
	if host == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VisitedResource
	s.visited.WalkPrefix(host, func(key string, v interface{}) bool {
		if h, _ := SplitNormalized(key); h == host {
			out = append(out, *v.(*VisitedResource))
		}
		return false
	})
	sortVisits(out)
	return out
}

func sortVisits(out []VisitedResource) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginStepIndex != out[j].OriginStepIndex {
			return out[i].OriginStepIndex < out[j].OriginStepIndex
		}
		return out[i].URL < out[j].URL
	})
}

// AppendStep appends a step to the history and returns its 1-based index.
func (s *StateStore) AppendStep(ctx context.Context, step model.Step) int {
	s.mu.Lock()
	s.steps = append(s.steps, cloneStep(step))
	index := len(s.steps)
	runID := s.run.ID
	s.mu.Unlock()

	if s.opts.Persistence != nil {
		if err := s.opts.Persistence.SaveStep(ctx, runID, index, step); err != nil {
			s.log.Warn("failed to persist step", zap.Int("step", index), zap.Error(err))
		}
	}
	return index
}

// NextStepIndex returns the index the next appended step will receive.
func (s *StateStore) NextStepIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps) + 1
}

// Steps returns a copy of the step history.
func (s *StateStore) Steps() []model.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Step, len(s.steps))
	for i, st := range s.steps {
		out[i] = cloneStep(st)
	}
	return out
}

// Step returns the step at a 1-based index.
func (s *StateStore) Step(index int) (model.Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index <= 0 || index > len(s.steps) {
		return model.Step{}, false
	}
	return cloneStep(s.steps[index-1]), true
}

// LastStep returns the most recent step.
func (s *StateStore) LastStep() (model.Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.steps) == 0 {
		return model.Step{}, false
	}
	return cloneStep(s.steps[len(s.steps)-1]), true
}

// UpdateMetrics merges a partial update. Counts and tokens are added,
// information-gain samples appended and plan completion overwritten.
func (s *StateStore) UpdateMetrics(update MetricsUpdate) {
	s.mu.Lock()
	for tool, n := range update.ToolCalls {
		s.metrics.ToolCalls[tool] += n
	}
	for tool, n := range update.ToolFailures {
		s.metrics.ToolFailures[tool] += n
	}
	if update.Tokens != nil {
		s.metrics.Tokens = s.metrics.Tokens.Add(*update.Tokens)
		s.metrics.TokenUpdates++
	}
	if update.PlanCompletion != nil {
		s.metrics.PlanCompletion = *update.PlanCompletion
	}
	s.metrics.InformationGain = append(s.metrics.InformationGain, update.InformationGain...)
	s.mu.Unlock()

	if s.opts.Observer != nil {
		s.opts.Observer.ObserveMetrics(update)
	}
}

// AddImage registers a generated image for the current run.
func (s *StateStore) AddImage(img ImageAsset) {
	if img.ID == "" {
		return
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.images = append(s.images, img)
	s.mu.Unlock()
}

// Images returns the generated images in creation order.
func (s *StateStore) Images() []ImageAsset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ImageAsset(nil), s.images...)
}

// Metrics returns a snapshot of the aggregate counters.
func (s *StateStore) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.clone()
}

// Restore rehydrates the store from persisted state of an earlier run.
func (s *StateStore) Restore(ctx context.Context, run Run) error {
	if s.opts.Persistence == nil {
		return fmt.Errorf("no persistence configured")
	}
	entries, err := s.opts.Persistence.LoadArtifacts(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load artifacts: %w", err)
	}
	steps, err := s.opts.Persistence.LoadSteps(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	s.cache = make(map[int]*CacheEntry, len(entries))
	for i := range entries {
		e := entries[i]
		s.cache[e.StepIndex] = &e
	}
	s.evictLocked()
	s.steps = steps
	s.visited = radix.New()
	s.metrics = newMetrics()
	for _, st := range steps {
		s.metrics.ToolCalls[st.Action.ToolName]++
		if !st.Success {
			s.metrics.ToolFailures[st.Action.ToolName]++
		}
	}
	return nil
}

func (e *CacheEntry) copy() CacheEntry {
	out := *e
	out.Metadata.Sources = append([]model.Source(nil), e.Metadata.Sources...)
	return out
}

func cloneStep(st model.Step) model.Step {
	if st.Action.Parameters != nil {
		params := make(map[string]any, len(st.Action.Parameters))
		for k, v := range st.Action.Parameters {
			params[k] = v
		}
		st.Action.Parameters = params
	}
	return st
}

func tagSources(sources []model.Source, group string, now time.Time) []model.Source {
	if len(sources) == 0 {
		return nil
	}
	out := make([]model.Source, len(sources))
	for i, src := range sources {
		if src.CollectedAt.IsZero() {
			src.CollectedAt = now
		}
		if src.OriginGroup == "" {
			src.OriginGroup = group
		}
		out[i] = src
	}
	return out
}

// NormalizeURL canonicalizes a URL for visit tracking: scheme, "www."
// prefix, default ports, fragments and trailing slashes are dropped, and
// the host is lowercased. The result is host+path[?query].
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// SplitNormalized splits a normalized URL key into host and path.
func SplitNormalized(key string) (host, path string) {
	if i := strings.IndexAny(key, "/?"); i != -1 {
		return key[:i], key[i:]
	}
	return key, ""
}
