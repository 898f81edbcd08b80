// Per-invocation environment for CLI commands.
//
// Information Hiding:
// - Settings, logger and persistence setup hidden
// - Provider creation and tool discovery hidden
// - Event bus and Prometheus registry lifetimes hidden

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/richinex/deepresearch/agent"
	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/events"
	"github.com/richinex/deepresearch/internal/logging"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/mcp"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
	"github.com/richinex/deepresearch/telemetry"
	"github.com/richinex/deepresearch/tools"
)

// defaultDBPath is used when RESEARCH_DB_PATH is not set.
const defaultDBPath = ".deepresearch/research.db"

// eventBuffer bounds the bus queue; a short-lived command rarely fills it.
const eventBuffer = 256

type env struct {
	opts     Options
	settings config.Settings
	log      *zap.Logger
	db       *storage.SqliteStorage
	modes    *config.Modes
	bus      *events.Bus
	registry *prometheus.Registry
	recorder *telemetry.Recorder
	closers  []func()
}

func newEnv(opts Options) (*env, error) {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.MCPConfig != "" {
		settings.Tools.MCPConfig = opts.MCPConfig
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}
	if settings.Storage.DBPath == "" {
		settings.Storage.DBPath = defaultDBPath
	}
	if opts.Mode != "" {
		opts.Mode = string(model.ParseResearchMode(opts.Mode))
	}

	level := settings.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log, err := logging.New(level, settings.Log.Dev)
	if err != nil {
		return nil, err
	}

	modes := config.DefaultModes()
	if settings.Research.ModesFile != "" {
		modes, err = config.LoadModes(settings.Research.ModesFile)
		if err != nil {
			_ = log.Sync()
			return nil, err
		}
	}

	db, err := storage.OpenSqlite(settings.Storage.DBPath)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	e := &env{
		opts:     opts,
		settings: settings,
		log:      log,
		db:       db,
		modes:    modes,
		bus:      events.NewBus(eventBuffer, log.Named("events")),
		registry: prometheus.NewRegistry(),
	}
	e.recorder = telemetry.NewRecorder(e.registry)
	if opts.Verbose {
		e.bus.Subscribe(func(ev events.Event) {
			fmt.Fprintf(os.Stderr, "[%s] %v\n", ev.Name, ev.Payload.Data)
		})
	}
	return e, nil
}

// Close releases everything in reverse order of acquisition and writes the
// metrics file when one was requested.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.bus.Close()
	if e.opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(e.opts.MetricsFile, e.registry); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write metrics: %v\n", err)
		}
	}
	if err := e.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
	_ = e.log.Sync()
}

// provider builds the completion provider. A missing key is not fatal:
// steps run without repair and the report falls back to the evidence layout.
func (e *env) provider() llm.Provider {
	providerType, err := llm.ParseProviderType(e.settings.LLM.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	apiKey, err := config.APIKeyFor(e.settings.LLM.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; continuing without a model\n", err)
		return nil
	}

	b := providerType.
		Model(e.settings.LLM.Model).
		MaxTokens(e.settings.LLM.MaxTokens).
		Temperature(float32(e.settings.LLM.Temperature))
	if e.settings.LLM.BaseURL != "" {
		b = b.BaseURL(e.settings.LLM.BaseURL)
	}
	p, err := b.APIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create provider: %v\n", err)
		return nil
	}
	return p
}

// loadTools discovers the remote tool service and the configured MCP
// servers. A tool service that cannot be reached is a warning; a broken
// MCP config is an error.
func (e *env) loadTools(ctx context.Context) ([]tools.Tool, error) {
	var out []tools.Tool

	if url := e.settings.Tools.ServiceURL; url != "" {
		remote, err := tools.DiscoverRemoteTools(ctx, url, e.settings.Research.ToolTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to discover tools at %s: %v\n", url, err)
		}
		for _, t := range remote {
			out = append(out, t)
		}
		e.log.Debug("remote tools discovered", zap.String("url", url), zap.Int("count", len(remote)))
	}

	if path := e.settings.Tools.MCPConfig; path != "" {
		cfg, err := mcp.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load MCP config: %w", err)
		}
		manager, err := mcp.DiscoverFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = manager.Close() })
		out = append(out, manager.Tools()...)
		e.log.Debug("MCP tools discovered", zap.Int("servers", len(cfg.MCPServers)), zap.Int("count", len(manager.Tools())))
	}

	return mergeTools(out), nil
}

// mergeTools keeps the first tool of each name.
func mergeTools(list []tools.Tool) []tools.Tool {
	seen := make(map[string]bool, len(list))
	out := make([]tools.Tool, 0, len(list))
	for _, t := range list {
		name := t.Metadata().Name
		if seen[name] {
			fmt.Fprintf(os.Stderr, "Warning: duplicate tool %q ignored\n", name)
			continue
		}
		seen[name] = true
		out = append(out, t)
	}
	return out
}

func (e *env) builder(ctx context.Context, topic string) (*agent.Builder, error) {
	toolList, err := e.loadTools(ctx)
	if err != nil {
		return nil, err
	}

	cfg := agent.ConfigFromSettings(e.settings)
	if e.opts.Mode != "" {
		cfg.Mode = model.ResearchMode(e.opts.Mode)
	}

	b := agent.NewBuilder(topic).
		Config(cfg).
		Tools(toolList).
		Modes(e.modes).
		Publisher(events.Fanout{e.bus, events.NewLogPublisher(e.log.Named("events"))}).
		Logger(e.log).
		Persistence(e.db).
		Observer(e.recorder)
	if p := e.provider(); p != nil {
		b.Provider(p)
	}
	if dir := e.settings.Tools.KnowledgeDir; dir != "" {
		b.Retriever(tools.NewDirRetriever(dir))
	}
	return b, nil
}

func (e *env) newResearcher(ctx context.Context, runID, topic string) (*agent.Researcher, error) {
	b, err := e.builder(ctx, topic)
	if err != nil {
		return nil, err
	}
	return b.RunID(runID).Build()
}

// restoreResearcher reloads a persisted run. An empty runID picks the newest.
func (e *env) restoreResearcher(ctx context.Context, runID string) (*agent.Researcher, error) {
	run, err := e.findRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	opts := agent.ConfigFromSettings(e.settings).Store
	opts.Persistence = e.db
	opts.Observer = e.recorder
	opts.Logger = e.log.Named("state")
	state := storage.NewStateStore(opts)
	if err := state.Restore(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to restore run %s: %w", run.ID, err)
	}

	b, err := e.builder(ctx, run.Topic)
	if err != nil {
		return nil, err
	}
	return b.State(state).Build()
}

func (e *env) findRun(ctx context.Context, runID string) (storage.Run, error) {
	if runID != "" {
		run, ok, err := e.db.LoadRun(ctx, runID)
		if err != nil {
			return storage.Run{}, err
		}
		if !ok {
			return storage.Run{}, fmt.Errorf("run %q not found", runID)
		}
		return run, nil
	}

	runs, err := e.db.ListRuns(ctx)
	if err != nil {
		return storage.Run{}, err
	}
	if len(runs) == 0 {
		return storage.Run{}, fmt.Errorf("no runs found; start one with 'deepresearch start'")
	}
	return runs[0], nil
}

func toolCall(name string, params map[string]any, thought, mode string) tools.Call {
	return tools.Call{
		ToolName:   name,
		Parameters: params,
		Thought:    thought,
		Mode:       model.ResearchMode(mode),
	}
}
