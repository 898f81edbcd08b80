// Researcher builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Wiring of state store, executor and synthesizer hidden
// - Default value application hidden

package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/events"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/report"
	"github.com/richinex/deepresearch/storage"
	"github.com/richinex/deepresearch/tools"
)

// Builder provides fluent configuration for creating researchers.
// Usage: agent.NewBuilder("topic").Provider(p).Tool(t).Build().
type Builder struct {
	cfg         Config
	provider    llm.Provider
	tools       []tools.Tool
	modes       *config.Modes
	retriever   tools.Retriever
	publisher   events.Publisher
	log         *zap.Logger
	persistence storage.ArtifactStorage
	observer    storage.MetricsObserver
	state       *storage.StateStore
}

// NewBuilder creates a builder for a run on topic.
func NewBuilder(topic string) *Builder {
	cfg := DefaultConfig()
	cfg.Topic = topic
	return &Builder{cfg: cfg}
}

// Config replaces the configuration, keeping the topic when cfg has none.
func (b *Builder) Config(cfg Config) *Builder {
	if cfg.Topic == "" {
		cfg.Topic = b.cfg.Topic
	}
	b.cfg = cfg
	return b
}

// RunID sets the run identifier.
func (b *Builder) RunID(id string) *Builder {
	b.cfg.RunID = id
	return b
}

// Mode sets the default research mode.
func (b *Builder) Mode(mode model.ResearchMode) *Builder {
	b.cfg.Mode = mode
	return b
}

// Provider sets the completion provider used for repair, delegation and
// the report.
func (b *Builder) Provider(p llm.Provider) *Builder {
	b.provider = p
	return b
}

// Tool adds a tool.
func (b *Builder) Tool(tool tools.Tool) *Builder {
	b.tools = append(b.tools, tool)
	return b
}

// Tools adds multiple tools at once.
func (b *Builder) Tools(toolList []tools.Tool) *Builder {
	b.tools = append(b.tools, toolList...)
	return b
}

// Modes sets the research-mode tables.
func (b *Builder) Modes(m *config.Modes) *Builder {
	b.modes = m
	return b
}

// Retriever sets the knowledge source for code delegation.
func (b *Builder) Retriever(r tools.Retriever) *Builder {
	b.retriever = r
	return b
}

// Publisher sets the event sink.
func (b *Builder) Publisher(p events.Publisher) *Builder {
	b.publisher = p
	return b
}

// Logger sets the logger.
func (b *Builder) Logger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// Persistence enables write-through run persistence.
func (b *Builder) Persistence(p storage.ArtifactStorage) *Builder {
	b.persistence = p
	return b
}

// Observer receives every metrics update.
func (b *Builder) Observer(o storage.MetricsObserver) *Builder {
	b.observer = o
	return b
}

// State uses an existing store instead of creating one. The store is not
// reset, so a restored run continues where it stopped, including its
// visited resources.
func (b *Builder) State(st *storage.StateStore) *Builder {
	b.state = st
	return b
}

// Build wires the researcher. Duplicate tool names are an error.
func (b *Builder) Build() (*Researcher, error) {
	registry := tools.NewRegistry()
	for _, t := range b.tools {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	publisher := b.publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	modes := b.modes
	if modes == nil {
		modes = config.DefaultModes()
	}
	cfg := b.cfg
	if cfg.Mode == "" {
		cfg.Mode = model.ModeStandard
	}

	state := b.state
	if state == nil {
		opts := cfg.Store
		opts.Persistence = b.persistence
		opts.Observer = b.observer
		opts.Logger = log.Named("state")
		state = storage.NewStateStore(opts)
		if cfg.RunID == "" {
			cfg.RunID = uuid.NewString()
		}
		state.ResetRun(context.Background(), cfg.RunID, cfg.Topic)
	} else {
		run := state.Run()
		cfg.RunID = run.ID
		if cfg.Topic == "" {
			cfg.Topic = run.Topic
		}
	}

	executor := tools.NewExecutor(state, registry, b.provider).
		WithPolicy(cfg.Policy).
		WithRetriever(b.retriever).
		WithPublisher(publisher).
		WithLogger(log.Named("executor"))
	if b.state != nil {
		executor.ReplayVisits()
	}

	synth := report.NewSynthesizer(state, b.provider, modes).
		WithOptions(cfg.Report).
		WithPublisher(publisher).
		WithLogger(log.Named("report"))

	return &Researcher{
		cfg:         cfg,
		state:       state,
		executor:    executor,
		synthesizer: synth,
		modes:       modes,
		log:         log,
	}, nil
}

// ToolCount returns the number of tools registered.
func (b *Builder) ToolCount() int {
	return len(b.tools)
}
