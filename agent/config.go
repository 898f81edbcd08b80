// Researcher configuration types.
//
// Information Hiding:
// - Mapping from environment settings to component options hidden
// - Default values hidden

package agent

import (
	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/report"
	"github.com/richinex/deepresearch/storage"
	"github.com/richinex/deepresearch/tools"
)

// Config holds researcher configuration.
type Config struct {
	// RunID identifies the run. Empty generates one.
	RunID string

	// Topic is the research question.
	Topic string

	// Mode is the default research mode for steps and the report.
	Mode model.ResearchMode

	// Policy tunes the tool executor.
	Policy tools.Policy

	// Report tunes report generation.
	Report report.Options

	// Store tunes the state store. Persistence and Observer are wired
	// through the builder.
	Store storage.Options
}

// DefaultConfig returns a standard-mode configuration.
func DefaultConfig() Config {
	return Config{
		Mode:   model.ModeStandard,
		Policy: tools.DefaultPolicy(),
		Report: report.DefaultOptions(),
		Store:  storage.DefaultOptions(),
	}
}

// ConfigFromSettings maps environment settings onto a Config.
func ConfigFromSettings(s config.Settings) Config {
	c := DefaultConfig()

	c.Policy.FetchTool = s.Tools.FetchTool
	c.Policy.CrawlTool = s.Tools.CrawlTool
	c.Policy.CodeTool = s.Tools.CodeTool
	c.Policy.CodeAuthorTool = s.Tools.CodeAuthorTool
	c.Policy.DedupThreshold = s.Research.DedupThreshold
	c.Policy.RevisitCeiling = s.Research.RevisitCeiling
	c.Policy.RepairAttempts = s.Research.RepairAttempts
	c.Policy.ToolTimeout = s.Research.ToolTimeout

	c.Report.Attempts = s.Research.ReportAttempts
	c.Report.RetryDelay = s.Research.ReportRetryDelay
	c.Report.MinSources = s.Research.MinSources
	c.Report.MaxSources = s.Research.MaxSources
	c.Report.MaxTokens = int(s.LLM.MaxTokens)
	c.Report.Temperature = float32(s.LLM.Temperature)

	c.Store.RetentionSteps = s.Research.RetentionSteps
	return c
}
