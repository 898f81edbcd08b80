// Package model provides domain types shared across packages.
package model

import (
	"strings"
	"time"
)

// ContentType classifies a cached artifact.
type ContentType string

const (
	ContentWebpage    ContentType = "webpage"
	ContentStructured ContentType = "structured_data"
	ContentText       ContentType = "text"
)

// ResearchMode selects the weighting tables used during report assembly.
type ResearchMode string

const (
	ModeStandard   ResearchMode = "standard"
	ModeAcademic   ResearchMode = "academic"
	ModeBusiness   ResearchMode = "business"
	ModeTechnical  ResearchMode = "technical"
	ModeDeep       ResearchMode = "deep"
	ModeDataMining ResearchMode = "data_mining"
)

// ParseResearchMode maps free-form input onto a known mode.
// Unknown values fall back to ModeStandard.
func ParseResearchMode(s string) ResearchMode {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "academic":
		return ModeAcademic
	case "business":
		return ModeBusiness
	case "technical":
		return ModeTechnical
	case "deep":
		return ModeDeep
	case "data_mining", "datamining":
		return ModeDataMining
	default:
		return ModeStandard
	}
}

// Source is a citable reference collected by a tool.
// OriginGroup names the artifact that produced it (e.g. "step_3").
type Source struct {
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Description  string    `json:"description,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
	OriginGroup  string    `json:"origin_group,omitempty"`
	UsedInReport bool      `json:"used_in_report"`
}

// Action is the tool call a step performed.
type Action struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Thought    string         `json:"thought,omitempty"`
}

// Step is one entry of the append-only step history.
// Its 1-based position in the history is the join key into the cache.
type Step struct {
	Action      Action `json:"action"`
	Observation string `json:"observation"`
	Success     bool   `json:"success"`
	KeyFinding  string `json:"key_finding,omitempty"`
}

// TokenUsage tracks token consumption of model calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// PlanStep is one sub-question of the research plan.
type PlanStep struct {
	Question string `json:"question"`
	Status   string `json:"status,omitempty"`
}
