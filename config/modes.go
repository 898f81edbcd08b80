package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/richinex/deepresearch/model"
)

//go:embed modes.yaml
var defaultModes []byte

// ModeProfile is the report configuration of one research mode.
type ModeProfile struct {
	CompletionThreshold float64            `yaml:"completion_threshold"`
	StrategyWeights     map[string]float64 `yaml:"strategy_weights"`
	Sections            []string           `yaml:"sections"`
	Instructions        string             `yaml:"instructions"`
}

// Dynamic reports whether the mode declares a sectioned report structure.
func (p ModeProfile) Dynamic() bool {
	return len(p.Sections) > 0
}

// ToolPreference biases strategy choice for a tool's artifacts.
type ToolPreference struct {
	Prefer []string `yaml:"prefer"`
	Avoid  []string `yaml:"avoid"`
}

// Modes holds every research-mode profile and per-tool preference.
type Modes struct {
	Profiles        map[string]ModeProfile    `yaml:"modes"`
	ToolPreferences map[string]ToolPreference `yaml:"tool_preferences"`
}

// DefaultModes returns the embedded mode tables.
func DefaultModes() *Modes {
	m, err := ParseModes(defaultModes)
	if err != nil {
		panic(fmt.Sprintf("config: embedded modes.yaml: %v", err))
	}
	return m
}

// LoadModes reads mode tables from path. An empty path returns the defaults.
func LoadModes(path string) (*Modes, error) {
	if path == "" {
		return DefaultModes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read modes file: %w", err)
	}
	return ParseModes(data)
}

// ParseModes decodes and validates YAML mode tables.
func ParseModes(data []byte) (*Modes, error) {
	var m Modes
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse modes: %w", err)
	}
	if _, ok := m.Profiles[string(model.ModeStandard)]; !ok {
		return nil, fmt.Errorf("modes must define %q", model.ModeStandard)
	}
	for name, p := range m.Profiles {
		if p.CompletionThreshold <= 0 || p.CompletionThreshold > 1 {
			return nil, fmt.Errorf("mode %q: completion_threshold must be in (0, 1], got %v", name, p.CompletionThreshold)
		}
		for strategy, w := range p.StrategyWeights {
			if w < 0 {
				return nil, fmt.Errorf("mode %q: negative weight for %q", name, strategy)
			}
		}
	}
	if m.ToolPreferences == nil {
		m.ToolPreferences = map[string]ToolPreference{}
	}
	return &m, nil
}

// Profile returns the profile for mode, falling back to standard.
func (m *Modes) Profile(mode model.ResearchMode) ModeProfile {
	if p, ok := m.Profiles[string(mode)]; ok {
		return p
	}
	return m.Profiles[string(model.ModeStandard)]
}

// Preference returns the strategy preference for a tool.
func (m *Modes) Preference(tool string) ToolPreference {
	return m.ToolPreferences[tool]
}
