package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/deepresearch/model"
)

func TestDefaultModes(t *testing.T) {
	m := DefaultModes()

	for _, mode := range []model.ResearchMode{
		model.ModeStandard, model.ModeAcademic, model.ModeBusiness,
		model.ModeTechnical, model.ModeDeep, model.ModeDataMining,
	} {
		p := m.Profile(mode)
		assert.GreaterOrEqual(t, p.CompletionThreshold, 0.30, mode)
		assert.LessOrEqual(t, p.CompletionThreshold, 0.45, mode)
		assert.Len(t, p.StrategyWeights, 4, mode)
	}

	assert.True(t, m.Profile(model.ModeAcademic).Dynamic())
	assert.False(t, m.Profile(model.ModeStandard).Dynamic())
	assert.Contains(t, m.Preference("crawl4ai").Avoid, "full_original")
	assert.Contains(t, m.Preference("python_sandbox").Prefer, "structured_only")
	assert.Empty(t, m.Preference("unknown").Prefer)
}

func TestProfileFallsBackToStandard(t *testing.T) {
	m := DefaultModes()
	assert.Equal(t, m.Profile(model.ModeStandard), m.Profile("poetry"))
}

func TestParseModesValidation(t *testing.T) {
	_, err := ParseModes([]byte("modes:\n  academic:\n    completion_threshold: 0.4\n"))
	assert.Error(t, err, "standard is required")

	_, err = ParseModes([]byte("modes:\n  standard:\n    completion_threshold: 2\n"))
	assert.Error(t, err)

	_, err = ParseModes([]byte("modes: ["))
	assert.Error(t, err)
}

func TestLoadModesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modes:
  standard:
    completion_threshold: 0.5
    strategy_weights: {hybrid: 1}
`), 0o644))

	m, err := LoadModes(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Profile(model.ModeStandard).CompletionThreshold)
	assert.NotNil(t, m.ToolPreferences)

	m, err = LoadModes("")
	require.NoError(t, err)
	assert.Equal(t, 0.35, m.Profile(model.ModeStandard).CompletionThreshold)

	_, err = LoadModes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
