package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidProvider(t *testing.T) {
	settings, err := New("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", settings.LLM.Provider)
	assert.Equal(t, 0.85, settings.Research.DedupThreshold)
	assert.Equal(t, 2, settings.Research.RevisitCeiling)
	assert.Equal(t, 3, settings.Research.ReportAttempts)
	assert.Equal(t, "crawl4ai", settings.Tools.FetchTool)
	assert.Equal(t, "python_sandbox", settings.Tools.CodeTool)
}

func TestNewDefaultsToEnvProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "claude")
	settings, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", settings.LLM.Provider)
}

func TestNewWithAlias(t *testing.T) {
	settings, err := New("google")
	require.NoError(t, err)
	assert.Equal(t, "gemini", settings.LLM.Provider)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("unknown_provider")
	assert.Error(t, err)
}

func TestNewReadsResearchOverrides(t *testing.T) {
	t.Setenv("RESEARCH_REVISIT_CEILING", "3")
	t.Setenv("RESEARCH_REPORT_RETRY_DELAY", "1500ms")
	t.Setenv("RESEARCH_TOOL_TIMEOUT", "10")
	t.Setenv("DEEPSEEK_MODEL", "deepseek-reasoner")

	settings, err := New("deepseek")
	require.NoError(t, err)
	assert.Equal(t, 3, settings.Research.RevisitCeiling)
	assert.Equal(t, 1500*time.Millisecond, settings.Research.ReportRetryDelay)
	assert.Equal(t, 10*time.Second, settings.Research.ToolTimeout)
	assert.Equal(t, "deepseek-reasoner", settings.LLM.Model)
}

func TestNewInvalidValues(t *testing.T) {
	tests := map[string]string{
		"LLM_MAX_TOKENS":              "lots",
		"RESEARCH_DEDUP_THRESHOLD":    "1.5",
		"RESEARCH_REVISIT_CEILING":    "0",
		"RESEARCH_REPORT_RETRY_DELAY": "soon",
		"LOG_DEV":                     "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := New("openai")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestAPIKeyFor(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	key, err := APIKeyFor("gpt")
	require.NoError(t, err)
	assert.Equal(t, "test-key", key)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = APIKeyFor("openai")
	assert.Error(t, err)

	_, err = APIKeyFor("nope")
	assert.Error(t, err)
}

func TestSupportedProviders(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "deepseek", "gemini", "openai"}, SupportedProviders())
}

func TestMustNewPanics(t *testing.T) {
	assert.Panics(t, func() { MustNew("nope") })
}
