// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Research ResearchConfig
	Tools    ToolsConfig
	Storage  StorageConfig
	Log      LogConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	MaxTokens   uint32
	Temperature float64
}

// ResearchConfig holds executor and report policy knobs.
type ResearchConfig struct {
	RetentionSteps   int
	DedupThreshold   float64
	RevisitCeiling   int
	RepairAttempts   int // extra attempts after the first repair
	ReportAttempts   int
	ReportRetryDelay time.Duration
	ToolTimeout      time.Duration
	MinSources       int
	MaxSources       int
	ModesFile        string
}

// ToolsConfig locates tool backends and names the special-cased tools.
type ToolsConfig struct {
	ServiceURL     string
	MCPConfig      string
	KnowledgeDir   string
	FetchTool      string
	CrawlTool      string
	CodeTool       string
	CodeAuthorTool string
}

// StorageConfig configures run persistence. An empty DBPath disables it.
type StorageConfig struct {
	DBPath string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string
	Dev   bool
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.0-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider reads LLM_PROVIDER and defaults to deepseek.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = getEnvString("LLM_PROVIDER", "deepseek")
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	s.LLM.Provider = provider
	s.LLM.Model = getEnvString(info.modelEnv, info.defaultModel)
	s.LLM.BaseURL = os.Getenv("LLM_BASE_URL")

	p := &envParser{}
	s.LLM.MaxTokens = p.getUint32("LLM_MAX_TOKENS", 4096)
	s.LLM.Temperature = p.getFloat64("LLM_TEMPERATURE", 0.3)

	s.Research = ResearchConfig{
		RetentionSteps:   p.getInt("RESEARCH_RETENTION_STEPS", 30),
		DedupThreshold:   p.getFloat64("RESEARCH_DEDUP_THRESHOLD", 0.85),
		RevisitCeiling:   p.getInt("RESEARCH_REVISIT_CEILING", 2),
		RepairAttempts:   p.getInt("RESEARCH_REPAIR_ATTEMPTS", 2),
		ReportAttempts:   p.getInt("RESEARCH_REPORT_ATTEMPTS", 3),
		ReportRetryDelay: p.getDuration("RESEARCH_REPORT_RETRY_DELAY", 2*time.Second),
		ToolTimeout:      p.getDuration("RESEARCH_TOOL_TIMEOUT", 90*time.Second),
		MinSources:       p.getInt("RESEARCH_MIN_SOURCES", 6),
		MaxSources:       p.getInt("RESEARCH_MAX_SOURCES", 20),
		ModesFile:        os.Getenv("RESEARCH_MODES_FILE"),
	}

	s.Tools = ToolsConfig{
		ServiceURL:     os.Getenv("TOOL_SERVICE_URL"),
		MCPConfig:      os.Getenv("MCP_CONFIG"),
		KnowledgeDir:   os.Getenv("KNOWLEDGE_DIR"),
		FetchTool:      getEnvString("TOOL_FETCH_NAME", "crawl4ai"),
		CrawlTool:      getEnvString("TOOL_CRAWL_NAME", "crawl4ai"),
		CodeTool:       getEnvString("TOOL_CODE_NAME", "python_sandbox"),
		CodeAuthorTool: getEnvString("TOOL_CODE_AUTHOR_NAME", "code_generator"),
	}

	s.Storage.DBPath = os.Getenv("RESEARCH_DB_PATH")
	s.Log = LogConfig{
		Level: getEnvString("LOG_LEVEL", "info"),
		Dev:   p.getBool("LOG_DEV", false),
	}

	if p.err != nil {
		return Settings{}, p.err
	}
	if err := s.Research.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func (r ResearchConfig) validate() error {
	switch {
	case r.DedupThreshold <= 0 || r.DedupThreshold > 1:
		return fmt.Errorf("RESEARCH_DEDUP_THRESHOLD must be in (0, 1], got %v", r.DedupThreshold)
	case r.RevisitCeiling < 1:
		return fmt.Errorf("RESEARCH_REVISIT_CEILING must be at least 1, got %d", r.RevisitCeiling)
	case r.RetentionSteps < 1:
		return fmt.Errorf("RESEARCH_RETENTION_STEPS must be at least 1, got %d", r.RetentionSteps)
	case r.RepairAttempts < 0:
		return fmt.Errorf("RESEARCH_REPAIR_ATTEMPTS must not be negative, got %d", r.RepairAttempts)
	case r.ReportAttempts < 1:
		return fmt.Errorf("RESEARCH_REPORT_ATTEMPTS must be at least 1, got %d", r.ReportAttempts)
	case r.MinSources > r.MaxSources:
		return fmt.Errorf("RESEARCH_MIN_SOURCES (%d) exceeds RESEARCH_MAX_SOURCES (%d)", r.MinSources, r.MaxSources)
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// envParser collects the first parse error so New reads linearly.
type envParser struct {
	err error
}

func (p *envParser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
}

func (p *envParser) getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return i
}

func (p *envParser) getUint32(key string, defaultVal uint32) uint32 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return uint32(i)
}

func (p *envParser) getFloat64(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return f
}

func (p *envParser) getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return b
}

// getDuration accepts Go duration strings ("1500ms") or whole seconds ("2").
func (p *envParser) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return d
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
