package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for insight-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Resolution tuning knobs. The defaults reflect observed production
	// behavior; none of the exact values are load-bearing.
	Resolution ResolutionConfig `yaml:"resolution"`

	// Computation cache settings
	Cache CacheConfig `yaml:"cache"`

	// Suggestion engine settings
	Suggestions SuggestionConfig `yaml:"suggestions"`

	// LLM-assist settings
	LLM LLMConfig `yaml:"llm"`
}

// ResolutionConfig holds fuzzy matching and semantic resolution thresholds.
type ResolutionConfig struct {
	// MatchThreshold is the minimum similarity score for a fuzzy match.
	MatchThreshold float64 `yaml:"match_threshold" env:"MATCH_THRESHOLD" env-default:"0.75"`
	// AbbreviationScore is the fixed score assigned to expansion-table hits.
	AbbreviationScore float64 `yaml:"abbreviation_score" env:"ABBREVIATION_SCORE" env-default:"0.95"`
	// PhoneticScore is the fixed score assigned to phonetic-only matches.
	PhoneticScore float64 `yaml:"phonetic_score" env:"PHONETIC_SCORE" env-default:"0.78"`
	// AmbiguityMargin is the minimum score gap between the top candidate and
	// the runner-up before a binding is considered unambiguous.
	AmbiguityMargin float64 `yaml:"ambiguity_margin" env:"AMBIGUITY_MARGIN" env-default:"0.05"`
	// CorrectionFloor is the lower bound of the corrective band for typo
	// suggestions. The upper bound is exclusive of exact matches.
	CorrectionFloor float64 `yaml:"correction_floor" env:"CORRECTION_FLOOR" env-default:"0.6"`
	// ContextWindow is how many prior questions feed follow-up resolution.
	ContextWindow int `yaml:"context_window" env:"CONTEXT_WINDOW" env-default:"3"`
	// DefaultRowLimit caps result rows when the question requests no limit.
	DefaultRowLimit int `yaml:"default_row_limit" env:"DEFAULT_ROW_LIMIT" env-default:"20"`
}

// CacheConfig holds computation cache settings.
type CacheConfig struct {
	// TTLMinutes is how long a cached generation result stays valid.
	TTLMinutes int `yaml:"ttl_minutes" env:"CACHE_TTL_MINUTES" env-default:"60"`
	// MaxEntries bounds the cache size; least recently used entries are evicted.
	MaxEntries int `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"2048"`
}

// SuggestionConfig holds suggestion engine settings.
type SuggestionConfig struct {
	// MaxSuggestions is the default cap when the caller does not pass one.
	MaxSuggestions int `yaml:"max_suggestions" env:"MAX_SUGGESTIONS" env-default:"8"`
	// LLMMinChars is the minimum partial-input length before the LLM path
	// is considered at all.
	LLMMinChars int `yaml:"llm_min_chars" env:"SUGGESTION_LLM_MIN_CHARS" env-default:"3"`
}

// LLMConfig holds LLM-assist endpoint settings.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" (any
	// OpenAI-compatible endpoint) or "anthropic". Empty disables LLM assist.
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:""`
	BaseURL  string `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	// TimeoutSeconds bounds every external LLM call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"10"`
}

// IsAvailable returns true if an LLM-assist endpoint is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Provider != "" && c.Model != ""
}

// Load reads configuration from config.yaml (if present) and environment
// variables, then validates it. Version is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	r := c.Resolution
	if r.MatchThreshold <= 0 || r.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold must be in (0,1], got %v", r.MatchThreshold)
	}
	if r.AmbiguityMargin < 0 || r.AmbiguityMargin >= 1 {
		return fmt.Errorf("ambiguity_margin must be in [0,1), got %v", r.AmbiguityMargin)
	}
	if r.CorrectionFloor < 0 || r.CorrectionFloor >= 1 {
		return fmt.Errorf("correction_floor must be in [0,1), got %v", r.CorrectionFloor)
	}
	if r.ContextWindow < 0 {
		return fmt.Errorf("context_window must be >= 0, got %d", r.ContextWindow)
	}
	if r.DefaultRowLimit <= 0 {
		return fmt.Errorf("default_row_limit must be > 0, got %d", r.DefaultRowLimit)
	}
	if c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache ttl_minutes must be > 0, got %d", c.Cache.TTLMinutes)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be > 0, got %d", c.Cache.MaxEntries)
	}
	if c.Suggestions.MaxSuggestions <= 0 {
		return fmt.Errorf("max_suggestions must be > 0, got %d", c.Suggestions.MaxSuggestions)
	}
	if c.LLM.Provider != "" && c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("llm provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	return nil
}
