package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		BindAddr: "127.0.0.1",
		Port:     "8090",
		Env:      "local",
		Resolution: ResolutionConfig{
			MatchThreshold:    0.75,
			AbbreviationScore: 0.95,
			PhoneticScore:     0.78,
			AmbiguityMargin:   0.05,
			CorrectionFloor:   0.6,
			ContextWindow:     3,
			DefaultRowLimit:   20,
		},
		Cache:       CacheConfig{TTLMinutes: 60, MaxEntries: 2048},
		Suggestions: SuggestionConfig{MaxSuggestions: 8, LLMMinChars: 3},
	}
}

func TestValidate(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero threshold", mutate: func(c *Config) { c.Resolution.MatchThreshold = 0 }},
		{name: "threshold above one", mutate: func(c *Config) { c.Resolution.MatchThreshold = 1.5 }},
		{name: "negative margin", mutate: func(c *Config) { c.Resolution.AmbiguityMargin = -0.1 }},
		{name: "margin of one", mutate: func(c *Config) { c.Resolution.AmbiguityMargin = 1 }},
		{name: "correction floor of one", mutate: func(c *Config) { c.Resolution.CorrectionFloor = 1 }},
		{name: "negative context window", mutate: func(c *Config) { c.Resolution.ContextWindow = -1 }},
		{name: "zero row limit", mutate: func(c *Config) { c.Resolution.DefaultRowLimit = 0 }},
		{name: "zero cache ttl", mutate: func(c *Config) { c.Cache.TTLMinutes = 0 }},
		{name: "zero cache size", mutate: func(c *Config) { c.Cache.MaxEntries = 0 }},
		{name: "zero max suggestions", mutate: func(c *Config) { c.Suggestions.MaxSuggestions = 0 }},
		{name: "unknown llm provider", mutate: func(c *Config) { c.LLM.Provider = "bedrock" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.8")
	t.Setenv("CACHE_TTL_MINUTES", "15")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load("1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, 0.8, cfg.Resolution.MatchThreshold)
	assert.Equal(t, 15, cfg.Cache.TTLMinutes)
	assert.True(t, cfg.LLM.IsAvailable())
	assert.Equal(t, "test-key", cfg.LLM.APIKey)

	// Untouched fields keep their defaults.
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 0.05, cfg.Resolution.AmbiguityMargin)
}

func TestLLMIsAvailable(t *testing.T) {
	assert.False(t, (&LLMConfig{}).IsAvailable())
	assert.False(t, (&LLMConfig{Provider: "openai"}).IsAvailable())
	assert.True(t, (&LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}).IsAvailable())
}
