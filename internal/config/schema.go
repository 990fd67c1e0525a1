package config

import "time"

// Config holds reask configuration.
// Stored at: {home}/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers" json:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type           string   `mapstructure:"type" yaml:"type" json:"type"`                                          // "openrouter", "openai", "openai-compat", "gemini", "anthropic", "mock"
	Model          string   `mapstructure:"model" yaml:"model" json:"model"`                                       // Default model
	APIKey         string   `mapstructure:"api_key" yaml:"api_key" json:"api_key"`                                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string   `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`          // Endpoint override (required for openai-compat)
	RateLimit      float64  `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`                        // Requests per second (0 = unlimited)
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`         // HTTP timeout
	MaxRetries     int      `mapstructure:"max_retries" yaml:"max_retries,omitempty" json:"max_retries,omitempty"` // Transport retries
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Responses      []string `mapstructure:"responses" yaml:"responses,omitempty" json:"responses,omitempty"` // Scripted responses (mock only)
}

// DefaultsCfg specifies default provider selection and extraction settings.
type DefaultsCfg struct {
	LLMProvider    string  `mapstructure:"llm_provider" yaml:"llm_provider" json:"llm_provider"`          // Default LLM provider
	MaxReasks      int     `mapstructure:"max_reasks" yaml:"max_reasks" json:"max_reasks"`                // Corrective re-prompts after the first call
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`             // Sampling temperature
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`                // Completion budget per call
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"` // Per-call backend timeout
	CacheSize      int     `mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`                // LRU entries (0 = no cache)
	RecordCalls    bool    `mapstructure:"record_calls" yaml:"record_calls" json:"record_calls"`          // Persist every attempt
}

// Timeout returns the per-call backend timeout.
func (d DefaultsCfg) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:           "openrouter",
				Model:          "openai/gpt-4o-mini",
				APIKey:         "${OPENROUTER_API_KEY}",
				RateLimit:      2.5,
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"gemini": {
				Type:           "gemini",
				Model:          "gemini-2.5-flash",
				APIKey:         "${GEMINI_API_KEY}",
				RateLimit:      0.25,
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"anthropic": {
				Type:           "anthropic",
				Model:          "claude-sonnet-4-20250514",
				APIKey:         "${ANTHROPIC_API_KEY}",
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"local": {
				Type:           "openai-compat",
				Model:          "llama3.1",
				BaseURL:        "http://localhost:11434/v1",
				TimeoutSeconds: 300,
				Enabled:        false,
			},
		},
		Defaults: DefaultsCfg{
			LLMProvider:    "openrouter",
			MaxReasks:      2,
			Temperature:    0,
			MaxTokens:      1024,
			TimeoutSeconds: 60,
			CacheSize:      0,
			RecordCalls:    true,
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
