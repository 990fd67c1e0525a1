package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows live tests to use the same configuration pattern as production.
type TestConfig struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	GeminiAPIKey     string
	AnthropicAPIKey  string
}

// LoadTestConfig loads provider API keys from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
	}
}

// HasAnyLLM returns true if any live provider is configured.
func (c TestConfig) HasAnyLLM() bool {
	return c.OpenRouterAPIKey != "" || c.OpenAIAPIKey != "" ||
		c.GeminiAPIKey != "" || c.AnthropicAPIKey != ""
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that have API keys configured.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{LLMProviders: make(map[string]LLMProviderConfig)}

	add := func(name, key string) {
		if key == "" {
			return
		}
		cfg.LLMProviders[name] = LLMProviderConfig{
			Type:      name,
			APIKey:    key,
			RateLimit: 1,
			Enabled:   true,
		}
	}
	add(OpenRouterName, c.OpenRouterAPIKey)
	add(OpenAIName, c.OpenAIAPIKey)
	add(GeminiName, c.GeminiAPIKey)
	add(AnthropicName, c.AnthropicAPIKey)
	return cfg
}
