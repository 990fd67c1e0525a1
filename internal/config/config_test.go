package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Defaults.LLMProvider != "openrouter" {
		t.Errorf("LLMProvider = %q, want openrouter", cfg.Defaults.LLMProvider)
	}
	if cfg.LLMProviders["openrouter"].APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if cfg.Defaults.MaxReasks != 2 {
		t.Errorf("MaxReasks = %d, want 2", cfg.Defaults.MaxReasks)
	}
	if cfg.Defaults.Timeout() != 60*time.Second {
		t.Errorf("Timeout() = %v, want 60s", cfg.Defaults.Timeout())
	}
	if _, ok := cfg.EnabledLLMProviders()["local"]; ok {
		t.Error("local provider should be disabled by default")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")

	cfg := &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:           "openrouter",
				APIKey:         "${TEST_OPENROUTER_KEY}",
				TimeoutSeconds: 30,
				RateLimit:      2,
				Enabled:        true,
			},
			"mock": {
				Type:      "mock",
				Responses: []string{`{"value": 1}`},
				Enabled:   true,
			},
		},
	}

	regCfg := cfg.ToProviderRegistryConfig()
	or := regCfg.LLMProviders["openrouter"]
	if or.APIKey != "or-key-123" {
		t.Errorf("APIKey = %q, want or-key-123", or.APIKey)
	}
	if or.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", or.Timeout)
	}
	if len(regCfg.LLMProviders["mock"].Responses) != 1 {
		t.Error("mock responses should carry over")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
llm_providers:
  local:
    type: openai-compat
    model: qwen2.5
    base_url: http://localhost:8000/v1
    enabled: true
defaults:
  llm_provider: local
  max_reasks: 4
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Defaults.LLMProvider != "local" {
			t.Errorf("LLMProvider = %q, want local", cfg.Defaults.LLMProvider)
		}
		if cfg.Defaults.MaxReasks != 4 {
			t.Errorf("MaxReasks = %d, want 4", cfg.Defaults.MaxReasks)
		}
		// Unset keys keep their defaults
		if cfg.Defaults.MaxTokens != 1024 {
			t.Errorf("MaxTokens = %d, want default 1024", cfg.Defaults.MaxTokens)
		}
		local, ok := cfg.GetLLMProvider("local")
		if !ok || local.BaseURL != "http://localhost:8000/v1" || local.Model != "qwen2.5" {
			t.Errorf("unexpected local provider: %+v", local)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %q, want %q", mgr.ConfigFile(), configFile)
		}
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("REASK_DEFAULTS_MAX_REASKS", "7")
		configFile := writeConfig(t, "defaults:\n  llm_provider: openai\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Defaults.MaxReasks; got != 7 {
			t.Errorf("MaxReasks = %d, want 7", got)
		}
	})

	t.Run("missing search path falls back to defaults", func(t *testing.T) {
		mgr, err := NewManager("", t.TempDir())
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.Get().Defaults.LLMProvider == "" {
			t.Error("expected default llm provider")
		}
	})

	t.Run("invalid file is an error", func(t *testing.T) {
		configFile := writeConfig(t, "defaults: [unclosed\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for malformed config")
		}
	})
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written default: %v", err)
	}
	cfg := mgr.Get()
	if len(cfg.LLMProviders) != len(DefaultConfig().LLMProviders) {
		t.Errorf("providers = %d, want %d", len(cfg.LLMProviders), len(DefaultConfig().LLMProviders))
	}
	if !cfg.Defaults.RecordCalls {
		t.Error("RecordCalls should round-trip as true")
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "defaults:\n  max_reasks: 1\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "defaults:\n  max_reasks: 1\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Defaults.MaxReasks
			}
			done <- struct{}{}
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "defaults:\n  max_reasks: 1\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Verify initial value
	if got := mgr.Get().Defaults.MaxReasks; got != 1 {
		t.Errorf("initial value mismatch: expected 1, got %d", got)
	}

	// Track callback invocations
	var callbackCount atomic.Int32
	var lastValue atomic.Int64

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(int64(cfg.Defaults.MaxReasks))
	})

	// Start watching
	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	// Update the config file
	if err := os.WriteFile(configFile, []byte("defaults:\n  max_reasks: 5\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lastValue.Load() == 5 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Defaults.MaxReasks; got != 5 {
		t.Errorf("config not updated: expected 5, got %d", got)
	}
	if v := lastValue.Load(); v != 5 {
		t.Errorf("callback received wrong value: expected 5, got %d", v)
	}
}
