package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/reask/internal/config"
	"github.com/jackzampolin/reask/internal/extract"
	"github.com/jackzampolin/reask/internal/home"
	"github.com/jackzampolin/reask/internal/llmcall"
	"github.com/jackzampolin/reask/internal/providers"
)

// app bundles what most commands need: home layout, config and providers.
type app struct {
	home     *home.Dir
	config   *config.Manager
	registry *providers.Registry
	logger   *slog.Logger
}

func loadApp() (*app, error) {
	logger := slog.Default()

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(logger)

	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	registry.Reload(mgr.Get().ToProviderRegistryConfig())

	return &app{home: h, config: mgr, registry: registry, logger: logger}, nil
}

// watchConfig keeps the provider registry in sync with the config file.
func (a *app) watchConfig() {
	a.config.OnChange(func(cfg *config.Config) {
		a.logger.Info("config changed, reloading providers", "file", a.config.ConfigFile())
		a.registry.Reload(cfg.ToProviderRegistryConfig())
	})
	a.config.WatchConfig()
}

func (a *app) loadDefinition(ref string) (*extract.Definition, error) {
	path, err := a.home.ResolveDefinition(ref)
	if err != nil {
		return nil, err
	}
	return extract.LoadDefinition(path)
}

// genOptions are the per-run generation settings shared by run and batch.
type genOptions struct {
	provider    string
	model       string
	temperature float64
	maxTokens   int
	maxReasks   int
	timeout     time.Duration
	noCache     bool
	noRecord    bool
}

// resolve fills unset options from config defaults. Flags win when set.
func (o *genOptions) resolve(cfg *config.Config, changed func(string) bool) {
	d := cfg.Defaults
	if o.provider == "" {
		o.provider = d.LLMProvider
	}
	if !changed("temperature") {
		o.temperature = d.Temperature
	}
	if !changed("max-tokens") {
		o.maxTokens = d.MaxTokens
	}
	if !changed("max-reasks") {
		o.maxReasks = d.MaxReasks
	}
	if !changed("timeout") {
		o.timeout = d.Timeout()
	}
}

// backendFor builds the extraction backend for def on the named provider,
// behind the response cache when one is configured.
func (a *app) backendFor(def *extract.Definition, opts genOptions) (extract.Backend, error) {
	backend, err := a.chatBackend(def, opts)
	if err != nil {
		return nil, err
	}
	return a.withCache(backend, opts)
}

func (a *app) chatBackend(def *extract.Definition, opts genOptions) (*providers.ChatBackend, error) {
	client, err := a.registry.GetLLM(opts.provider)
	if err != nil {
		return nil, fmt.Errorf("%w (enabled providers: %v)", err, a.registry.ListLLM())
	}

	format, err := providers.JSONSchemaFormat(def.Schema.Name(), def.Schema.JSONSchema())
	if err != nil {
		return nil, err
	}

	temperature := opts.temperature
	return providers.NewBackend(client, providers.BackendOptions{
		Model:          opts.model,
		Instructions:   def.Instructions,
		Temperature:    &temperature,
		MaxTokens:      opts.maxTokens,
		Timeout:        opts.timeout,
		ResponseFormat: format,
		Limiter:        a.registry.Limiter(opts.provider),
	}), nil
}

func (a *app) withCache(backend extract.Backend, opts genOptions) (extract.Backend, error) {
	size := a.config.Get().Defaults.CacheSize
	if size <= 0 || opts.noCache {
		return backend, nil
	}
	cached, err := providers.NewCachedBackend(backend, size)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// recorder opens the call store when recording is enabled. The returned
// close func is always safe to call.
func (a *app) recorder(def *extract.Definition, opts genOptions) (*llmcall.Recorder, func(), error) {
	if opts.noRecord || !a.config.Get().Defaults.RecordCalls {
		return llmcall.NewRecorder(nil, llmcall.RecordOptions{}), func() {}, nil
	}
	if err := a.home.EnsureExists(); err != nil {
		return nil, nil, err
	}
	store, err := llmcall.Open(a.home.CallsDBPath())
	if err != nil {
		return nil, nil, err
	}
	temp := opts.temperature
	rec := llmcall.NewRecorder(store, llmcall.RecordOptions{
		Definition:  def.Name,
		Temperature: &temp,
		Logger:      a.logger,
	})
	return rec, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("failed to close call store", "error", err)
		}
	}, nil
}
