package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/output"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured LLM providers and whether they are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		cfg := a.config.Get()

		type providerView struct {
			Name      string  `json:"name" yaml:"name"`
			Type      string  `json:"type" yaml:"type"`
			Model     string  `json:"model" yaml:"model"`
			Enabled   bool    `json:"enabled" yaml:"enabled"`
			Ready     bool    `json:"ready" yaml:"ready"`
			Default   bool    `json:"default,omitempty" yaml:"default,omitempty"`
			RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
		}

		names := make([]string, 0, len(cfg.LLMProviders))
		for name := range cfg.LLMProviders {
			names = append(names, name)
		}
		sort.Strings(names)

		views := make([]providerView, 0, len(names))
		for _, name := range names {
			p := cfg.LLMProviders[name]
			views = append(views, providerView{
				Name:      name,
				Type:      p.Type,
				Model:     p.Model,
				Enabled:   p.Enabled,
				Ready:     a.registry.HasLLM(name),
				Default:   name == cfg.Defaults.LLMProvider,
				RateLimit: p.RateLimit,
			})
		}
		return output.Fprint(cmd.OutOrStdout(), views)
	},
}
