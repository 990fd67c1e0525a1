package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/llmcall"
	"github.com/jackzampolin/reask/internal/metrics"
	"github.com/jackzampolin/reask/internal/output"
)

var (
	callsSession    string
	callsDefinition string
	callsProvider   string
	callsSince      time.Duration
	callsFailed     bool
	callsSucceeded  bool
	callsLimit      int
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect recorded extraction attempts",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded calls, newest first",
	Long: `List recorded calls, newest first.

Examples:
  reask calls list --session 0b6f...           # one session, every attempt
  reask calls list --definition patient --failed
  reask calls list --since 1h -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		filter, err := callsFilter()
		if err != nil {
			return err
		}

		calls, err := store.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return output.Fprint(cmd.OutOrStdout(), calls)
	},
}

var callsShowCmd = &cobra.Command{
	Use:   "show <call-id>",
	Short: "Show one recorded call with its full prompt and response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		call, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if call == nil {
			return fmt.Errorf("call %s not found", args[0])
		}
		return output.Fprint(cmd.OutOrStdout(), call)
	},
}

var callsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded calls: latency, tokens, reask outcomes",
	Long: `Summarize recorded calls and the sessions they belong to.

Accepts the same filters as "calls list"; --limit is ignored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		filter, err := callsFilter()
		if err != nil {
			return err
		}
		report, err := metrics.NewQuery(store).GetReport(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return output.Fprint(cmd.OutOrStdout(), report)
	},
}

func callsFilter() (llmcall.QueryFilter, error) {
	filter := llmcall.QueryFilter{
		SessionID:  callsSession,
		Definition: callsDefinition,
		Provider:   callsProvider,
		Limit:      callsLimit,
	}
	if callsSince > 0 {
		after := time.Now().Add(-callsSince)
		filter.After = &after
	}
	switch {
	case callsFailed && callsSucceeded:
		return filter, fmt.Errorf("--failed and --succeeded are mutually exclusive")
	case callsFailed:
		ok := false
		filter.Success = &ok
	case callsSucceeded:
		ok := true
		filter.Success = &ok
	}
	return filter, nil
}

// openCallStore opens the call database without creating it.
func openCallStore() (*llmcall.Store, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	path := a.home.CallsDBPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no recorded calls at %s (run an extraction first)", path)
	}
	return llmcall.Open(path)
}

func addCallsFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&callsSession, "session", "", "filter by session ID")
	cmd.Flags().StringVar(&callsDefinition, "definition", "", "filter by definition name")
	cmd.Flags().StringVar(&callsProvider, "provider", "", "filter by provider")
	cmd.Flags().DurationVar(&callsSince, "since", 0, "only calls newer than this duration")
	cmd.Flags().BoolVar(&callsFailed, "failed", false, "only attempts that failed validation")
	cmd.Flags().BoolVar(&callsSucceeded, "succeeded", false, "only attempts that passed validation")
}

func init() {
	addCallsFilterFlags(callsListCmd)
	addCallsFilterFlags(callsStatsCmd)
	callsListCmd.Flags().IntVar(&callsLimit, "limit", 50, "maximum calls to list")

	callsCmd.AddCommand(callsListCmd)
	callsCmd.AddCommand(callsShowCmd)
	callsCmd.AddCommand(callsStatsCmd)
}
