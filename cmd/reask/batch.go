package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/batch"
	"github.com/jackzampolin/reask/internal/extract"
	"github.com/jackzampolin/reask/internal/output"
)

var (
	batchGen     genOptions
	batchInput   string
	batchWorkers int
	batchWatch   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <definition>",
	Short: "Run a definition over JSON lines of parameters",
	Long: `Run one extraction per input line. Each line is a JSON object whose
keys are template parameters. Outcomes are printed in input order; failed
items carry an error instead of a value.

With --watch, edits to the config file (provider keys, models, rate
limits) apply to items that have not started yet.

Examples:
  reask batch answer --input questions.jsonl --workers 8 -o json
  cat rows.jsonl | reask batch patient`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		def, err := a.loadDefinition(args[0])
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if batchInput != "" && batchInput != "-" {
			f, err := os.Open(batchInput)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		items, err := batch.ReadItems(in)
		if err != nil {
			return err
		}

		batchGen.resolve(a.config.Get(), cmd.Flags().Changed)

		// Fail fast on a bad provider before fanning out.
		if _, err := a.chatBackend(def, batchGen); err != nil {
			return err
		}

		// The provider is looked up on every call so config reloads apply
		// mid-batch; the cache in front of it is shared by all items.
		dynamic := extract.BackendFunc(func(ctx context.Context, prompt string) (*extract.RawResponse, error) {
			b, err := a.chatBackend(def, batchGen)
			if err != nil {
				return nil, err
			}
			return b.Generate(ctx, prompt)
		})
		backend, err := a.withCache(dynamic, batchGen)
		if err != nil {
			return err
		}

		rec, closeStore, err := a.recorder(def, batchGen)
		if err != nil {
			return err
		}
		defer closeStore()

		if batchWatch {
			a.watchConfig()
		}

		runner := &batch.Runner{
			Workflow: extract.New(
				extract.WithLogger(a.logger),
				extract.WithAttemptHook(rec.Hook()),
			),
			Schema:    def.Schema,
			Template:  def.Prompt,
			MaxReasks: batchGen.maxReasks,
			Backend: func() (extract.Backend, error) {
				return backend, nil
			},
			Workers: batchWorkers,
			Logger:  a.logger,
		}

		a.logger.Info("batch starting", "definition", def.Name, "items", len(items), "workers", batchWorkers)
		outcomes, err := runner.Run(ctx, items)
		if err != nil {
			return err
		}
		if err := output.Fprint(cmd.OutOrStdout(), outcomes); err != nil {
			return err
		}

		var failed int
		for _, o := range outcomes {
			if o.Error != "" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d items failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	addGenFlags(batchCmd, &batchGen)
	batchCmd.Flags().StringVarP(&batchInput, "input", "i", "", "JSON lines file (default: stdin)")
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 4, "concurrent extractions")
	batchCmd.Flags().BoolVar(&batchWatch, "watch", false, "reload provider config while running")
}
