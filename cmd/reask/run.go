package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/extract"
	"github.com/jackzampolin/reask/internal/output"
)

var (
	runGen        genOptions
	runParams     map[string]string
	runParamFiles map[string]string
	runStdinParam string
	runTrace      bool
)

var runCmd = &cobra.Command{
	Use:   "run <definition>",
	Short: "Extract a typed value with an LLM",
	Long: `Bind the definition's prompt, call the provider, and validate the reply.

Out-of-range values are clamped, re-asked, or rejected according to each
field's on_fail policy. The definition may be a file path or the name of a
file in ~/.reask/definitions.

Examples:
  reask run answer -p query="Is 7 prime?"
  reask run patient --param-file notes=visit.txt --provider anthropic
  cat notes.txt | reask run patient --stdin notes -o json`,
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

		params, err := collectParams(cmd.InOrStdin())
		if err != nil {
			return err
		}

		runGen.resolve(a.config.Get(), cmd.Flags().Changed)
		backend, err := a.backendFor(def, runGen)
		if err != nil {
			return err
		}

		rec, closeStore, err := a.recorder(def, runGen)
		if err != nil {
			return err
		}
		defer closeStore()

		wf := extract.New(
			extract.WithLogger(a.logger),
			extract.WithAttemptHook(rec.Hook()),
		)
		result, err := wf.Run(ctx, extract.Request{
			Schema:    def.Schema,
			Template:  def.Prompt,
			Params:    params,
			Backend:   backend,
			MaxReasks: runGen.maxReasks,
		})
		if err != nil {
			if runTrace {
				if attempts := failedAttempts(err); len(attempts) > 0 {
					_ = output.Fprint(cmd.OutOrStdout(), traceView(attempts))
				}
			}
			return err
		}

		out := runOutput{
			SessionID:  result.SessionID,
			Definition: def.Name,
			Provider:   runGen.provider,
			Value:      result.Value,
			Warnings:   result.Warnings,
			RawOutput:  result.RawOutput,
			Attempts:   len(result.Attempts),
		}
		if runTrace {
			out.Trace = traceView(result.Attempts)
		}
		return output.Fprint(cmd.OutOrStdout(), out)
	},
}

type runOutput struct {
	SessionID  string            `json:"session_id" yaml:"session_id"`
	Definition string            `json:"definition" yaml:"definition"`
	Provider   string            `json:"provider" yaml:"provider"`
	Value      extract.Value     `json:"value" yaml:"value"`
	Warnings   []extract.Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	RawOutput  string            `json:"raw_output" yaml:"raw_output"`
	Attempts   int               `json:"attempts" yaml:"attempts"`
	Trace      []attemptView     `json:"trace,omitempty" yaml:"trace,omitempty"`
}

type attemptView struct {
	Number     int                    `json:"number" yaml:"number"`
	Prompt     string                 `json:"prompt" yaml:"prompt"`
	Response   string                 `json:"response" yaml:"response"`
	Model      string                 `json:"model,omitempty" yaml:"model,omitempty"`
	Failures   []extract.FieldFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	DurationMs int64                  `json:"duration_ms" yaml:"duration_ms"`
}

func traceView(attempts []extract.Attempt) []attemptView {
	views := make([]attemptView, 0, len(attempts))
	for _, at := range attempts {
		views = append(views, attemptView{
			Number:     at.Number,
			Prompt:     at.Prompt,
			Response:   at.Response.Text,
			Model:      at.Response.Model,
			Failures:   at.Validation.Failures,
			DurationMs: at.Duration.Milliseconds(),
		})
	}
	return views
}

func failedAttempts(err error) []extract.Attempt {
	var exhausted *extract.RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	var invalid *extract.ValidationError
	if errors.As(err, &invalid) {
		return invalid.Attempts
	}
	return nil
}

// collectParams merges --param, --param-file and --stdin into one map.
func collectParams(stdin io.Reader) (map[string]string, error) {
	params := make(map[string]string, len(runParams)+len(runParamFiles)+1)
	for k, v := range runParams {
		params[k] = v
	}
	for k, path := range runParamFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		params[k] = string(data)
	}
	if runStdinParam != "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		params[runStdinParam] = string(data)
	}
	return params, nil
}

func addGenFlags(cmd *cobra.Command, opts *genOptions) {
	cmd.Flags().StringVar(&opts.provider, "provider", "", "LLM provider name (default from config)")
	cmd.Flags().StringVar(&opts.model, "model", "", "model override (default: provider's model)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "completion token budget per call")
	cmd.Flags().IntVar(&opts.maxReasks, "max-reasks", 0, "corrective re-prompts after the first call")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Duration(0), "per-call backend timeout")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&opts.noRecord, "no-record", false, "do not record attempts to the call database")
}

func init() {
	addGenFlags(runCmd, &runGen)
	runCmd.Flags().StringToStringVarP(&runParams, "param", "p", nil, "template parameter key=value (repeatable)")
	runCmd.Flags().StringToStringVar(&runParamFiles, "param-file", nil, "template parameter read from a file, key=path")
	runCmd.Flags().StringVar(&runStdinParam, "stdin", "", "bind stdin to this template parameter")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "include every attempt in the output")
}
