// Package batch runs one extraction definition over many parameter sets.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/reask/internal/extract"
)

// Item is one parameter set, read from one input line.
type Item struct {
	Line   int
	Params map[string]string
}

// Outcome is the result of one item. Error is set when extraction failed.
type Outcome struct {
	Line      int               `json:"line" yaml:"line"`
	SessionID string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Value     extract.Value     `json:"value,omitempty" yaml:"value,omitempty"`
	Warnings  []extract.Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Attempts  int               `json:"attempts" yaml:"attempts"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// ReadItems parses JSON lines, each an object of template parameters.
// Non-string values are passed as their JSON text. Blank lines are skipped.
func ReadItems(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("line %d: expected a JSON object: %w", line, err)
		}
		params := make(map[string]string, len(raw))
		for k, v := range raw {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				params[k] = s
				continue
			}
			params[k] = string(v)
		}
		items = append(items, Item{Line: line, Params: params})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return items, nil
}

// Runner fans items out over a bounded number of workers.
type Runner struct {
	Workflow  *extract.Workflow
	Schema    *extract.Schema
	Template  extract.PromptTemplate
	MaxReasks int

	// Backend is resolved per item so configuration reloads apply to
	// items that have not started yet.
	Backend func() (extract.Backend, error)

	Workers int // default 4
	Logger  *slog.Logger
}

// Run processes every item and returns outcomes in input order. Item
// failures are reported in their Outcome; only cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, items []Item) ([]Outcome, error) {
	if r.Backend == nil {
		return nil, errors.New("batch: backend factory is required")
	}
	wf := r.Workflow
	if wf == nil {
		wf = extract.New()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 4
	}

	outcomes := make([]Outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.runOne(gctx, wf, item)
			if err := gctx.Err(); err != nil {
				return err
			}
			if outcomes[i].Error != "" {
				logger.Warn("batch item failed", "line", item.Line, "error", outcomes[i].Error)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}
	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, wf *extract.Workflow, item Item) Outcome {
	out := Outcome{Line: item.Line}

	backend, err := r.Backend()
	if err != nil {
		out.Error = err.Error()
		return out
	}

	result, err := wf.Run(ctx, extract.Request{
		Schema:    r.Schema,
		Template:  r.Template,
		Params:    item.Params,
		Backend:   backend,
		MaxReasks: r.MaxReasks,
	})
	if err != nil {
		out.Error = err.Error()
		var exhausted *extract.RetriesExhaustedError
		var invalid *extract.ValidationError
		switch {
		case errors.As(err, &exhausted):
			out.Attempts = len(exhausted.Attempts)
		case errors.As(err, &invalid):
			out.Attempts = len(invalid.Attempts)
		}
		return out
	}

	out.SessionID = result.SessionID
	out.Value = result.Value
	out.Warnings = result.Warnings
	out.Attempts = len(result.Attempts)
	return out
}
