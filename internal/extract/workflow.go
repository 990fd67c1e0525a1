package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Request holds the inputs of one extraction session.
type Request struct {
	Schema    *Schema
	Template  PromptTemplate
	Params    map[string]string
	Backend   Backend
	MaxReasks int
}

func (r Request) check() error {
	if r.Schema == nil || r.Schema.Len() == 0 {
		return schemaError("schema has no fields")
	}
	if r.Template == "" {
		return requestError("prompt template is empty")
	}
	if r.Backend == nil {
		return requestError("backend is required")
	}
	if r.MaxReasks < 0 {
		return requestError("max reasks must be >= 0, got %d", r.MaxReasks)
	}
	return nil
}

// AttemptHook observes every completed attempt, in order.
type AttemptHook func(ctx context.Context, a Attempt)

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithAttemptHook registers a hook called after each attempt.
func WithAttemptHook(hook AttemptHook) Option {
	return func(w *Workflow) {
		if hook != nil {
			w.hooks = append(w.hooks, hook)
		}
	}
}

// WithSessionIDs overrides session ID generation.
func WithSessionIDs(next func() string) Option {
	return func(w *Workflow) {
		if next != nil {
			w.newID = next
		}
	}
}

// Workflow runs extraction sessions. It holds no per-session state and is
// safe for concurrent use; each Run owns its attempt log.
type Workflow struct {
	logger *slog.Logger
	hooks  []AttemptHook
	newID  func() string
}

// New creates a Workflow.
func New(opts ...Option) *Workflow {
	w := &Workflow{
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes a session with a default Workflow.
func Run(ctx context.Context, req Request) (*Result, error) {
	return New().Run(ctx, req)
}

// Run binds the prompt, then generates and validates until the output
// conforms to the schema or the budget of MaxReasks+1 attempts is spent.
func (w *Workflow) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.check(); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	params[OutputInstructionsVar] = req.Schema.OutputInstructions()

	prompt, err := req.Template.Bind(params)
	if err != nil {
		return nil, err
	}

	sessionID := w.newID()
	logger := w.logger.With("session_id", sessionID, "schema", req.Schema.Name())
	budget := req.MaxReasks + 1
	attempts := make([]Attempt, 0, budget)
	current := prompt

	for n := 1; n <= budget; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", err)
		}

		logger.Debug("generating", "attempt", n, "budget", budget)
		started := time.Now()
		resp, err := req.Backend.Generate(ctx, current)
		if err != nil {
			return nil, w.backendError(ctx, n, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", err)
		}
		if resp == nil {
			resp = &RawResponse{}
		}

		validation := req.Schema.Parse(resp.Text)
		attempt := Attempt{
			SessionID:  sessionID,
			Number:     n,
			Prompt:     current,
			Response:   *resp,
			Validation: validation,
			Started:    started,
			Duration:   time.Since(started),
		}
		attempts = append(attempts, attempt)
		for _, hook := range w.hooks {
			hook(ctx, attempt)
		}

		if validation.OK() {
			for _, warn := range validation.Warnings {
				logger.Warn("value fixed", "field", warn.Field, "message", warn.Message)
			}
			logger.Debug("extraction succeeded", "attempts", n)
			return &Result{
				SessionID: sessionID,
				Value:     validation.Value,
				Warnings:  validation.Warnings,
				RawOutput: resp.Text,
				Attempts:  attempts,
			}, nil
		}

		if validation.needsAbort() {
			logger.Info("validation failed with fail policy", "attempt", n, "error", validation.Err())
			return nil, &ValidationError{Failures: validation.Failures, Attempts: attempts}
		}

		if n < budget {
			logger.Info("reasking", "attempt", n, "failures", len(validation.Failures), "error", validation.Err())
			current = reaskPrompt(prompt, resp.Text, validation.Failures)
		}
	}

	last := attempts[len(attempts)-1].Validation
	logger.Info("retries exhausted", "attempts", len(attempts), "error", last.Err())
	return nil, &RetriesExhaustedError{Last: last, Attempts: attempts}
}

// backendError classifies a Generate failure. Caller cancellation wins
// over everything else; a timeout reported while the caller is still
// live becomes a BackendTimeoutError.
func (w *Workflow) backendError(ctx context.Context, attempt int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("extraction cancelled: %w", ctxErr)
	}
	if errors.Is(err, ErrBackendTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &BackendTimeoutError{Attempt: attempt, Err: err}
	}
	return fmt.Errorf("backend generate (attempt %d): %w", attempt, err)
}
