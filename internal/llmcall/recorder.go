package llmcall

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/reask/internal/extract"
)

// Recorder persists workflow attempts. Recording failures are logged and
// never fail the extraction.
type Recorder struct {
	store  *Store
	opts   RecordOptions
	logger *slog.Logger
}

// NewRecorder creates a new call recorder.
func NewRecorder(store *Store, opts RecordOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, opts: opts, logger: logger}
}

// Record captures one attempt.
func (r *Recorder) Record(ctx context.Context, a extract.Attempt) {
	if r == nil || r.store == nil {
		return // No store configured, skip recording
	}
	call := FromAttempt(a, r.opts)
	// The row is still worth keeping when the caller is cancelling.
	if err := r.store.Insert(context.WithoutCancel(ctx), call); err != nil {
		r.logger.Warn("failed to record call",
			"session", a.SessionID,
			"attempt", a.Number,
			"error", err)
	}
}

// Hook returns the recorder as a workflow attempt hook.
func (r *Recorder) Hook() extract.AttemptHook {
	return r.Record
}
