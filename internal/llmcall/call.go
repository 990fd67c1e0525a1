// Package llmcall provides LLM call recording and querying for traceability.
// Every extraction attempt is recorded with its prompt, response, and
// validation outcome.
package llmcall

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/reask/internal/extract"
)

// Call represents one recorded backend call within an extraction session.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Session references
	SessionID string `json:"session_id"`
	Attempt   int    `json:"attempt"`

	// Prompt traceability
	Definition string `json:"definition,omitempty"`
	Prompt     string `json:"prompt"`

	// Model info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response   string `json:"response"`
	StopReason string `json:"stop_reason,omitempty"`

	// Validation outcome
	Success  bool            `json:"success"`
	Failures json.RawMessage `json:"failures,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RecordOptions provides context for recording a call.
type RecordOptions struct {
	// Definition names the extraction definition, if any.
	Definition string

	// Request parameters (pointer to distinguish "not set" from "set to 0")
	Temperature *float64

	// Optional logger for non-fatal serialization warnings.
	Logger *slog.Logger
}

// FromAttempt creates a Call from a workflow attempt.
func FromAttempt(a extract.Attempt, opts RecordOptions) *Call {
	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    a.Started,
		LatencyMs:    int(a.Duration.Milliseconds()),
		SessionID:    a.SessionID,
		Attempt:      a.Number,
		Definition:   opts.Definition,
		Prompt:       a.Prompt,
		Provider:     a.Response.Provider,
		Model:        a.Response.Model,
		Temperature:  opts.Temperature,
		InputTokens:  a.Response.PromptTokens,
		OutputTokens: a.Response.CompletionTokens,
		Response:     a.Response.Text,
		StopReason:   a.Response.StopReason,
		Success:      a.Validation.OK(),
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now()
	}

	if !call.Success {
		if err := a.Validation.Err(); err != nil {
			call.Error = err.Error()
		}
		if data, err := json.Marshal(a.Validation.Failures); err != nil {
			logger := opts.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("failed to serialize failures for call record",
				"error", err,
				"failure_count", len(a.Validation.Failures))
		} else {
			call.Failures = data
		}
	}

	return call
}
