package extract

import (
	"context"
	"fmt"
	"time"
)

// Backend is the single capability the workflow needs from a generator.
// A local model and a remote chat API satisfy it equally.
type Backend interface {
	Generate(ctx context.Context, prompt string) (*RawResponse, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (*RawResponse, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, prompt string) (*RawResponse, error) {
	return f(ctx, prompt)
}

// RawResponse is the unstructured output of one backend call.
type RawResponse struct {
	Text             string `json:"text" yaml:"text"`
	PromptTokens     int    `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens" yaml:"completion_tokens"`
	StopReason       string `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	Provider         string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model            string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Value is a decoded, schema-conformant record. Integer fields hold
// int64, float fields float64, string and enum fields string.
type Value map[string]any

// FailureKind classifies a FieldFailure.
type FailureKind string

const (
	FailureDecode     FailureKind = "decode"
	FailureConstraint FailureKind = "constraint"
)

// FieldFailure describes one field that did not pass. Field is empty when
// the payload as a whole could not be decoded.
type FieldFailure struct {
	Field  string      `json:"field,omitempty" yaml:"field,omitempty"`
	Kind   FailureKind `json:"kind" yaml:"kind"`
	Reason string      `json:"reason" yaml:"reason"`
	Policy OnFail      `json:"policy,omitempty" yaml:"policy,omitempty"`
}

func (f FieldFailure) String() string {
	if f.Field == "" {
		return f.Reason
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

// Err returns the failure as an error matching ErrDecode or ErrValidation.
func (f FieldFailure) Err() error {
	if f.Kind == FailureDecode {
		return fmt.Errorf("%w: %s", ErrDecode, f)
	}
	return fmt.Errorf("%w: %s", ErrValidation, f)
}

// Warning records a value that the fix policy corrected in place.
type Warning struct {
	Field    string `json:"field" yaml:"field"`
	Original any    `json:"original" yaml:"original"`
	Fixed    any    `json:"fixed" yaml:"fixed"`
	Message  string `json:"message" yaml:"message"`
}

// ValidationResult is the outcome of decoding and validating one payload.
// Value is set only when Failures is empty.
type ValidationResult struct {
	Value    Value          `json:"value,omitempty" yaml:"value,omitempty"`
	Failures []FieldFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings []Warning      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// OK reports whether the payload conformed to the schema.
func (r ValidationResult) OK() bool { return len(r.Failures) == 0 }

// Err summarizes the failures. Decode failures take precedence.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	for _, f := range r.Failures {
		if f.Kind == FailureDecode {
			return f.Err()
		}
	}
	return r.Failures[0].Err()
}

func (r ValidationResult) needsAbort() bool {
	for _, f := range r.Failures {
		if f.Kind == FailureConstraint && f.Policy == OnFailFail {
			return true
		}
	}
	return false
}

// Attempt is one prompt/response/validation triple within a session.
type Attempt struct {
	SessionID  string           `json:"session_id" yaml:"session_id"`
	Number     int              `json:"number" yaml:"number"`
	Prompt     string           `json:"prompt" yaml:"prompt"`
	Response   RawResponse      `json:"response" yaml:"response"`
	Validation ValidationResult `json:"validation" yaml:"validation"`
	Started    time.Time        `json:"started" yaml:"started"`
	Duration   time.Duration    `json:"duration" yaml:"duration"`
}

// Result is a successful extraction.
type Result struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	Value     Value     `json:"value" yaml:"value"`
	Warnings  []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	RawOutput string    `json:"raw_output" yaml:"raw_output"`
	Attempts  []Attempt `json:"attempts" yaml:"attempts"`
}
