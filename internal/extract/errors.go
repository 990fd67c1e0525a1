package extract

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrTemplateBinding  = errors.New("template binding failed")
	ErrInvalidSchema    = errors.New("invalid schema")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDecode           = errors.New("decode failed")
	ErrValidation       = errors.New("validation failed")
	ErrBackendTimeout   = errors.New("backend timed out")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// TemplateBindingError reports placeholders that had no parameter.
type TemplateBindingError struct {
	Missing []string
}

func (e *TemplateBindingError) Error() string {
	return fmt.Sprintf("%v: unresolved placeholders: %s", ErrTemplateBinding, strings.Join(e.Missing, ", "))
}

func (e *TemplateBindingError) Is(target error) bool { return target == ErrTemplateBinding }

// ValidationError is returned when a field with the fail policy violates
// its constraint. It aborts the session immediately.
type ValidationError struct {
	Failures []FieldFailure
	Attempts []Attempt
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrValidation, describeFailures(e.Failures))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BackendTimeoutError wraps a backend timeout. No attempt is consumed.
type BackendTimeoutError struct {
	Attempt int
	Err     error
}

func (e *BackendTimeoutError) Error() string {
	return fmt.Sprintf("%v on attempt %d: %v", ErrBackendTimeout, e.Attempt, e.Err)
}

func (e *BackendTimeoutError) Is(target error) bool { return target == ErrBackendTimeout }

func (e *BackendTimeoutError) Unwrap() error { return e.Err }

// RetriesExhaustedError is terminal: every attempt in the budget failed
// validation. Last is the validation result of the final attempt.
type RetriesExhaustedError struct {
	Last     ValidationResult
	Attempts []Attempt
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %s", ErrRetriesExhausted, len(e.Attempts), describeFailures(e.Last.Failures))
}

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

func schemaError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchema, fmt.Sprintf(format, args...))
}

func requestError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func describeFailures(failures []FieldFailure) string {
	if len(failures) == 0 {
		return "no failures"
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "; ")
}
