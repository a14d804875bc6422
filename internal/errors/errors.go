package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// StrataError is the structured error type used at package boundaries.
// It carries enough context for logging, CLI presentation and retry decisions.
type StrataError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_READ").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates the operation can be attempted again unchanged.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *StrataError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// Is matches another StrataError by code, so sentinels like ErrCancelled
// work with errors.Is regardless of message or cause.
func (e *StrataError) Is(target error) bool {
	if t, ok := target.(*StrataError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *StrataError) WithDetail(key, value string) *StrataError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *StrataError) WithSuggestion(suggestion string) *StrataError {
	e.Suggestion = suggestion
	return e
}

// New creates a StrataError. Category, severity and retryability are
// derived from the code.
func New(code string, message string, cause error) *StrataError {
	return &StrataError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a StrataError from an existing error, reusing its message.
func Wrap(code string, err error) *StrataError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels shared across packages. Compare with errors.Is.
var (
	// ErrCancelled reports a cooperative stop. Nothing partial was committed
	// for the unit of work in progress.
	ErrCancelled = New(ErrCodeCancelled, "operation cancelled", nil)

	// ErrWriterBusy reports that another sync or cross-ref rebuild holds the
	// single-writer lock.
	ErrWriterBusy = New(ErrCodeWriterBusy, "another writer holds the index lock", nil).
			WithSuggestion("wait for the running sync or cross-ref rebuild to finish")
)

// Cancelled wraps a context error so it matches ErrCancelled.
func Cancelled(cause error) *StrataError {
	return New(ErrCodeCancelled, "operation cancelled", cause)
}

// IsCancelled reports whether err is a cancellation, either our sentinel or
// a bare context error.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, ErrCancelled) || stderrors.Is(err, context.Canceled)
}

// IsRetryable reports whether any StrataError in the chain is retryable.
func IsRetryable(err error) bool {
	var se *StrataError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether the outermost StrataError in the chain is fatal.
func IsFatal(err error) bool {
	var se *StrataError
	if stderrors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" when err carries none.
func GetCode(err error) string {
	var se *StrataError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category, or "" when err carries none.
func GetCategory(err error) Category {
	var se *StrataError
	if stderrors.As(err, &se) {
		return se.Category
	}
	return ""
}
