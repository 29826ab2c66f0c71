// Package errs defines the structured error type and error taxonomy used
// throughout the storage engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies errors by their nature and appropriate handling strategy.
type Category int

const (
	// CategoryLifecycle represents permanent errors caused by calling an
	// operation in the wrong lifecycle state.
	// Examples: operating on a closing volume, double-open, double-assign.
	// These are reported synchronously and never retried automatically.
	CategoryLifecycle Category = iota

	// CategoryPolicy represents permanent, caller-correctable errors.
	// Examples: writing a read-only volume, truncating a non-reproducible
	// volume, create-only open of an existing volume.
	CategoryPolicy

	// CategoryContention represents transient resource-exhaustion conditions.
	// Example: every buffer slot in the shared cache is claimed. Callers
	// should back off and retry.
	CategoryContention

	// CategoryIdentity represents permanent identity mismatches that indicate
	// a caller or configuration error, such as opening a file that belongs to
	// a different volume.
	CategoryIdentity

	// CategorySystem represents errors requiring administrator intervention.
	// Examples: disk full, I/O failures, missing files.
	CategorySystem
)

// Error codes for the storage engine error taxonomy.
const (
	CodeAlreadyClosing     = "VOLUME_CLOSING"
	CodeIllegalState       = "ILLEGAL_STATE"
	CodeReadOnly           = "READ_ONLY_VOLUME"
	CodeTruncateNotAllowed = "TRUNCATE_NOT_ALLOWED"
	CodeVolumeExists       = "VOLUME_ALREADY_EXISTS"
	CodeVolumeNotFound     = "VOLUME_NOT_FOUND"
	CodeTreeNotFound       = "TREE_NOT_FOUND"
	CodeWrongVolume        = "WRONG_VOLUME"
	CodeNoAvailableBuffer  = "NO_AVAILABLE_BUFFER"
	CodeIO                 = "IO_FAILURE"
)

// StoreError represents a structured storage-engine error with context
// information for logging and handling decisions.
type StoreError struct {
	// Code is a unique identifier for this error type (e.g., "VOLUME_CLOSING").
	Code string

	// Category classifies the error for appropriate handling strategy.
	Category Category

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific error instance,
	// such as the volume name or backing-store path involved.
	Detail string

	// Operation identifies the operation that was being performed,
	// e.g. "Open", "Close", "Fetch".
	Operation string

	// Cause is the underlying error, if any. Enables error chaining.
	Cause error
}

// Error implements the standard Go error interface.
//
// The format follows the pattern:
// [CODE] Message: Detail (operation: Operation) caused by: underlying error
func (e *StoreError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s)", e.Operation))
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error, enabling error chain traversal
// with errors.Is and errors.As.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// New creates a new StoreError with the specified category, code, and message.
func New(category Category, code, message string) *StoreError {
	return &StoreError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetail returns the error with its Detail field set.
func (e *StoreError) WithDetail(format string, args ...any) *StoreError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithOperation returns the error with its Operation field set.
func (e *StoreError) WithOperation(op string) *StoreError {
	e.Operation = op
	return e
}

// Wrap wraps an existing error with storage-engine context. If err is already
// a StoreError it is enriched with the operation (when unset) rather than
// re-wrapped.
func Wrap(err error, operation string) error {
	if err == nil {
		return nil
	}

	var se *StoreError
	if errors.As(err, &se) {
		if se.Operation == "" {
			se.Operation = operation
		}
		return err
	}

	return &StoreError{
		Code:      CodeIO,
		Category:  CategorySystem,
		Message:   "storage operation failed",
		Operation: operation,
		Cause:     err,
	}
}

// CodeOf returns the error code of err, or "" if err carries no StoreError.
func CodeOf(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// CategoryOf returns the category of err. Errors that carry no StoreError
// are classified as CategorySystem.
func CategoryOf(err error) Category {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category
	}
	return CategorySystem
}
