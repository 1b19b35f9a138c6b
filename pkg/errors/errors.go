// Package errors provides structured error handling for logsieve.
// Every error carries a severity class that decides whether processing
// aborts, skips the record, or merely records the incident.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Severity ranks errors from informational to process-fatal.
type Severity uint8

const (
	// SeveritySoft marks incidents that are recorded and never interrupt
	// processing (missing field, failed coercion).
	SeveritySoft Severity = iota

	// SeverityMedium marks per-record failures (parse mismatch, script
	// evaluation error). Skipped in resilient mode, fatal in strict mode.
	SeverityMedium

	// SeverityHard marks configuration and script bugs that affect every
	// subsequent record (malformed expression, invalid regex, CLI misuse).
	SeverityHard

	// SeverityFatal marks unrecoverable failures (I/O, internal state).
	SeverityFatal
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeveritySoft:
		return "soft"
	case SeverityMedium:
		return "medium"
	case SeverityHard:
		return "hard"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileOpen   Code = "E101"
	CodeRead       Code = "E102"
	CodeDecompress Code = "E103"
	CodeS3         Code = "E104"
	CodeCheckpoint Code = "E105"

	// Chunking and parsing errors (2xx)
	CodeBadChunkPattern Code = "E201"
	CodeParseFailed     Code = "E202"
	CodeBadTimestamp    Code = "E203"

	// Script errors (3xx)
	CodeScriptCompile Code = "E301"
	CodeScriptEval    Code = "E302"
	CodeBadRegex      Code = "E303"
	CodeStateParallel Code = "E304"
	CodeMissingField  Code = "E305"
	CodeCoercion      Code = "E306"

	// Output errors (4xx)
	CodeWriteFailed Code = "E401"
	CodeSinkFailed  Code = "E402"

	// CLI and system errors (5xx)
	CodeUsage    Code = "E501"
	CodeInternal Code = "E502"
	CodeCanceled Code = "E503"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all logsieve errors.
type Error struct {
	Severity Severity
	Code     Code
	Message  string
	Cause    error
	Context  map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(sev Severity, code Code, message string) *Error {
	return &Error{Severity: sev, Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(sev Severity, code Code, format string, args ...interface{}) *Error {
	return New(sev, code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error. The cause is optional: constructors
// like ParseError and BadRegex pass it through as-is, and a nil cause
// yields a cause-less error rather than nil.
func Wrap(err error, sev Severity, code Code, message string) *Error {
	return &Error{Severity: sev, Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, sev Severity, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, sev, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// Usage creates a CLI misuse error.
func Usage(format string, args ...interface{}) *Error {
	return Newf(SeverityHard, CodeUsage, format, args...)
}

// BadChunkPattern creates a chunker construction error naming the pattern.
func BadChunkPattern(which, pattern string, cause error) *Error {
	return Wrapf(cause, SeverityHard, CodeBadChunkPattern,
		"invalid %s pattern %q", which, pattern)
}

// BadRegex creates a pattern-matching error. The message carries the
// offending pattern so scripts can be debugged from the diagnostic alone.
func BadRegex(pattern string, cause error) *Error {
	return Wrapf(cause, SeverityHard, CodeBadRegex,
		"invalid regex pattern '%s'", pattern)
}

// StateUnavailable creates the parallel-mode StateMap error.
func StateUnavailable(op string) *Error {
	return Newf(SeverityHard, CodeStateParallel,
		"'state' is not available in parallel mode (requires sequential processing): %s", op)
}

// ParseError creates a per-record parse error with location.
func ParseError(format string, line int, cause error) *Error {
	return Wrap(cause, SeverityMedium, CodeParseFailed, "parse error").
		WithContext("format", format).
		WithContext("line", line)
}

// MissingField creates a soft missing-field error.
func MissingField(name string) *Error {
	return Newf(SeveritySoft, CodeMissingField, "missing field %q", name)
}

// --- Error checking utilities ---

// SeverityOf extracts the severity from an error. Unclassified errors are
// treated as Fatal so an unknown failure can never be silently skipped.
func SeverityOf(err error) Severity {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity
	}
	return SeverityFatal
}

// CodeOf extracts the error code from an error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsFatal returns true if the error aborts processing unconditionally.
func IsFatal(err error) bool {
	return SeverityOf(err) == SeverityFatal
}

// Aborts reports whether the error terminates the run given the strict
// setting: Fatal and Hard always do, Medium only in strict mode.
func Aborts(err error, strict bool) bool {
	switch SeverityOf(err) {
	case SeverityFatal, SeverityHard:
		return true
	case SeverityMedium:
		return strict
	default:
		return false
	}
}
