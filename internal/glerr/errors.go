// Package glerr provides the unified error taxonomy shared by the runtime
// and the engine, grounded on the teacher's infrastructure/errors package.
package glerr

import (
	"errors"
	"fmt"
)

// Code identifies a kind in the error taxonomy from spec.md §7. Unlike the
// teacher's HTTP-status-carrying ErrorCode, these codes carry no transport
// concern; they exist purely to let the harness and engine classify a
// failure without string-matching messages.
type Code string

const (
	CodeMissingRequired  Code = "missing_required"
	CodeValidationFailed Code = "validation_failed"
	CodeFailedAssertion  Code = "failed_assertion"
	CodeSchemaError      Code = "schema_error"
	CodeSchemaFatal      Code = "schema_fatal"
	CodeStepTimeout      Code = "step_timeout"
	CodeFixtureMisuse    Code = "fixture_misuse"
	CodeProcessTimeout   Code = "process_timeout"
	CodeProcessOOM       Code = "process_oom"
	CodeProcessTerminated Code = "process_terminated"
	CodeMalformedEvent   Code = "malformed_event"
	CodeSkip             Code = "skip"
	CodeFail             Code = "fail"
)

// Error is a structured, classifiable error carrying one taxonomy Code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, glerr.New(code, "")) to match on Code alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New builds a new classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a new classified error that chains an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// SkipSignal is the sentinel raised by ctx.skip(reason) to unwind the test
// body without being treated as an ordinary failure.
type SkipSignal struct {
	Reason string
}

func (s *SkipSignal) Error() string {
	if s.Reason == "" {
		return "test skipped"
	}
	return "test skipped: " + s.Reason
}

// FailSignal is the sentinel raised by ctx.fail(message) and by fatal
// schema violations. It is the only other control-flow-breaking failure
// besides a thrown error or a step timeout.
type FailSignal struct {
	Message string
}

func (s *FailSignal) Error() string { return s.Message }

// AsSkip reports whether err (or something it wraps) is a SkipSignal.
func AsSkip(err error) (*SkipSignal, bool) {
	var s *SkipSignal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// AsFail reports whether err (or something it wraps) is a FailSignal.
func AsFail(err error) (*FailSignal, bool) {
	var f *FailSignal
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
