// Package apperrors defines the coded error taxonomy shared by the turn
// pipeline, its storage and its collaborators.
package apperrors

import (
	"context"
	"errors"
)

// Code is a machine-readable error class.
type Code string

const (
	// CodeValidation marks unknown or missing sessions and malformed input.
	CodeValidation Code = "VALIDATION"
	// CodeGenerationTimeout marks a collaborator call that ran past its deadline.
	CodeGenerationTimeout Code = "GENERATION_TIMEOUT"
	// CodeGenerationFailure marks a collaborator error or exhausted quota.
	CodeGenerationFailure Code = "GENERATION_FAILURE"
	// CodeStorage marks persistence I/O failures.
	CodeStorage Code = "STORAGE"
	// CodeBudgetExceeded marks a spend ceiling being reached. It triggers a
	// fallback and is never fatal on its own.
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"
)

// Sentinels for errors.Is matching by code.
var (
	ErrValidation        = New(CodeValidation, "validation error")
	ErrGenerationTimeout = New(CodeGenerationTimeout, "generation timed out")
	ErrGenerationFailure = New(CodeGenerationFailure, "generation failed")
	ErrStorage           = New(CodeStorage, "storage error")
	ErrBudgetExceeded    = New(CodeBudgetExceeded, "budget exceeded")
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
		Cause:    cause,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Generation classifies a collaborator error: deadline overruns become
// GENERATION_TIMEOUT, anything else GENERATION_FAILURE. Already-coded errors
// pass through unchanged.
func Generation(message string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeGenerationTimeout, message, err)
	}
	return Wrap(CodeGenerationFailure, message, err)
}

// Storage wraps a persistence error. Nil stays nil.
func Storage(message string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) == CodeStorage {
		return err
	}
	return Wrap(CodeStorage, message, err)
}
