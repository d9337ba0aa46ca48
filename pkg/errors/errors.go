// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for tertulia.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies tertulia errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates a raw line input or inputs mapping could not be resolved.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidRoleCount indicates fewer than two chat roles were configured.
	CodeInvalidRoleCount ErrorCode = "INVALID_ROLE_COUNT"

	// CodeMissingHistoryMapping indicates a role binds no input to the
	// conversation history expression.
	CodeMissingHistoryMapping ErrorCode = "MISSING_HISTORY_MAPPING"

	// CodeMultipleHistoryMappings indicates a role binds more than one input
	// to the conversation history expression.
	CodeMultipleHistoryMappings ErrorCode = "MULTIPLE_HISTORY_MAPPINGS"

	// CodeFlowLoadFailed indicates a role's flow definition could not be loaded.
	CodeFlowLoadFailed ErrorCode = "FLOW_LOAD_FAILED"

	// CodeExecutionFailed indicates an executor call failed mid-line.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeDestroyFailed indicates one or more executor handles failed to tear down.
	CodeDestroyFailed ErrorCode = "DESTROY_FAILED"

	// CodeStorageError indicates a run storage or transcript store error.
	CodeStorageError ErrorCode = "STORAGE_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the surrounding context was cancelled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// TertuliaError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type TertuliaError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *TertuliaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *TertuliaError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *TertuliaError) MarshalJSON() ([]byte, error) {
	type Alias TertuliaError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new TertuliaError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *TertuliaError {
	return &TertuliaError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *TertuliaError) WithContext(key string, value interface{}) *TertuliaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *TertuliaError) WithAttribute(key, value string) *TertuliaError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *TertuliaError) WithRecoverable(recoverable bool) *TertuliaError {
	e.Recoverable = recoverable
	return e
}

// AsTertuliaError attempts to convert an error to a TertuliaError.
// Returns the error as TertuliaError if it is one, or wraps it otherwise.
func AsTertuliaError(err error) *TertuliaError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TertuliaError); ok {
		return te
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// IsConfiguration reports whether the error is one raised by pre-flight
// validation. Configuration errors are fatal to the scheduling attempt and
// never retried.
func IsConfiguration(err error) bool {
	te, ok := err.(*TertuliaError)
	if !ok {
		return false
	}
	switch te.Code {
	case CodeInvalidRoleCount, CodeMissingHistoryMapping, CodeMultipleHistoryMappings, CodeFlowLoadFailed:
		return true
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *TertuliaError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
