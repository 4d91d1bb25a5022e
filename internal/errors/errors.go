package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeRetrieval      ErrorType = "retrieval"
	ErrTypeBudgetExceeded ErrorType = "budget_exceeded"
	ErrTypeGeneration     ErrorType = "generation"
	ErrTypeExecution      ErrorType = "execution"
	ErrTypeIndex          ErrorType = "index"
	ErrTypeDatabase       ErrorType = "database"
	ErrTypeValidation     ErrorType = "validation"
	ErrTypeNotFound       ErrorType = "not_found"
	ErrTypeConfig         ErrorType = "config"
	ErrTypeNetwork        ErrorType = "network"
	ErrTypeFileSystem     ErrorType = "filesystem"
	ErrTypeInternal       ErrorType = "internal"
)

// ExecutionReason narrows an execution error down to what the warehouse did
type ExecutionReason string

const (
	ReasonNone        ExecutionReason = ""
	ReasonCostCeiling ExecutionReason = "cost_ceiling"
	ReasonRejected    ExecutionReason = "rejected"
	ReasonTransient   ExecutionReason = "transient"
	ReasonTimeout     ExecutionReason = "timeout"
	ReasonBlocked     ExecutionReason = "blocked"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Reason      ExecutionReason
	Message     string
	Cause       error
	Suggestions []string
	Retryable   bool
}

func (e *Error) Error() string {
	kind := string(e.Type)
	if e.Reason != ReasonNone {
		kind = fmt.Sprintf("%s(%s)", e.Type, e.Reason)
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// GetReason returns the execution sub-reason of the outermost structured error
// that carries one.
func GetReason(err error) ExecutionReason {
	for err != nil {
		var structErr *Error
		if !errors.As(err, &structErr) {
			return ReasonNone
		}

		if structErr.Reason != ReasonNone {
			return structErr.Reason
		}

		err = structErr.Cause
	}

	return ReasonNone
}

// IsRetryable reports whether any structured error in the chain is marked retryable
func IsRetryable(err error) bool {
	for err != nil {
		var structErr *Error
		if !errors.As(err, &structErr) {
			return false
		}

		if structErr.Retryable {
			return true
		}

		err = structErr.Cause
	}

	return false
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run 'ragsql config' to see the active configuration")
}

// NewRetrievalError reports that examples could not be retrieved for a question
func NewRetrievalError(cause error, message string) *Error {
	return Wrap(cause, ErrTypeRetrieval, message).
		WithSuggestion("Check that the embedding provider is reachable")
}

// NewBudgetExceededError reports that even the minimal schema excerpt does not fit
func NewBudgetExceededError(required, available int) *Error {
	return Newf(ErrTypeBudgetExceeded,
		"schema context needs %d tokens but only %d are available", required, available).
		WithSuggestion("Raise the context token budget").
		WithSuggestion("Name fewer tables in the question")
}

// NewGenerationError reports that the model produced no usable SQL
func NewGenerationError(cause error, message string) *Error {
	return &Error{
		Type:      ErrTypeGeneration,
		Message:   message,
		Cause:     cause,
		Retryable: true,
	}
}

// NewExecutionError creates an execution error with a sub-reason. Only transient
// failures are retryable.
func NewExecutionError(reason ExecutionReason, cause error, message string) *Error {
	err := &Error{
		Type:      ErrTypeExecution,
		Reason:    reason,
		Message:   message,
		Cause:     cause,
		Retryable: reason == ReasonTransient,
	}

	switch reason {
	case ReasonCostCeiling:
		err.WithSuggestion("Add filters or raise the max bytes billed ceiling")
	case ReasonTimeout:
		err.WithSuggestion("Narrow the query or raise the execution timeout")
	case ReasonBlocked:
		err.WithSuggestion("Only read-only SELECT statements can be executed")
	}

	return err
}
