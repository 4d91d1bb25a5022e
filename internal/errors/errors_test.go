package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrTypeValidation, "test error message")

	assert.Equal(t, ErrTypeValidation, err.Type)
	assert.Equal(t, "test error message", err.Message)
	assert.NoError(t, err.Cause)
	assert.False(t, err.Retryable)
}

func TestWrapf(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrapf(originalErr, ErrTypeNetwork, "failed to connect to %s:%d", "localhost", 8080)

	assert.Equal(t, ErrTypeNetwork, wrappedErr.Type)
	assert.Equal(t, "failed to connect to localhost:8080", wrappedErr.Message)
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(ErrTypeValidation, "invalid input"),
			expected: "validation: invalid input",
		},
		{
			name:     "error with cause",
			err:      Wrap(errors.New("connection timeout"), ErrTypeDatabase, "query failed"),
			expected: "database: query failed (caused by: connection timeout)",
		},
		{
			name:     "execution error with reason",
			err:      NewExecutionError(ReasonCostCeiling, nil, "estimate too large"),
			expected: "execution(cost_ceiling): estimate too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIsTypeThroughWrapping(t *testing.T) {
	structErr := NewRetrievalError(errors.New("timeout"), "embedding failed")
	wrapped := fmt.Errorf("ask: %w", structErr)

	assert.True(t, IsType(wrapped, ErrTypeRetrieval))
	assert.False(t, IsType(wrapped, ErrTypeExecution))
	assert.False(t, IsType(errors.New("plain"), ErrTypeRetrieval))
	assert.Equal(t, ErrTypeRetrieval, GetType(wrapped))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
}

func TestExecutionReasons(t *testing.T) {
	tests := []struct {
		reason    ExecutionReason
		retryable bool
	}{
		{ReasonCostCeiling, false},
		{ReasonRejected, false},
		{ReasonTransient, true},
		{ReasonTimeout, false},
		{ReasonBlocked, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			err := NewExecutionError(tt.reason, errors.New("boom"), "failed")
			wrapped := Wrap(err, ErrTypeInternal, "pipeline step failed")

			assert.Equal(t, tt.reason, GetReason(wrapped))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
		})
	}
}

func TestGetReasonWithoutReason(t *testing.T) {
	assert.Equal(t, ReasonNone, GetReason(New(ErrTypeDatabase, "x")))
	assert.Equal(t, ReasonNone, GetReason(errors.New("plain")))
	assert.Equal(t, ReasonNone, GetReason(nil))
}

func TestGenerationErrorIsRetryable(t *testing.T) {
	err := NewGenerationError(nil, "no fenced SQL block in response")

	assert.Equal(t, ErrTypeGeneration, err.Type)
	assert.True(t, IsRetryable(err))
}

func TestBudgetExceededError(t *testing.T) {
	err := NewBudgetExceededError(900, 500)

	assert.Equal(t, ErrTypeBudgetExceeded, err.Type)
	assert.Contains(t, err.Message, "900")
	assert.Contains(t, err.Message, "500")
	assert.NotEmpty(t, err.Suggestions)
}

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("invalid value", "log_level")

	assert.Equal(t, ErrTypeConfig, err.Type)
	assert.Contains(t, err.Message, "log_level")
	assert.Contains(t, err.Suggestions, "Check your configuration file syntax")

	bare := NewConfigError("failed to load", "")
	assert.Equal(t, "failed to load", bare.Message)
}
