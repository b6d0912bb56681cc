package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrTypeValidation, "test error message")

	assert.Equal(t, ErrTypeValidation, err.Type)
	assert.Equal(t, "test error message", err.Message)
	assert.NoError(t, err.Cause)
}

func TestNewf(t *testing.T) {
	err := Newf(ErrTypeSchemaInvalid, "unknown table %q", "order_items")

	assert.Equal(t, ErrTypeSchemaInvalid, err.Type)
	assert.Equal(t, `unknown table "order_items"`, err.Message)
}

func TestWrapf(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrapf(originalErr, ErrTypeEmbeddingService, "embedding request to %s failed", "openai")

	assert.Equal(t, ErrTypeEmbeddingService, wrappedErr.Type)
	assert.Equal(t, "embedding request to openai failed", wrappedErr.Message)
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
			err:      &Error{Type: ErrTypeContextOverflow, Message: "prompt too large"},
			expected: "context_overflow: prompt too large",
		},
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrTypeDatabase,
				Message: "query failed",
				Cause:   errors.New("connection timeout"),
			},
			expected: "database: query failed (caused by: connection timeout)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWithSuggestionAndDetail(t *testing.T) {
	err := New(ErrTypeSchemaInvalid, "unknown column").
		WithSuggestion("Did you mean customer_id?").
		WithDetail("table", "orders").
		WithDetail("column", "cust_id")

	assert.Equal(t, []string{"Did you mean customer_id?"}, err.Suggestions)
	assert.Equal(t, []string{"column", "table"}, err.DetailKeys())
	assert.Equal(t, "orders", err.Details["table"])
}

func TestIsTypeThroughWrapping(t *testing.T) {
	structErr := New(ErrTypeGenerationEmpty, "no SQL in reply")
	wrapped := fmt.Errorf("attempt 2: %w", structErr)

	assert.True(t, IsType(wrapped, ErrTypeGenerationEmpty))
	assert.False(t, IsType(wrapped, ErrTypeRejected))
	assert.False(t, IsType(errors.New("plain"), ErrTypeGenerationEmpty))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeRejected, GetType(New(ErrTypeRejected, "gave up")))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("regular error")))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected bool
	}{
		{ErrTypeEmbeddingService, true},
		{ErrTypeGenerationService, true},
		{ErrTypeNetwork, true},
		{ErrTypeGenerationEmpty, false},
		{ErrTypeSchemaInvalid, false},
		{ErrTypeRejected, false},
		{ErrTypeEmptyCatalog, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.errType, "x").Retryable())
			assert.Equal(t, tt.expected, IsRetryable(fmt.Errorf("wrapped: %w", New(tt.errType, "x"))))
		})
	}

	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("invalid value", "log_level")

	assert.Equal(t, ErrTypeConfig, err.Type)
	assert.Contains(t, err.Message, "log_level")
	assert.Contains(t, err.Suggestions, "Check your configuration file syntax")

	err = NewConfigError("failed to load", "")
	assert.Equal(t, "failed to load", err.Message)
}

func TestNewEmptyCatalogError(t *testing.T) {
	err := NewEmptyCatalogError("postgres catalog")

	assert.Equal(t, ErrTypeEmptyCatalog, err.Type)
	assert.Equal(t, "no tables found in postgres catalog", err.Message)
	require.Len(t, err.Suggestions, 2)
}

func TestFormatSuggestions(t *testing.T) {
	err := New(ErrTypeConfig, "bad").WithSuggestion("one").WithSuggestion("two")

	assert.Equal(t, "  - one\n  - two\n", FormatSuggestions(err))
	assert.Empty(t, FormatSuggestions(errors.New("plain")))
}

func TestAsReexport(t *testing.T) {
	var target *Error

	assert.True(t, As(fmt.Errorf("x: %w", New(ErrTypeAuth, "denied")), &target))
	assert.Equal(t, ErrTypeAuth, target.Type)
	assert.True(t, Is(target, target))
}
